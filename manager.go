package seqcache

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skipor/seqcache/cache"
	"github.com/skipor/seqcache/log"
	"github.com/skipor/seqcache/resource"
)

type Config struct {
	// MemoryLimit is soft limit of cached buffers memory of all scenes. Zero means no limit.
	MemoryLimit int64
	// Resources replaces controller created from MemoryLimit.
	// Pass it to share memory budget and render workers with pipeline.
	Resources *resource.Controller
}

// fullWarnInterval limits "cache is full" warnings rate.
const fullWarnInterval = 5 * time.Second

// Manager owns frame cache stores of scenes.
// Store of scene is created on first put and lives until Destroy.
type Manager struct {
	log      log.Logger
	res      *resource.Controller
	fullWarn *rate.Limiter

	mu     sync.RWMutex
	stores map[cache.SceneID]*cache.Store
}

func NewManager(l log.Logger, conf Config) *Manager {
	res := conf.Resources
	if res == nil {
		res = resource.NewController(resource.Config{MemoryLimitBytes: conf.MemoryLimit})
	}
	return &Manager{
		log:      l,
		res:      res,
		fullWarn: rate.NewLimiter(rate.Every(fullWarnInterval), 1),
		stores:   make(map[cache.SceneID]*cache.Store),
	}
}

// StoreFor returns store of scene, creating it if needed.
func (m *Manager) StoreFor(scene cache.SceneID) *cache.Store {
	if s := m.store(scene); s != nil {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[scene]; ok {
		return s
	}
	m.log.Debugf("Create store of scene %v.", scene)
	s := cache.NewStore(m.log.WithFields(log.Fields{"scene": scene}), cache.Config{Resources: m.res})
	m.stores[scene] = s
	return s
}

// store returns store of scene or nil.
func (m *Manager) store(scene cache.SceneID) *cache.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stores[scene]
}

// Destroy drops all entries of scene and forgets its store.
// Scene should not be rendered concurrently.
func (m *Manager) Destroy(scene cache.SceneID) {
	m.mu.Lock()
	s, ok := m.stores[scene]
	delete(m.stores, scene)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.log.Debugf("Destroy store of scene %v.", scene)
	s.Destruct()
}

// Close destroys all scenes.
func (m *Manager) Close() {
	for _, scene := range m.Scenes() {
		m.Destroy(scene)
	}
}

// Scenes returns sorted ids of scenes that have store.
func (m *Manager) Scenes() []cache.SceneID {
	m.mu.RLock()
	scenes := make([]cache.SceneID, 0, len(m.stores))
	for scene := range m.stores {
		scenes = append(scenes, scene)
	}
	m.mu.RUnlock()
	sort.Slice(scenes, func(i, j int) bool { return scenes[i] < scenes[j] })
	return scenes
}

// IsFull reports that cached buffers of all scenes exceed memory limit.
func (m *Manager) IsFull() bool { return m.res.Full() }

func (m *Manager) Resources() *resource.Controller { return m.res }

func (m *Manager) Get(ctx cache.RenderContext, strip cache.Strip, timelineFrame float64, stage cache.Stage) (cache.Buffer, bool) {
	s := m.store(ctx.Scene)
	if s == nil {
		return nil, false
	}
	return s.Get(ctx, strip, timelineFrame, stage)
}

func (m *Manager) GetTemp(ctx cache.RenderContext, strip cache.Strip, timelineFrame float64, stage cache.Stage, task cache.TaskID) (cache.Buffer, bool) {
	s := m.store(ctx.Scene)
	if s == nil {
		return nil, false
	}
	return s.GetTemp(ctx, strip, timelineFrame, stage, task)
}

func (m *Manager) Put(ctx cache.RenderContext, strip cache.Strip, timelineFrame float64, stage cache.Stage, buf cache.Buffer, opts cache.PutOptions) {
	m.StoreFor(ctx.Scene).Put(ctx, strip, timelineFrame, stage, buf, opts)
	m.warnIfFull()
}

func (m *Manager) PutIfPossible(ctx cache.RenderContext, strip cache.Strip, timelineFrame float64, stage cache.Stage, buf cache.Buffer, opts cache.PutOptions) bool {
	return m.StoreFor(ctx.Scene).PutIfPossible(ctx, strip, timelineFrame, stage, buf, opts)
}

// Link chains intermediate to final in their scene store.
// Keys of different scenes are never linked.
func (m *Manager) Link(final, intermediate cache.Key) bool {
	if final.Context.Scene != intermediate.Context.Scene {
		return false
	}
	s := m.store(final.Context.Scene)
	if s == nil {
		return false
	}
	return s.Link(final, intermediate)
}

func (m *Manager) Recycle(scene cache.SceneID) bool {
	s := m.store(scene)
	if s == nil {
		return false
	}
	return s.Recycle()
}

// RecycleToFit recycles scene entries until memory budget fits.
// Returns false if budget is still full.
func (m *Manager) RecycleToFit(scene cache.SceneID) bool {
	s := m.store(scene)
	if s == nil {
		return !m.res.Full()
	}
	return s.RecycleToFit()
}

func (m *Manager) FreeTempCache(scene cache.SceneID, task cache.TaskID, boundary float64) {
	if s := m.store(scene); s != nil {
		s.FreeTempCache(task, boundary)
	}
}

func (m *Manager) CleanupStrip(scene cache.SceneID, strip cache.Strip, replacement cache.Strip, mask cache.StageMask, forceFullRange bool) {
	if s := m.store(scene); s != nil {
		s.CleanupStrip(strip, replacement, mask, forceFullRange)
	}
}

func (m *Manager) warnIfFull() {
	if m.res.Full() && m.fullWarn.Allow() {
		m.log.Warnf("Frame cache is full: %v bytes used of %v, and nothing left to recycle.",
			m.res.MemoryUsage(), m.res.MemoryLimit())
	}
}
