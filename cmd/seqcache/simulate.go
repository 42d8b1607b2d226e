package main

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/skipor/seqcache"
	"github.com/skipor/seqcache/cache"
	"github.com/skipor/seqcache/cmd/seqcache/config"
	"github.com/skipor/seqcache/imbuf"
	"github.com/skipor/seqcache/log"
	"github.com/skipor/seqcache/resource"
)

const (
	fps = 25.0
	// Every invalidateEvery render job some strip is invalidated.
	invalidateEvery = 64
	pressurePeriod  = 5 * time.Millisecond
)

type simulation struct {
	log  log.Logger
	conf config.Simulation
	res  *resource.Controller
	m    *seqcache.Manager
	pool *imbuf.Pool

	mu      sync.RWMutex
	scenes  [][]cache.LinearStrip // Strips of scene from bottom to top.
	stripID cache.StripID         // Last allocated.

	renders     int64 // Atomic.
	hits        int64 // Atomic.
	invalidated int64
	pressure    int64 // Atomic.
}

func runSimulation(ctx context.Context, l log.Logger, conf config.Simulation, out io.Writer) error {
	l = l.WithFields(log.Fields{"run": uuid.New().String()})
	s := newSimulation(l, conf)
	defer s.m.Close()
	l.Infof("Simulation started: %v scenes, %v strips, %v frames, %v passes, %v workers, %v bytes cache.",
		conf.Scenes, conf.Strips, conf.Frames, conf.Passes, conf.Workers, conf.CacheSize)
	start := time.Now()

	pressureCtx, stopPressure := context.WithCancel(ctx)
	pressureDone := make(chan struct{})
	go func() {
		defer close(pressureDone)
		s.pressureLoop(pressureCtx)
	}()
	err := s.render(ctx)
	stopPressure()
	<-pressureDone
	if err != nil {
		return errors.Wrap(err, "render failed")
	}
	s.report(out, time.Since(start))
	return nil
}

func newSimulation(l log.Logger, conf config.Simulation) *simulation {
	res := resource.NewController(resource.Config{
		MemoryLimitBytes: conf.CacheSize,
		MaxRenderWorkers: int64(conf.Workers),
	})
	s := &simulation{
		log:  l,
		conf: conf,
		res:  res,
		m:    seqcache.NewManager(l, seqcache.Config{Resources: res}),
		pool: imbuf.NewPool(),
	}
	for i := 0; i < conf.Scenes; i++ {
		var strips []cache.LinearStrip
		for j := 0; j < conf.Strips; j++ {
			strips = append(strips, cache.LinearStrip{
				StripID:    s.newStripID(),
				Frames:     cache.FrameRange{Start: 0, End: float64(conf.Frames)},
				MediaStart: float64(j * conf.Frames),
				Speed:      1 / float64(j+1),
			})
		}
		s.scenes = append(s.scenes, strips)
	}
	return s
}

func (s *simulation) newStripID() cache.StripID {
	s.stripID++
	return s.stripID
}

// render runs all render jobs. Every job renders one frame of one scene as separate task.
func (s *simulation) render(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	rnd := rand.New(rand.NewSource(s.conf.Seed))
	perPass := s.conf.Frames * s.conf.Scenes
	total := s.conf.Passes * perPass
	for job := 0; job < total; job++ {
		if err := s.res.AcquireWorker(ctx); err != nil {
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return err
		}
		if job > 0 && job%invalidateEvery == 0 {
			s.invalidate(rnd)
		}
		idx := job % perPass
		scene, frame, task := idx%s.conf.Scenes, idx/s.conf.Scenes, cache.TaskID(job)
		g.Go(func() error {
			defer s.res.ReleaseWorker()
			return s.renderFrame(scene, float64(frame), task)
		})
	}
	return g.Wait()
}

// renderFrame renders final frame the way sequencer does, caching every stage.
func (s *simulation) renderFrame(scene int, frame float64, task cache.TaskID) error {
	s.mu.RLock()
	strips := append([]cache.LinearStrip(nil), s.scenes[scene]...)
	s.mu.RUnlock()
	f := s.conf.Frame
	ctx := cache.RenderContext{
		Scene:             cache.SceneID(scene + 1),
		RectX:             f.Width,
		RectY:             f.Height,
		PreviewRenderSize: 100,
	}
	top := strips[len(strips)-1]
	if buf, ok := s.m.Get(ctx, top, frame, cache.StageFinal); ok {
		atomic.AddInt64(&s.hits, 1)
		buf.Release()
		return nil
	}
	atomic.AddInt64(&s.renders, 1)
	start := time.Now()

	var (
		held          []cache.Buffer
		intermediates []cache.Key
		below         cache.Buffer
	)
	defer func() {
		for _, b := range held {
			b.Release()
		}
	}()
	// source returns cached buffer of stage or renders and caches it from src.
	source := func(strip cache.Strip, stage cache.Stage, src cache.Buffer) cache.Buffer {
		if buf, ok := s.m.Get(ctx, strip, frame, stage); ok {
			held = append(held, buf)
			return buf
		}
		buf := s.produce(stage, frame, src)
		held = append(held, buf)
		if s.m.PutIfPossible(ctx, strip, frame, stage, buf, cache.PutOptions{}) {
			intermediates = append(intermediates, cache.NewKey(ctx, strip, frame, stage))
		}
		return buf
	}
	for i, strip := range strips {
		raw := source(strip, cache.StageRaw, nil)
		pre := source(strip, cache.StagePreprocessed, raw)
		if i == 0 {
			below = pre
			continue
		}
		comp := s.produce(cache.StageComposite, frame, pre, below)
		held = append(held, comp)
		s.m.Put(ctx, strip, frame, cache.StageComposite, comp, cache.PutOptions{Temp: true, Task: task})
		var ok bool
		if below, ok = s.m.GetTemp(ctx, strip, frame, cache.StageComposite, task); !ok {
			return errors.Errorf("temp composite of strip %v frame %v lost", strip.ID(), frame)
		}
		held = append(held, below)
	}
	final := s.produce(cache.StageFinal, frame, below)
	held = append(held, final)
	cost := time.Since(start).Seconds() * fps
	s.m.Put(ctx, top, frame, cache.StageFinal, final, cache.PutOptions{Cost: cost})
	finalKey := cache.NewKey(ctx, top, frame, cache.StageFinal)
	for _, k := range intermediates {
		s.m.Link(finalKey, k)
	}
	s.m.FreeTempCache(ctx.Scene, task, cache.AllFrames)
	return nil
}

// produce allocates buffer of stage reading srcs.
// Returned buffer reference is owned by caller.
func (s *simulation) produce(stage cache.Stage, frame float64, srcs ...cache.Buffer) *imbuf.Buffer {
	for _, src := range srcs {
		if r, ok := src.(io.WriterTo); ok {
			r.WriteTo(ioutil.Discard)
		}
	}
	buf := s.pool.NewBuffer(s.conf.Frame)
	buf.Fill(byte(stage) + byte(frame))
	return buf
}

// invalidate simulates strip edit. Sometimes strip is replaced by retimed copy,
// that takes over its cache.
func (s *simulation) invalidate(rnd *rand.Rand) {
	s.invalidated++
	scene := rnd.Intn(len(s.scenes))
	i := rnd.Intn(s.conf.Strips)
	sceneID := cache.SceneID(scene + 1)
	s.mu.Lock()
	old := s.scenes[scene][i]
	var replacement cache.Strip
	if rnd.Intn(3) == 0 {
		r := old
		r.StripID = s.newStripID()
		s.scenes[scene][i] = r
		replacement = r
	}
	s.mu.Unlock()
	mask := cache.MaskAll
	if rnd.Intn(2) == 0 {
		mask = cache.MaskSources
	}
	s.log.Debugf("Invalidate strip %v of scene %v.", old.ID(), sceneID)
	s.m.CleanupStrip(sceneID, old, replacement, mask, rnd.Intn(4) == 0)
}

// pressureLoop recycles scenes while memory budget is full.
func (s *simulation) pressureLoop(ctx context.Context) {
	t := time.NewTicker(pressurePeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !s.m.IsFull() {
			continue
		}
		atomic.AddInt64(&s.pressure, 1)
		for _, scene := range s.m.Scenes() {
			if s.m.RecycleToFit(scene) {
				break
			}
		}
	}
}

func (s *simulation) report(out io.Writer, elapsed time.Duration) {
	renders, hits := atomic.LoadInt64(&s.renders), atomic.LoadInt64(&s.hits)
	s.log.Infof("Simulation finished in %v: %v renders, %v final hits, %v invalidations, %v pressure rounds.",
		elapsed, renders, hits, s.invalidated, atomic.LoadInt64(&s.pressure))
	fmt.Fprintf(out, "renders: %v\nhits: %v\nmemory: %v/%v\n", renders, hits, s.res.MemoryUsage(), s.res.MemoryLimit())
	for _, scene := range s.m.Scenes() {
		fmt.Fprintf(out, "scene %v:\n", scene)
		metrics.WriteOnce(s.m.StoreFor(scene).Metrics(), out)
	}
}
