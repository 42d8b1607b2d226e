package cache

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/rcrowley/go-metrics"

	"github.com/skipor/seqcache/internal/tag"
	"github.com/skipor/seqcache/log"
	"github.com/skipor/seqcache/resource"
)

// AllFrames passed as FreeTempCache boundary spares no entries.
var AllFrames = math.Inf(-1)

type Config struct {
	// Resources is memory budget entries are charged to. Nil means unlimited budget.
	Resources *resource.Controller
	// Registry for store metrics. Private registry is used, if nil.
	Registry metrics.Registry
}

type PutOptions struct {
	// Temp entry lives until FreeTempCache of its Task and is never recycled.
	Temp bool
	Task TaskID
	// Cost is render time divided by playback frame duration.
	Cost float64
}

// Store is frame cache of one scene.
// All methods are safe for concurrent use.
type Store struct {
	sync.RWMutex
	log   log.Logger
	res   *resource.Controller
	stats *stats

	slab    *slab
	queue   *queue
	table   map[Key]entryID
	byStrip map[StripID]*roaring.Bitmap
	byTask  map[TaskID]*roaring.Bitmap
	bytes   int64

	recycling int32 // Atomic. Number of running RecycleToFit loops.
}

func NewStore(l log.Logger, conf Config) *Store {
	s := &Store{
		log: l,
		res: conf.Resources,
	}
	s.reset()
	s.stats = newStats(conf.Registry, s)
	return s
}

func (s *Store) reset() {
	if s.slab == nil {
		s.slab = newSlab()
		s.queue = newQueue(s.slab)
	} else {
		s.slab.reset()
		s.queue.reset()
	}
	s.table = make(map[Key]entryID)
	s.byStrip = make(map[StripID]*roaring.Bitmap)
	s.byTask = make(map[TaskID]*roaring.Bitmap)
	s.bytes = 0
}

// Get returns cached buffer or false on miss.
// Returned buffer is referenced for caller, that must Release it.
func (s *Store) Get(ctx RenderContext, strip Strip, timelineFrame float64, stage Stage) (Buffer, bool) {
	return s.get(NewKey(ctx, strip, timelineFrame, stage))
}

// GetTemp returns temp buffer put by task. Same as Get otherwise.
func (s *Store) GetTemp(ctx RenderContext, strip Strip, timelineFrame float64, stage Stage, task TaskID) (Buffer, bool) {
	return s.get(NewTempKey(ctx, strip, timelineFrame, stage, task))
}

func (s *Store) get(k Key) (Buffer, bool) {
	s.RLock()
	defer s.RUnlock()
	id, ok := s.table[k]
	if !ok {
		s.stats.misses.Inc(1)
		return nil, false
	}
	s.stats.hits.Inc(1)
	buf := s.slab.at(id).buf
	buf.Ref()
	return buf, true
}

// Put inserts or replaces entry. Store takes own reference of buf.
// When budget is full, base entries are recycled first, but entry is inserted anyway.
func (s *Store) Put(ctx RenderContext, strip Strip, timelineFrame float64, stage Stage, buf Buffer, opts PutOptions) {
	k := putKey(ctx, strip, timelineFrame, stage, opts)
	if size := buf.Size(); !s.res.Fits(size) {
		s.recycleToFit(size)
	}
	s.insert(k, timelineFrame, buf, opts.Cost)
}

// PutIfPossible is Put, that declines insert while store is recycled,
// or if recycling can't free enough memory for buf.
func (s *Store) PutIfPossible(ctx RenderContext, strip Strip, timelineFrame float64, stage Stage, buf Buffer, opts PutOptions) bool {
	k := putKey(ctx, strip, timelineFrame, stage, opts)
	if atomic.LoadInt32(&s.recycling) > 0 {
		s.stats.declined.Inc(1)
		return false
	}
	if size := buf.Size(); !s.res.Fits(size) && !s.recycleToFit(size) {
		s.log.Debugf("Put of %v declined: budget is full.", k)
		s.stats.declined.Inc(1)
		return false
	}
	s.insert(k, timelineFrame, buf, opts.Cost)
	return true
}

func putKey(ctx RenderContext, strip Strip, timelineFrame float64, stage Stage, opts PutOptions) Key {
	if opts.Temp {
		return NewTempKey(ctx, strip, timelineFrame, stage, opts.Task)
	}
	return NewKey(ctx, strip, timelineFrame, stage)
}

func (s *Store) insert(k Key, timelineFrame float64, buf Buffer, cost float64) {
	buf.Ref()
	size := buf.Size()
	var old Buffer
	debug := s.log.Enabled(log.DebugLevel)
	s.Lock()
	s.stats.puts.Inc(1)
	if id, ok := s.table[k]; ok {
		if debug {
			s.log.Debugf("Replace %v.", k)
		}
		s.stats.replaced.Inc(1)
		e := s.slab.at(id)
		old = e.buf
		s.res.ReleaseMemory(e.size)
		s.bytes -= e.size
		e.buf, e.size, e.cost, e.timeline = buf, size, cost, timelineFrame
		if e.queued {
			s.queue.moveToBack(id)
		}
	} else {
		if debug {
			s.log.Debugf("Add %v.", k)
		}
		id = s.slab.alloc()
		e := s.slab.at(id)
		e.key, e.buf, e.size, e.cost, e.timeline = k, buf, size, cost, timelineFrame
		s.table[k] = id
		s.index(id)
		if e.isBase() {
			s.queue.push(id)
		}
	}
	s.res.ChargeMemory(size)
	s.bytes += size
	s.checkInvariants()
	s.Unlock()
	if old != nil {
		old.Release()
	}
}

// Link chains intermediate entry to final entry, so they are recycled together.
// Both entries should exist and be non temp. Final key should be of StageFinal,
// and intermediate should not. Intermediate can belong only to one chain.
// Returns false if nothing was linked.
func (s *Store) Link(final, intermediate Key) bool {
	if final.Stage != StageFinal || intermediate.Stage == StageFinal || final.Temp || intermediate.Temp {
		return false
	}
	s.Lock()
	defer s.Unlock()
	defer s.checkInvariants()
	fid, ok := s.table[final]
	if !ok {
		return false
	}
	iid, ok := s.table[intermediate]
	if !ok {
		return false
	}
	ie := s.slab.at(iid)
	switch ie.owner {
	case fid:
		return true
	case noEntry:
	default:
		return false
	}
	s.queue.remove(iid)
	ie.owner = fid
	fe := s.slab.at(fid)
	fe.chain = append(fe.chain, iid)
	return true
}

// Recycle evicts the cheapest base entry with its chain.
// The oldest entry is evicted among equally cheap ones.
// Returns false, if there is no base entries.
func (s *Store) Recycle() bool {
	var dropped []Buffer
	s.Lock()
	id, ok := s.queue.cheapest()
	if ok {
		dropped = s.evict(id, dropped)
		s.checkInvariants()
	}
	s.Unlock()
	release(dropped)
	return ok
}

// RecycleToFit recycles entries until memory budget is not full.
// PutIfPossible declines inserts while it runs.
// Returns false, if budget is still full, when there is nothing to recycle.
func (s *Store) RecycleToFit() bool {
	return s.recycleToFit(0)
}

func (s *Store) recycleToFit(size int64) bool {
	atomic.AddInt32(&s.recycling, 1)
	defer atomic.AddInt32(&s.recycling, -1)
	defer s.stats.recycle.UpdateSince(time.Now())
	for !s.res.Fits(size) {
		if !s.Recycle() {
			return false
		}
	}
	return true
}

// FreeTempCache removes temp entries of task. Entries rendered for boundary
// timeline frame are spared. AllFrames boundary spares nothing.
func (s *Store) FreeTempCache(task TaskID, boundary float64) {
	var dropped []Buffer
	s.Lock()
	if ids, ok := s.byTask[task]; ok {
		var freed int64
		for _, id := range ids.ToArray() {
			if s.slab.at(entryID(id)).timeline == boundary {
				continue
			}
			dropped = s.drop(entryID(id), dropped)
			freed++
		}
		s.stats.tempFreed.Inc(freed)
		s.log.Debugf("Task %v: %v temp entries freed.", task, freed)
		s.checkInvariants()
	}
	s.Unlock()
	release(dropped)
}

// CleanupStrip invalidates non temp entries of strip with stage in mask.
// Only entries rendered for frames in strip range are touched, unless forceFullRange is set.
// If replacement is not nil, entries rendered for frames in replacement range are moved
// to replacement instead. Entry already cached for replacement wins in that case.
// Removed final entries release their chains, removed intermediates leave their chains.
func (s *Store) CleanupStrip(strip Strip, replacement Strip, mask StageMask, forceFullRange bool) {
	if strip == nil {
		s.log.Panic("Nil strip cleanup.")
	}
	var dropped []Buffer
	s.Lock()
	if ids, ok := s.byStrip[strip.ID()]; ok {
		var invalidated, moved int64
		stripRange := strip.Range()
		for _, id := range ids.ToArray() {
			id := entryID(id)
			e := s.slab.at(id)
			if e.key.Temp || !mask.Has(e.key.Stage) {
				continue
			}
			if !forceFullRange && !stripRange.Contains(e.timeline) {
				continue
			}
			if replacement != nil && replacement.Range().Contains(e.timeline) {
				var ok bool
				if dropped, ok = s.rekey(id, replacement, dropped); ok {
					moved++
					continue
				}
			} else {
				dropped = s.unlinkAndDrop(id, dropped)
			}
			invalidated++
		}
		s.stats.invalidated.Inc(invalidated)
		s.log.Debugf("Strip %v cleanup: %v entries invalidated, %v moved.", strip.ID(), invalidated, moved)
		s.checkInvariants()
	}
	s.Unlock()
	release(dropped)
}

// rekey moves entry to strip. If entry with the same key exists, moved entry is dropped.
func (s *Store) rekey(id entryID, strip Strip, dropped []Buffer) ([]Buffer, bool) {
	e := s.slab.at(id)
	k := e.key.rekeyed(strip, e.timeline)
	if math.IsNaN(k.Frame) {
		s.log.Panicf("Strip %v mapped frame %v to NaN.", strip.ID(), e.timeline)
	}
	if k == e.key {
		return dropped, true
	}
	if _, ok := s.table[k]; ok {
		return s.unlinkAndDrop(id, dropped), false
	}
	s.unindex(id)
	delete(s.table, e.key)
	e.key = k
	s.table[k] = id
	s.index(id)
	return dropped, true
}

// Destruct drops all entries. Store stays usable.
func (s *Store) Destruct() {
	var dropped []Buffer
	s.Lock()
	s.slab.each(func(_ entryID, e *entry) {
		dropped = append(dropped, e.buf)
	})
	s.log.Debugf("Destruct: %v entries dropped.", len(dropped))
	s.res.ReleaseMemory(s.bytes)
	s.reset()
	s.checkInvariants()
	s.Unlock()
	release(dropped)
}

// evict drops base entry with all chain members.
func (s *Store) evict(id entryID, dropped []Buffer) []Buffer {
	e := s.slab.at(id)
	s.log.Debugf("Evict %v with cost %v and %v chained entries.", e.key, e.cost, len(e.chain))
	s.stats.evicted.Inc(int64(1 + len(e.chain)))
	for _, m := range e.chain {
		dropped = s.drop(m, dropped)
	}
	return s.drop(id, dropped)
}

// unlinkAndDrop drops entry, keeping the rest of chain cached.
// Members of dropped final entry become base entries.
func (s *Store) unlinkAndDrop(id entryID, dropped []Buffer) []Buffer {
	e := s.slab.at(id)
	if e.owner != noEntry {
		o := s.slab.at(e.owner)
		o.chain = removeID(o.chain, id)
		e.owner = noEntry
	}
	for _, m := range e.chain {
		s.slab.at(m).owner = noEntry
		s.queue.push(m)
	}
	e.chain = nil
	return s.drop(id, dropped)
}

// drop removes entry from all indexes and frees its slot.
// Chain relations should be handled by caller.
// Buffer of dropped entry is appended to dropped and should be released after unlock.
func (s *Store) drop(id entryID, dropped []Buffer) []Buffer {
	e := s.slab.at(id)
	if e.queued {
		s.queue.remove(id)
	}
	delete(s.table, e.key)
	s.unindex(id)
	s.res.ReleaseMemory(e.size)
	s.bytes -= e.size
	dropped = append(dropped, e.buf)
	s.slab.release(id)
	return dropped
}

func (s *Store) index(id entryID) {
	k := s.slab.at(id).key
	addID(s.byStrip, k.Strip, id)
	if k.Temp {
		addID(s.byTask, k.Task, id)
	}
}

func (s *Store) unindex(id entryID) {
	k := s.slab.at(id).key
	removeIndexID(s.byStrip, k.Strip, id)
	if k.Temp {
		removeIndexID(s.byTask, k.Task, id)
	}
}

func addID[K comparable](index map[K]*roaring.Bitmap, k K, id entryID) {
	ids, ok := index[k]
	if !ok {
		ids = roaring.New()
		index[k] = ids
	}
	ids.Add(uint32(id))
}

func removeIndexID[K comparable](index map[K]*roaring.Bitmap, k K, id entryID) {
	ids, ok := index[k]
	if !ok {
		return
	}
	ids.Remove(uint32(id))
	if ids.IsEmpty() {
		delete(index, k)
	}
}

func removeID(ids []entryID, id entryID) []entryID {
	for i := range ids {
		if ids[i] == id {
			last := len(ids) - 1
			ids[i] = ids[last]
			if tag.Debug {
				ids[last] = noEntry
			}
			return ids[:last]
		}
	}
	return ids
}

func release(bufs []Buffer) {
	for _, b := range bufs {
		b.Release()
	}
}

// Len returns number of cached entries.
func (s *Store) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.table)
}

// Bytes returns memory size of cached buffers.
func (s *Store) Bytes() int64 {
	s.RLock()
	defer s.RUnlock()
	return s.bytes
}
