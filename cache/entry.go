package cache

import (
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// Buffer is reference counted frame buffer handle. Cache never reads pixels.
type Buffer interface {
	// Ref takes one more reference.
	Ref()
	// Release gives back one reference.
	Release()
	// Size returns memory held by buffer in bytes.
	Size() int64
}

// entryID is stable index of entry in slab. Chains and indexes refer to entries by id,
// so freed entries never leave dangling pointers.
type entryID uint32

const (
	// Fake queue nodes. Real entries are after them.
	fakeHeadID entryID = iota
	fakeTailID
	firstEntryID

	noEntry entryID = math.MaxUint32
)

type entry struct {
	key Key
	buf Buffer
	// timeline is frame entry was rendered for. Equals key.Frame for all stages but raw.
	timeline float64
	// cost is render time divided by playback frame duration. Recorded on put.
	cost float64
	size int64

	// Base entries queue links. Valid while queued.
	prev, next entryID
	queued     bool

	// owner is final entry this entry is chained to.
	owner entryID
	// chain is intermediate entries owned by this final entry.
	chain []entryID
}

func (e *entry) isBase() bool { return !e.key.Temp && e.owner == noEntry }

func (e *entry) GoString() string {
	return fmt.Sprintf("{key:%v, cost:%v, size:%v, queued:%v, owner:%v, chain:%v}",
		e.key, e.cost, e.size, e.queued, e.owner, e.chain)
}

// slab owns all entries of store. Ids of freed entries are reused.
type slab struct {
	entries []entry
	free    []entryID
	live    *bitset.BitSet
}

func newSlab() *slab {
	s := &slab{}
	s.reset()
	return s
}

func (s *slab) reset() {
	s.entries = make([]entry, firstEntryID)
	for i := range s.entries {
		s.entries[i].owner = noEntry
	}
	s.free = nil
	s.live = bitset.New(0)
}

// alloc returns id of zeroed entry.
// Pointers returned by at are invalid after alloc.
func (s *slab) alloc() entryID {
	var id entryID
	if n := len(s.free); n > 0 {
		id = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		if len(s.entries) >= int(noEntry) {
			panic("too many cache entries")
		}
		s.entries = append(s.entries, entry{})
		id = entryID(len(s.entries) - 1)
	}
	s.entries[id] = entry{owner: noEntry}
	s.live.Set(uint(id))
	return id
}

func (s *slab) release(id entryID) {
	if !s.isLive(id) {
		panic(fmt.Sprintf("release of not live entry %v", id))
	}
	s.entries[id] = entry{owner: noEntry}
	s.live.Clear(uint(id))
	s.free = append(s.free, id)
}

func (s *slab) at(id entryID) *entry { return &s.entries[id] }

func (s *slab) isLive(id entryID) bool { return id >= firstEntryID && s.live.Test(uint(id)) }

func (s *slab) len() int { return int(s.live.Count()) }

// each calls f for every live entry in id order.
func (s *slab) each(f func(id entryID, e *entry)) {
	for i, ok := s.live.NextSet(0); ok; i, ok = s.live.NextSet(i + 1) {
		f(entryID(i), &s.entries[i])
	}
}
