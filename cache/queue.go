package cache

import (
	"fmt"

	"github.com/skipor/seqcache/internal/tag"
)

// Pre and post conditions (Invariants) for queue methods:
// * queue owns entries between fakeHead and fakeTail, and only base entries.
// * {fakeHead, all owned entries, fakeTail} are correct doubly linked list.
// * all entries owned by queue have entry.queued set.
// * queue.len equal number of owned entries.
//
// Entries are ordered by creation: fakeHead.next is the oldest one.
type queue struct {
	s   *slab
	len int
}

func newQueue(s *slab) *queue {
	q := &queue{s: s}
	q.reset()
	return q
}

// reset forgets all entries. Slab must be reset too.
func (q *queue) reset() {
	q.len = 0
	q.link(fakeHeadID, fakeTailID)
}

func (q *queue) push(id entryID) {
	e := q.s.at(id)
	if e.queued {
		panic(fmt.Sprintf("push of queued entry %v", e.key))
	}
	e.queued = true
	q.len++
	tail := q.tail()
	q.link(tail, id)
	q.link(id, fakeTailID)
}

func (q *queue) remove(id entryID) {
	e := q.s.at(id)
	if !e.queued {
		panic(fmt.Sprintf("remove of not queued entry %v", e.key))
	}
	q.link(e.prev, e.next)
	e.queued = false
	q.len--
	if tag.Debug {
		e.prev, e.next = noEntry, noEntry
	}
}

// moveToBack makes entry the most recently created.
func (q *queue) moveToBack(id entryID) {
	q.remove(id)
	q.push(id)
}

// cheapest returns entry with lowest cost. Oldest one wins among equal costs.
func (q *queue) cheapest() (best entryID, ok bool) {
	best = q.head()
	if q.end(best) {
		return noEntry, false
	}
	bestCost := q.s.at(best).cost
	for id := q.s.at(best).next; !q.end(id); id = q.s.at(id).next {
		if cost := q.s.at(id).cost; cost < bestCost {
			best, bestCost = id, cost
		}
	}
	return best, true
}

func (q *queue) head() entryID       { return q.s.at(fakeHeadID).next }
func (q *queue) tail() entryID       { return q.s.at(fakeTailID).prev }
func (q *queue) end(id entryID) bool { return id == fakeTailID }
func (q *queue) empty() bool         { return q.len == 0 }

func (q *queue) link(a, b entryID) { q.s.at(a).next, q.s.at(b).prev = b, a }

// ids returns queued entries from oldest to newest.
func (q *queue) ids() (ids []entryID) {
	for id := q.head(); !q.end(id); id = q.s.at(id).next {
		ids = append(ids, id)
	}
	return
}
