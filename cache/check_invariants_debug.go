//go:build debug
// +build debug

// Gomega should not be dependency in non-debug build.

package cache

import (
	"errors"
	"log"

	"github.com/facebookgo/stackerr"
	. "github.com/onsi/gomega"
)

var _ = func() (_ struct{}) {
	RegisterFailHandler(GomegaFailHandler)
	return
}()

func GomegaFailHandler(message string, callerSkip ...int) {
	skip := callerSkip[0] + 1
	log.Fatal("FATAL: invariants are broken:", stackerr.WrapSkip(errors.New(message), skip))
}

func (q *queue) checkInvariants() {
	Expect(q.s.at(fakeHeadID).queued).To(BeFalse())
	Expect(q.s.at(fakeTailID).queued).To(BeFalse())
	var n int
	prev := entryID(fakeHeadID)
	for id := q.head(); !q.end(id); id = q.s.at(id).next {
		n++
		e := q.s.at(id)
		Expect(q.s.isLive(id)).To(BeTrue(), "queued entry is not live")
		Expect(e.queued).To(BeTrue())
		Expect(e.prev).To(Equal(prev))
		Expect(e.isBase()).To(BeTrue(), "not base entry %#v queued", e)
		prev = id
	}
	Expect(q.tail()).To(Equal(prev))
	Expect(n).To(Equal(q.len))
}

func (s *Store) checkInvariants() {
	s.queue.checkInvariants()
	ExpectWithOffset(1, s.slab.len()).To(Equal(len(s.table)), "table and slab are out of sync")
	var (
		queued int
		bytes  int64
	)
	strips := map[StripID]int{}
	tasks := map[TaskID]int{}
	s.slab.each(func(id entryID, e *entry) {
		tid, ok := s.table[e.key]
		Expect(ok).To(BeTrue(), "no table ref to %v", e.key)
		Expect(tid).To(Equal(id), "table refs to another entry")
		Expect(e.buf).NotTo(BeNil())
		bytes += e.size
		if e.queued {
			queued++
		}
		Expect(e.queued).To(Equal(e.isBase()), "base entry %#v is not queued", e)
		Expect(s.byStrip).To(HaveKey(e.key.Strip))
		Expect(s.byStrip[e.key.Strip].Contains(uint32(id))).To(BeTrue(), "no strip index of %v", e.key)
		strips[e.key.Strip]++
		if e.key.Temp {
			Expect(s.byTask).To(HaveKey(e.key.Task))
			Expect(s.byTask[e.key.Task].Contains(uint32(id))).To(BeTrue(), "no task index of %v", e.key)
			tasks[e.key.Task]++
			Expect(e.owner).To(Equal(noEntry))
			Expect(e.chain).To(BeEmpty())
		}
		if e.owner != noEntry {
			Expect(s.slab.isLive(e.owner)).To(BeTrue(), "owner of %v is not live", e.key)
			o := s.slab.at(e.owner)
			Expect(o.key.Stage).To(Equal(StageFinal))
			Expect(o.chain).To(ContainElement(id))
			Expect(e.chain).To(BeEmpty(), "chain member %v owns chain", e.key)
		}
		for _, m := range e.chain {
			Expect(s.slab.isLive(m)).To(BeTrue(), "chain member of %v is not live", e.key)
			Expect(s.slab.at(m).owner).To(Equal(id))
		}
	})
	ExpectWithOffset(1, queued).To(Equal(s.queue.len))
	ExpectWithOffset(1, bytes).To(Equal(s.bytes), "bytes accounting is broken")
	Expect(s.byStrip).To(HaveLen(len(strips)))
	for strip, ids := range s.byStrip {
		Expect(ids.GetCardinality()).To(BeEquivalentTo(strips[strip]), "extra strip %v index", strip)
	}
	Expect(s.byTask).To(HaveLen(len(tasks)))
	for task, ids := range s.byTask {
		Expect(ids.GetCardinality()).To(BeEquivalentTo(tasks[task]), "extra task %v index", task)
	}
}
