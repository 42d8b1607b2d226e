package seqcache

import (
	"context"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"golang.org/x/sync/errgroup"

	"github.com/skipor/seqcache/cache"
	"github.com/skipor/seqcache/imbuf"
	"github.com/skipor/seqcache/log"
	. "github.com/skipor/seqcache/testutil"
)

var format = imbuf.Format{Width: 8, Height: 8, Channels: 4}

const bufSize = 8 * 8 * 4

var _ = Describe("Manager", func() {
	var (
		m      *Manager
		conf   Config
		out    *gbytes.Buffer
		pool   *imbuf.Pool
		s1, s2 cache.RenderContext
		strip  cache.LinearStrip
	)
	put := func(ctx cache.RenderContext, frame float64, stage cache.Stage, opts cache.PutOptions) *imbuf.Buffer {
		buf := pool.NewBuffer(format)
		m.Put(ctx, strip, frame, stage, buf, opts)
		buf.Release()
		return buf
	}
	BeforeEach(func() {
		conf = Config{}
		out = gbytes.NewBuffer()
		pool = imbuf.NewPool()
		s1 = cache.RenderContext{Scene: 1, RectX: 64, RectY: 64, PreviewRenderSize: 100}
		s2 = s1
		s2.Scene = 2
		strip = cache.LinearStrip{StripID: 1, Frames: cache.FrameRange{Start: 0, End: 100}}
	})
	JustBeforeEach(func() {
		m = NewManager(log.NewLogger(log.DebugLevel, out), conf)
	})
	AfterEach(func() {
		m.Close()
		Expect(m.Resources().MemoryUsage()).To(BeZero())
	})

	It("creates stores lazily", func() {
		Expect(m.Scenes()).To(BeEmpty())
		_, ok := m.Get(s1, strip, 1, cache.StageFinal)
		Expect(ok).To(BeFalse())
		m.FreeTempCache(1, 1, cache.AllFrames)
		m.CleanupStrip(1, strip, nil, cache.MaskAll, true)
		Expect(m.Recycle(1)).To(BeFalse())
		Expect(m.Scenes()).To(BeEmpty())

		put(s1, 1, cache.StageFinal, cache.PutOptions{})
		Expect(m.Scenes()).To(Equal([]cache.SceneID{1}))
		Expect(m.StoreFor(1)).To(BeIdenticalTo(m.StoreFor(1)))
		Expect(out).To(gbytes.Say(`scene.*1`))
	})

	It("isolates scenes", func() {
		b1 := put(s1, 1, cache.StageFinal, cache.PutOptions{Cost: 1})
		b2 := put(s2, 1, cache.StageFinal, cache.PutOptions{Cost: 5})

		got, ok := m.Get(s2, strip, 1, cache.StageFinal)
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(b2))
		got.Release()

		Expect(m.Recycle(2)).To(BeTrue())
		Expect(m.Recycle(2)).To(BeFalse())
		got, ok = m.Get(s1, strip, 1, cache.StageFinal)
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(b1))
		got.Release()

		m.CleanupStrip(2, strip, nil, cache.MaskAll, true)
		Expect(m.StoreFor(1).Len()).To(Equal(1))
	})

	It("links only inside scene", func() {
		put(s1, 1, cache.StageRaw, cache.PutOptions{})
		put(s1, 1, cache.StageFinal, cache.PutOptions{})
		put(s2, 1, cache.StageFinal, cache.PutOptions{})
		raw := cache.NewKey(s1, strip, 1, cache.StageRaw)
		Expect(m.Link(cache.NewKey(s2, strip, 1, cache.StageFinal), raw)).To(BeFalse())
		Expect(m.Link(cache.NewKey(s1, strip, 1, cache.StageFinal), raw)).To(BeTrue())
	})

	It("temp entries", func() {
		put(s1, 1, cache.StageRaw, cache.PutOptions{Temp: true, Task: 3})
		got, ok := m.GetTemp(s1, strip, 1, cache.StageRaw, 3)
		Expect(ok).To(BeTrue())
		got.Release()
		m.FreeTempCache(1, 3, cache.AllFrames)
		_, ok = m.GetTemp(s1, strip, 1, cache.StageRaw, 3)
		Expect(ok).To(BeFalse())
	})

	It("destroy releases buffers", func() {
		buf := put(s1, 1, cache.StageFinal, cache.PutOptions{})
		m.Destroy(1)
		Expect(buf.Freed()).To(BeTrue())
		Expect(m.Scenes()).To(BeEmpty())
		m.Destroy(1)
	})

	Context("memory limit", func() {
		BeforeEach(func() {
			conf.MemoryLimit = 2 * bufSize
		})

		It("shares budget between scenes", func() {
			put(s1, 1, cache.StageFinal, cache.PutOptions{})
			put(s2, 1, cache.StageFinal, cache.PutOptions{})
			Expect(m.IsFull()).To(BeFalse())
			buf := pool.NewBuffer(format)
			Expect(m.PutIfPossible(s2, strip, 2, cache.StagePreprocessed, buf, cache.PutOptions{})).To(BeTrue())
			buf.Release()
			By("Scene 2 recycled own entry.")
			Expect(m.StoreFor(1).Len()).To(Equal(1))
			Expect(m.StoreFor(2).Len()).To(Equal(1))
		})

		It("warns when full once in a while", func() {
			for i := 0; i < 4; i++ {
				put(s1, float64(i), cache.StageFinal, cache.PutOptions{Temp: true, Task: 1})
			}
			Expect(m.IsFull()).To(BeTrue())
			Expect(out).To(gbytes.Say("cache is full"))
			Expect(out).NotTo(gbytes.Say("cache is full"))
			Expect(m.RecycleToFit(1)).To(BeFalse())
			Expect(m.RecycleToFit(2)).To(BeFalse())
			m.FreeTempCache(1, 1, cache.AllFrames)
			Expect(m.IsFull()).To(BeFalse())
		})
	})

	It("concurrent renders", func() {
		const (
			workers = 8
			frames  = 50
		)
		g, ctx := errgroup.WithContext(context.Background())
		for w := 0; w < workers; w++ {
			task := cache.TaskID(w)
			g.Go(func() error {
				defer GinkgoRecover()
				for f := 0; f < frames && ctx.Err() == nil; f++ {
					frame := float64(f % 10)
					rctx := s1
					if f%2 == 0 {
						rctx = s2
					}
					if got, ok := m.Get(rctx, strip, frame, cache.StageFinal); ok {
						got.Release()
						continue
					}
					raw := pool.NewBuffer(format)
					m.PutIfPossible(rctx, strip, frame, cache.StageRaw, raw, cache.PutOptions{})
					raw.Release()
					tmp := pool.NewBuffer(format)
					m.Put(rctx, strip, frame, cache.StageComposite, tmp, cache.PutOptions{Temp: true, Task: task})
					tmp.Release()
					fin := pool.NewBuffer(format)
					m.Put(rctx, strip, frame, cache.StageFinal, fin, cache.PutOptions{Cost: float64(f)})
					fin.Release()
					m.Link(cache.NewKey(rctx, strip, frame, cache.StageFinal), cache.NewKey(rctx, strip, frame, cache.StageRaw))
					m.FreeTempCache(rctx.Scene, task, cache.AllFrames)
					if f%7 == 0 {
						m.Recycle(rctx.Scene)
					}
				}
				return nil
			})
		}
		Expect(g.Wait()).To(Succeed())
		for _, scene := range m.Scenes() {
			Byf("Scene %v: %+v", scene, m.StoreFor(scene).Stats())
			Expect(m.StoreFor(scene).Stats().TempFreed).To(BeNumerically(">", 0))
		}
	})

	It("concurrent store creation", func() {
		var wg sync.WaitGroup
		stores := make([]*cache.Store, 16)
		for i := range stores {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				stores[i] = m.StoreFor(42)
			}(i)
		}
		wg.Wait()
		for _, s := range stores {
			Expect(s).To(BeIdenticalTo(stores[0]), fmt.Sprint(m.Scenes()))
		}
	})
})
