package imbuf

import (
	"bytes"
	"errors"
	"io"
	"io/ioutil"
	"runtime"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/skipor/seqcache/testutil"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) Read(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

var _ = Describe("Pool create", func() {
	var p *Pool
	var chunkSizes []int

	Context("nil chunkSizes", func() {
		BeforeEach(func() {
			p = NewPoolSizes(nil)
			chunkSizes = nil
		})
		It("use defaults", func() {
			Expect(p.chunkSizes).To(Equal(DefaultChunkSizes))
		})
	})

	Context("invalid configuration", func() {
		JustBeforeEach(func() {
			Expect(func() {
				NewPoolSizes(chunkSizes)
			}).Should(Panic())
		})
		Context("when chunk sizes are unsorted", func() {
			BeforeEach(func() {
				chunkSizes = []int{1 << 10, 1 << 8}
			})
			It("creation panics", func() {})
		})

		Context("when chunk sizes have duplicates", func() {
			BeforeEach(func() {
				chunkSizes = []int{1 << 8, 1 << 10, 1 << 10}
			})
			It("creation panics", func() {})
		})
	})
})

var _ = Describe("chunk requested", func() {
	var p *Pool
	BeforeEach(func() {
		p = NewPool()
	})

	var chunkSize int
	var chunk, chunkCopy []byte
	JustBeforeEach(func() {
		chunk = p.chunk(chunkSize)
		chunkCopy = make([]byte, len(chunk))
		Rand.Read(chunkCopy)
		copy(chunk, chunkCopy)
	})

	AssertSizeEqualRequested := func() {
		It("size equal requested", func() {
			Expect(chunk).To(HaveLen(chunkSize))
		})
	}

	Context("size is few less than max", func() {
		BeforeEach(func() {
			chunkSize = p.MaxChunkSize() - 4
		})
		AssertSizeEqualRequested()
		It("capacity is max class", func() {
			Expect(cap(chunk)).To(Equal(p.MaxChunkSize()))
		})
	})

	Context("size is greater than max", func() {
		BeforeEach(func() {
			chunkSize = p.MaxChunkSize() + 4
		})
		It("size equal max", func() {
			Expect(chunk).To(HaveLen(p.MaxChunkSize()))
		})
	})

	Context("size is half of min", func() {
		BeforeEach(func() {
			chunkSize = p.MinChunkSize() / 2
		})
		AssertSizeEqualRequested()
		It("is not pooled", func() {
			Expect(cap(chunk)).To(Equal(chunkSize))
			Expect(func() { p.recycleChunk(chunk) }).NotTo(Panic())
		})
	})
})

var _ = Describe("buffer", func() {
	var (
		p      *Pool
		format Format
		input  []byte
		buf    *Buffer
		err    error
	)

	BeforeEach(func() {
		p = NewPool()
		format = Format{Width: 1 + Rand.Intn(512), Height: 1 + Rand.Intn(512), Channels: 4}
		input = make([]byte, format.Size())
		Rand.Read(input)
	})

	Context("read without error", func() {
		JustBeforeEach(func() {
			buf, err = p.ReadBuffer(bytes.NewReader(input), format)
			Expect(err).To(BeNil())
		})

		It("chunked data equals readed", func() {
			out := &bytes.Buffer{}
			_, err := buf.WriteTo(out)
			Expect(err).To(BeNil())
			testutil.ExpectBytesEqual(out.Bytes(), input)
			Expect(buf.Size()).To(BeEquivalentTo(len(input)))
		})

		It("read at offset", func() {
			r := buf.NewReader()
			defer r.Close()
			off := Rand.Intn(len(input))
			dst := make([]byte, 1+Rand.Intn(2*p.MaxChunkSize()))
			n, err := r.ReadAt(dst, int64(off))
			if off+len(dst) > len(input) {
				Expect(err).To(Equal(io.EOF))
				Expect(n).To(Equal(len(input) - off))
			} else {
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(len(dst)))
			}
			testutil.ExpectBytesEqual(dst[:n], input[off:off+n])
		})

		It("read by small parts", func() {
			r := buf.NewReader()
			defer r.Close()
			out, err := ioutil.ReadAll(r)
			Expect(err).NotTo(HaveOccurred())
			testutil.ExpectBytesEqual(out, input)
			n, err := r.Read(make([]byte, 1))
			Expect(n).To(BeZero())
			Expect(err).To(Equal(io.EOF))
		})

		It("caller owns single reference", func() {
			Expect(buf.Refs()).To(BeEquivalentTo(1))
			buf.Ref()
			Expect(buf.Refs()).To(BeEquivalentTo(2))
			buf.Release()
			Expect(buf.Freed()).To(BeFalse())
			buf.Release()
			Expect(buf.Freed()).To(BeTrue())
		})

		It("double release panics", func() {
			buf.Release()
			Expect(func() { buf.Release() }).To(Panic())
		})

		It("ref after release panics", func() {
			buf.Release()
			Expect(func() { buf.Ref() }).To(Panic())
		})

		It("fill overwrites pixels", func() {
			buf.Fill(7)
			out := &bytes.Buffer{}
			buf.WriteTo(out)
			Expect(bytes.Count(out.Bytes(), []byte{7})).To(Equal(len(input)))
		})

		Context("concurrent readers", func() {
			It("all readers got correct result and buffer freed after last", func() {
				k := 1 + Rand.Intn(10)
				results := make(chan []byte)
				for i := 0; i < k; i++ {
					r := buf.NewReader()
					go func() {
						defer GinkgoRecover()
						out := &bytes.Buffer{}
						r.WriteTo(out)
						r.Close()
						Expect(r.isClosed()).To(BeTrue())
						results <- out.Bytes()
					}()
				}
				buf.Release()
				for i := 0; i < k; i++ {
					testutil.ExpectBytesEqual(<-results, input)
				}
				Expect(buf.Freed()).To(BeTrue())
			})
		})

		Context("leak callback set", func() {
			var leak chan *Buffer
			BeforeEach(func() {
				leak = make(chan *Buffer)
				p.SetLeakCallback(NotifyOnLeak(leak))
			})

			gcBuffer := func() {
				buf = nil
				runtime.GC()
			}

			Context("buffer was released", func() {
				JustBeforeEach(func() {
					buf.Release()
					gcBuffer()
				})
				It("callback not called", func() {
					Consistently(leak).ShouldNot(Receive())
				})
			})

			Context("buffer was not released", func() {
				JustBeforeEach(gcBuffer)
				It("callback called", func() {
					Eventually(leak).Should(Receive())
				})
			})

			Context("reader was not closed", func() {
				JustBeforeEach(func() {
					buf.NewReader()
					buf.Release()
					gcBuffer()
				})
				It("callback called", func() {
					Eventually(leak).Should(Receive())
				})
			})
		})
	})

	Context("unexpected EOF", func() {
		BeforeEach(func() {
			buf, err = p.ReadBuffer(bytes.NewReader(input[:len(input)-1]), format)
		})
		It("io.ErrUnexpectedEOF returned", func() {
			Expect(err).To(Equal(io.ErrUnexpectedEOF))
		})
		It("no buffer returned", func() {
			Expect(buf).To(BeNil())
		})
	})

	Context("read error happen", func() {
		expectedErr := errors.New("err")
		BeforeEach(func() {
			mr := &mockReader{}
			mr.On("Read", mock.Anything).Return(0, expectedErr)
			buf, err = p.ReadBuffer(mr, format)
		})

		It("error equals that return underlying reader", func() {
			Expect(err).To(Equal(expectedErr))
		})
		It("no buffer returned", func() {
			Expect(buf).To(BeNil())
		})
	})
})
