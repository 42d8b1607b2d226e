// Package imbuf contains pooled, reference counted image buffers for rendered frames.
// Pixel memory is split into chunks taken from size class pools and returned there
// when the last reference to a buffer is released.
package imbuf

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"
)

const minDefChunkSize = 1 << 7
const maxDefChunkSize = 1 << 20

var DefaultChunkSizes = func() (sz []int) {
	for chSz := minDefChunkSize; chSz <= maxDefChunkSize; chSz *= 2 {
		sz = append(sz, chSz)
	}
	return
}()

// Format describes buffer geometry. Pixel layout is owned by renderers.
type Format struct {
	Width    int
	Height   int
	Channels int
}

func (f Format) Size() int {
	return f.Width * f.Height * f.Channels
}

type Pool struct {
	leakCallback LeakCallback
	chunkSizes   []int
	chunkPools   []sync.Pool
}

func NewPool() *Pool {
	return NewPoolSizes(DefaultChunkSizes)
}

// NewPoolSizes creates new pool, which produce chunks with sizes described in chunkSizes.
// chunkSizes should be sorted.
func NewPoolSizes(chunkSizes []int) *Pool {
	if chunkSizes == nil {
		chunkSizes = DefaultChunkSizes[:]
	}
	for i := 0; i < len(chunkSizes); i++ {
		size := chunkSizes[i]
		if size <= 0 {
			panic("non positive size")
		}
		if i != 0 && chunkSizes[i-1] >= size {
			panic("sizes unsorted or have duplicates")
		}
	}
	chunkPools := make([]sync.Pool, len(chunkSizes))
	for i := range chunkSizes {
		size := chunkSizes[i]
		chunkPools[i].New = func() interface{} {
			return make([]byte, size)
		}
	}
	return &Pool{
		chunkSizes: chunkSizes,
		chunkPools: chunkPools,
	}
}

// NewBuffer allocates buffer for f. Pixel content is undefined, renderer must fill it.
// Returned buffer holds one reference owned by caller.
func (p *Pool) NewBuffer(f Format) *Buffer {
	if f.Size() < 0 {
		panic(fmt.Sprintf("negative buffer size: %#v", f))
	}
	size := f.Size()
	chunksNum := (size + p.MaxChunkSize() - 1) / p.MaxChunkSize()
	chunks := make([][]byte, chunksNum)
	for i := 0; i < chunksNum; i++ {
		chunks[i] = p.chunk(size)
		size -= len(chunks[i])
	}
	return p.track(newBuffer(p, f, chunks))
}

// ReadBuffer reads f.Size() bytes of pixel data from r.
func (p *Pool) ReadBuffer(r io.Reader, f Format) (*Buffer, error) {
	b := p.NewBuffer(f)
	for _, ch := range b.chunks {
		if _, err := io.ReadFull(r, ch); err != nil {
			b.Release()
			return nil, err
		}
	}
	return b, nil
}

func (p *Pool) track(b *Buffer) *Buffer {
	if p.leakCallback != nil {
		runtime.SetFinalizer(b, checkLeakFinalizer(p.leakCallback))
	}
	return b
}

type LeakCallback func(*Buffer)

// SetLeakCallback sets callback, which is called before GC of not released buffer.
// Note: this is for test and debug purpose only.
func (p *Pool) SetLeakCallback(cb LeakCallback) {
	p.leakCallback = cb
}

func NotifyOnLeak(leak chan<- *Buffer) LeakCallback {
	return func(b *Buffer) {
		select {
		case leak <- b:
		case <-time.After(5 * time.Second):
			panic("Nobody is listening for leak notification")
		}
	}
}

var PanicOnLeak LeakCallback = func(b *Buffer) {
	panic(fmt.Sprintf("imbuf.Buffer leaked: %#v.", b))
}
var WarnOnLeak LeakCallback = func(b *Buffer) {
	println("WARN: imbuf.Buffer leaked.")
}

func (p *Pool) recycleBuffer(b *Buffer) {
	for _, ch := range b.chunks {
		p.recycleChunk(ch)
	}
}

// chunk return chunk for Buffer.
// returned slice len equal to size or p.maxChunkSize()
func (p *Pool) chunk(size int) []byte {
	if p.isGCChunkSize(size) {
		// GC will handle such case better.
		return make([]byte, size)
	}
	var i int
	// O(n) but len(chunkSizes) should be <= 30 normally.
	for i = range p.chunkSizes {
		if size <= p.chunkSizes[i] {
			return p.chunkPools[i].Get().([]byte)[0:size]
		}
	}
	return p.chunkPools[i].Get().([]byte)
}

func (p *Pool) recycleChunk(chunk []byte) {
	size := cap(chunk)
	if p.isGCChunkSize(size) {
		// Garbage, that should be collected by GC.
		return
	}
	// O(n) but len(chunkSizes) should be <= 30 normally.
	for i := range p.chunkSizes {
		if size == p.chunkSizes[i] {
			p.chunkPools[i].Put(chunk[:size])
			return
		}
	}
	panic(fmt.Errorf("unexpected chunk size: %d", size))
}

func (p *Pool) MinChunkSize() int {
	return p.chunkSizes[0]
}

func (p *Pool) MaxChunkSize() int {
	return p.chunkSizes[len(p.chunkSizes)-1]
}

func (p *Pool) isGCChunkSize(size int) bool {
	return size <= p.MinChunkSize()/2
}

func checkLeakFinalizer(cb LeakCallback) func(*Buffer) {
	return func(b *Buffer) {
		if !b.Freed() {
			cb(b)
		}
	}
}
