package imbuf

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Buffer is a frame buffer shared between any number of holders.
// Every holder owns one reference: Ref takes it, Release gives it back.
// Pixel memory returns to pool when last reference is released.
type Buffer struct {
	pool   *Pool
	format Format
	refs   int32 // Atomic.
	freed  int32 // Atomic.
	chunks [][]byte
}

func newBuffer(p *Pool, f Format, chunks [][]byte) *Buffer {
	return &Buffer{
		pool:   p,
		format: f,
		refs:   1,
		chunks: chunks,
	}
}

func (b *Buffer) Format() Format { return b.format }

// Size returns pixel memory size in bytes.
func (b *Buffer) Size() int64 { return int64(b.format.Size()) }

// Refs returns current reference count. For tests and diagnostics.
func (b *Buffer) Refs() int32 { return atomic.LoadInt32(&b.refs) }

// Freed reports that pixel memory was returned to pool.
func (b *Buffer) Freed() bool { return atomic.LoadInt32(&b.freed) == 1 }

// Ref takes one more reference. Caller must hold a reference already.
func (b *Buffer) Ref() {
	if atomic.AddInt32(&b.refs, 1) <= 1 {
		panic("reference to released buffer")
	}
}

// Release gives back one reference.
func (b *Buffer) Release() {
	refsLeft := atomic.AddInt32(&b.refs, -1)
	switch {
	case refsLeft == 0:
		b.free()
	case refsLeft < 0:
		panic("release of released buffer")
	}
}

// NewReader returns pixel data reader. Reader holds own reference until Close.
func (b *Buffer) NewReader() *Reader {
	b.Ref()
	return &Reader{buf: b}
}

func (b *Buffer) WriteTo(w io.Writer) (nn int64, err error) {
	r := b.NewReader()
	nn, err = r.WriteTo(w)
	r.Close()
	return
}

// Fill sets every byte of pixel data to v.
func (b *Buffer) Fill(v byte) {
	for _, ch := range b.chunks {
		for i := range ch {
			ch[i] = v
		}
	}
}

// chunkAt returns rest of chunk holding byte at off.
// All chunks but the last one have the same size.
func (b *Buffer) chunkAt(off int64) []byte {
	step := int64(len(b.chunks[0]))
	return b.chunks[off/step][off%step:]
}

func (b *Buffer) free() {
	b.pool.recycleBuffer(b)
	b.chunks = nil
	atomic.StoreInt32(&b.freed, 1)
}

func (b *Buffer) GoString() string {
	return fmt.Sprintf("{format:%+v, refs:%v, freed:%v, chunks:%v}",
		b.format, b.Refs(), b.Freed(), len(b.chunks))
}
