package imbuf

import (
	"errors"
	"io"
)

// Reader reads pixel data of Buffer. Reader holds own buffer reference until Close.
type Reader struct {
	buf *Buffer
	off int64
}

var _ interface {
	io.ReadCloser
	io.ReaderAt
	io.WriterTo
} = (*Reader)(nil)

// WriteTo writes chunks as is. Prefer it to Read: nothing is copied.
func (r *Reader) WriteTo(w io.Writer) (nn int64, err error) {
	for r.off < r.buf.Size() {
		var n int
		n, err = w.Write(r.buf.chunkAt(r.off))
		r.off += int64(n)
		nn += int64(n)
		if err != nil {
			return
		}
	}
	return
}

func (r *Reader) Read(p []byte) (n int, err error) {
	n, err = r.ReadAt(p, r.off)
	r.off += int64(n)
	if n > 0 && err == io.EOF {
		err = nil
	}
	return
}

// ReadAt reads pixel data from offset. Unlike Read it can be called concurrently,
// for example by compositor workers reading different rows of the same frame.
func (r *Reader) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errors.New("imbuf: negative offset")
	}
	size := r.buf.Size()
	for n < len(p) && off < size {
		c := copy(p[n:], r.buf.chunkAt(off))
		n += c
		off += int64(c)
	}
	if n < len(p) {
		err = io.EOF
	}
	return
}

// Close releases reader reference. Repeated calls are no-op.
func (r *Reader) Close() error {
	if !r.isClosed() {
		r.buf.Release()
		r.buf = nil
	}
	return nil
}

func (r *Reader) isClosed() bool {
	return r.buf == nil
}
