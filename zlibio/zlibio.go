// Package zlibio provides the streaming inflate/deflate primitives the
// rest of the module builds on: loose object storage and pack entries
// are both zlib streams, and neither may be materialized in full
// before inflation starts.
package zlibio

import (
	"io"
	"sync"

	kzlib "github.com/klauspost/compress/zlib"
	szlib "compress/zlib"
)

// Reader is a streaming zlib decompressor.
type Reader interface {
	io.ReadCloser
}

// Writer is a streaming zlib compressor.
type Writer interface {
	io.WriteCloser
	Flush() error
}

var useFast = false

// Fast switches the package to klauspost/compress's zlib implementation
// for every subsequent NewReader/NewWriter call. The standard library's
// compress/zlib remains the default so the package works with no extra
// dependency resolution in minimal embeddings; Fast is an opt-in for
// hosts that scan large numbers of packs and want the throughput.
func Fast() {
	useFast = true
}

// NewReader opens a streaming zlib decompressor over r.
func NewReader(r io.Reader) (Reader, error) {
	if useFast {
		return kzlib.NewReader(r)
	}
	return szlib.NewReader(r)
}

// NewWriter opens a streaming zlib compressor writing to w.
func NewWriter(w io.Writer) Writer {
	if useFast {
		return kzlib.NewWriter(w)
	}
	return szlib.NewWriter(w)
}

// writerPool recycles standard-library zlib writers, the hot path for
// loose-object writes under concurrent `add`.
var writerPool = sync.Pool{
	New: func() any { return szlib.NewWriter(io.Discard) },
}

// GetWriter returns a pooled Writer reset to write to w.
func GetWriter(w io.Writer) Writer {
	zw := writerPool.Get().(*szlib.Writer)
	zw.Reset(w)
	return zw
}

// PutWriter returns zw to the pool. Callers must Close zw first.
func PutWriter(zw Writer) {
	if w, ok := zw.(*szlib.Writer); ok {
		writerPool.Put(w)
	}
}
