package engine

import (
	"bytes"
	"sync"
)

// bufferPool hands out reusable *bytes.Buffer so the WAL append path and
// the SSTable writer don't allocate a fresh buffer for every record.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() any {
				buf := bytes.NewBuffer(make([]byte, 0, size))
				return buf
			},
		},
	}
}

func (bp *bufferPool) get() *bytes.Buffer {
	buf := bp.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (bp *bufferPool) put(buf *bytes.Buffer) {
	bp.pool.Put(buf)
}

// recordBufferPool sizes for a typical encoded row record; both the WAL
// appender and the SSTable writer reuse it so record encoding does not
// allocate a fresh buffer on every call.
var recordBufferPool = newBufferPool(512)
