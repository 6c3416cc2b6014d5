package pool

import (
	"bytes"
	"io"
	"sync"
)

const (
	// SizeMedium is the initial capacity of a pooled buffer, enough for most response bodies
	SizeMedium = 32 * 1024

	// SizeMaxPooled is the largest buffer returned to the pool; bigger ones are left to the GC
	SizeMaxPooled = 1024 * 1024
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, SizeMedium))
	},
}

// GetBuffer returns an empty buffer from the pool.
func GetBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

// PutBuffer resets buf and returns it to the pool.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > SizeMaxPooled {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// ReadAll reads r to EOF into a pooled buffer and hands the bytes to fn.
// The slice passed to fn is only valid until fn returns.
func ReadAll(r io.Reader, fn func([]byte) error) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if _, err := buf.ReadFrom(r); err != nil {
		return err
	}
	return fn(buf.Bytes())
}
