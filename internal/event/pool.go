package event

import (
	"bytes"
	"encoding/json"
	"sync"
)

// bufferPool recycles encode buffers for the worker wire path, which
// serializes every open market on every round trip.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// AcquireBuffer gets an empty buffer from the pool.
func AcquireBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

// ReleaseBuffer resets buf and returns it to the pool.
func ReleaseBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// Encode marshals v to JSON using a pooled buffer. The returned slice is a
// private copy and stays valid after the buffer is reused.
func Encode(v any) ([]byte, error) {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Decode unmarshals data produced by Encode.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
