// Package pools provides sync.Pool-backed reuse for the small set of
// allocation-heavy values the search engine and its HTTP layer construct
// on every hot-path call: FTS match-expression string slices and
// builders, SQL placeholder byte slices, and JSON encoder/buffer pairs.
package pools

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
)

// StringSlicePool provides reusable string slices, used where a function
// builds up a slice purely as scratch space and never returns it to the
// caller (the result is joined into a string, or copied, before return).
var StringSlicePool = sync.Pool{
	New: func() interface{} {
		s := make([]string, 0, 32)
		return &s
	},
}

// ByteSlicePool provides reusable byte slices, used for scratch buffers
// such as building a SQL "?,?,?" placeholder list.
var ByteSlicePool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 4096)
		return &b
	},
}

// StringBuilderPool provides reusable strings.Builder values for
// constructing FTS5 MATCH expression fragments.
var StringBuilderPool = sync.Pool{
	New: func() interface{} {
		return new(strings.Builder)
	},
}

// EncoderWrapper pairs a json.Encoder with the buffer it writes into.
// json.NewEncoder binds permanently to its writer, so pooling a bare
// *json.Encoder is useless once its destination needs to change between
// calls; pooling the pair together and resetting the buffer is the
// pattern that actually amortizes the allocation.
type EncoderWrapper struct {
	Encoder *json.Encoder
	Buffer  *bytes.Buffer
}

// EncoderPool provides reusable JSON encoder+buffer pairs, used by the
// API layer to serialize responses without allocating a fresh encoder
// and buffer per request.
var EncoderPool = sync.Pool{
	New: func() interface{} {
		buf := bytes.NewBuffer(make([]byte, 0, 4096))
		return &EncoderWrapper{Encoder: json.NewEncoder(buf), Buffer: buf}
	},
}

// GetStringSlice gets a string slice from the pool, reset to length zero.
func GetStringSlice() *[]string {
	s := StringSlicePool.Get().(*[]string)
	*s = (*s)[:0]
	return s
}

// PutStringSlice returns a string slice to the pool.
func PutStringSlice(s *[]string) {
	if cap(*s) > 1024 { // don't pool huge slices
		return
	}
	StringSlicePool.Put(s)
}

// GetByteSlice gets a byte slice from the pool, reset to length zero.
func GetByteSlice() *[]byte {
	b := ByteSlicePool.Get().(*[]byte)
	*b = (*b)[:0]
	return b
}

// PutByteSlice returns a byte slice to the pool.
func PutByteSlice(b *[]byte) {
	if cap(*b) > 1024*1024 { // don't pool slices > 1MB
		return
	}
	ByteSlicePool.Put(b)
}

// GetStringBuilder gets a string builder from the pool, reset to empty.
func GetStringBuilder() *strings.Builder {
	sb := StringBuilderPool.Get().(*strings.Builder)
	sb.Reset()
	return sb
}

// PutStringBuilder returns a string builder to the pool.
func PutStringBuilder(sb *strings.Builder) {
	StringBuilderPool.Put(sb)
}

// GetJSONEncoder gets a JSON encoder/buffer pair from the pool, with the
// buffer reset and ready to write.
func GetJSONEncoder() *EncoderWrapper {
	w := EncoderPool.Get().(*EncoderWrapper)
	w.Buffer.Reset()
	return w
}

// PutJSONEncoder returns a JSON encoder/buffer pair to the pool.
func PutJSONEncoder(w *EncoderWrapper) {
	if w.Buffer.Cap() > 1024*1024 {
		return
	}
	EncoderPool.Put(w)
}
