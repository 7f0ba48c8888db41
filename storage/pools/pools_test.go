package pools

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
)

func BenchmarkStringBuilderPooling(b *testing.B) {
	b.Run("WithPool", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			sb := GetStringBuilder()
			sb.WriteString("test data for benchmarking string builder pools")
			for j := 0; j < 100; j++ {
				sb.WriteString("additional data")
			}
			PutStringBuilder(sb)
		}
	})

	b.Run("WithoutPool", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			var sb bytes.Buffer
			sb.WriteString("test data for benchmarking string builder pools")
			for j := 0; j < 100; j++ {
				sb.WriteString("additional data")
			}
		}
	})
}

func BenchmarkStringSlicePooling(b *testing.B) {
	b.Run("WithPool", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			s := GetStringSlice()
			for j := 0; j < 20; j++ {
				*s = append(*s, "tag:value")
			}
			PutStringSlice(s)
		}
	})

	b.Run("WithoutPool", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			s := make([]string, 0, 32)
			for j := 0; j < 20; j++ {
				s = append(s, "tag:value")
			}
		}
	})
}

func TestStringBuilderPoolConcurrency(t *testing.T) {
	var wg sync.WaitGroup
	concurrency := 100
	iterations := 1000

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				sb := GetStringBuilder()
				sb.WriteString("concurrent test")
				PutStringBuilder(sb)
			}
		}()
	}

	wg.Wait()
}

func TestByteSlicePool(t *testing.T) {
	b := GetByteSlice()
	if b == nil {
		t.Fatal("GetByteSlice returned nil")
	}
	if len(*b) != 0 {
		t.Errorf("Expected empty slice, got length %d", len(*b))
	}

	*b = append(*b, []byte("test data")...)

	PutByteSlice(b)

	b2 := GetByteSlice()
	if len(*b2) != 0 {
		t.Errorf("Pool returned non-empty slice: %d bytes", len(*b2))
	}
	PutByteSlice(b2)
}

func TestByteSlicePoolSizeLimits(t *testing.T) {
	large := make([]byte, 0, 2*1024*1024) // 2MB
	PutByteSlice(&large)

	b := GetByteSlice()
	if cap(*b) > 1024*1024 {
		t.Errorf("Pool returned a slice larger than expected: %d bytes", cap(*b))
	}
	PutByteSlice(b)
}

func TestStringSlicePool(t *testing.T) {
	s := GetStringSlice()
	if s == nil {
		t.Fatal("GetStringSlice returned nil")
	}
	if len(*s) != 0 {
		t.Errorf("Expected empty slice, got length %d", len(*s))
	}

	*s = append(*s, "a", "b")
	PutStringSlice(s)

	s2 := GetStringSlice()
	if len(*s2) != 0 {
		t.Errorf("Pool returned non-empty slice: %d entries", len(*s2))
	}
	PutStringSlice(s2)
}

func TestJSONEncoderPoolRoundTrip(t *testing.T) {
	w := GetJSONEncoder()
	if err := w.Encoder.Encode(map[string]int{"a": 1}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out map[string]int
	if err := json.Unmarshal(w.Buffer.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["a"] != 1 {
		t.Errorf("got %v", out)
	}
	PutJSONEncoder(w)

	w2 := GetJSONEncoder()
	if w2.Buffer.Len() != 0 {
		t.Errorf("expected reset buffer, got %d bytes", w2.Buffer.Len())
	}
	PutJSONEncoder(w2)
}

func TestJSONEncoderPoolSizeLimits(t *testing.T) {
	w := GetJSONEncoder()
	w.Buffer.Grow(2 * 1024 * 1024)
	PutJSONEncoder(w) // should be dropped, not pooled, given its size
}
