package encoding

import (
	"bytes"
	"errors"
	"testing"
)

func TestFixedRoundtrip(t *testing.T) {
	var buf []byte
	buf = AppendFixed32(buf, 0xDEADBEEF)
	buf = AppendFixed64(buf, 0x0123456789ABCDEF)

	v32, rest, err := ReadFixed32(buf)
	if err != nil {
		t.Fatalf("ReadFixed32 error: %v", err)
	}
	if v32 != 0xDEADBEEF {
		t.Errorf("ReadFixed32 = %#x, want 0xDEADBEEF", v32)
	}

	v64, rest, err := ReadFixed64(rest)
	if err != nil {
		t.Fatalf("ReadFixed64 error: %v", err)
	}
	if v64 != 0x0123456789ABCDEF {
		t.Errorf("ReadFixed64 = %#x, want 0x0123456789ABCDEF", v64)
	}
	if len(rest) != 0 {
		t.Errorf("unexpected remaining bytes: %d", len(rest))
	}
}

func TestFixedShortBuffer(t *testing.T) {
	if _, _, err := ReadFixed32([]byte{1, 2, 3}); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("ReadFixed32 short buffer: err = %v, want ErrBufferTooSmall", err)
	}
	if _, _, err := ReadFixed64([]byte{1, 2, 3, 4, 5, 6, 7}); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("ReadFixed64 short buffer: err = %v, want ErrBufferTooSmall", err)
	}
}

func TestVarint32Roundtrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 255, 256, 16383, 16384, 1 << 21, 1 << 28, 0xFFFFFFFF}
	for _, v := range values {
		buf := AppendVarint32(nil, v)
		got, n, err := DecodeVarint32(buf)
		if err != nil {
			t.Fatalf("DecodeVarint32(%d) error: %v", v, err)
		}
		if got != v {
			t.Errorf("DecodeVarint32 = %d, want %d", got, v)
		}
		if n != len(buf) {
			t.Errorf("DecodeVarint32(%d) consumed %d bytes, want %d", v, n, len(buf))
		}
	}
}

func TestVarint64Roundtrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 1 << 35, 1 << 56, ^uint64(0)}
	for _, v := range values {
		buf := AppendVarint64(nil, v)
		got, n, err := DecodeVarint64(buf)
		if err != nil {
			t.Fatalf("DecodeVarint64(%d) error: %v", v, err)
		}
		if got != v {
			t.Errorf("DecodeVarint64 = %d, want %d", got, v)
		}
		if n != len(buf) {
			t.Errorf("DecodeVarint64(%d) consumed %d bytes, want %d", v, n, len(buf))
		}
	}
}

func TestVarintMalformed(t *testing.T) {
	// All continuation bits set, never terminated.
	if _, _, err := DecodeVarint32([]byte{0x80, 0x80}); !errors.Is(err, ErrVarintTermination) {
		t.Errorf("truncated varint32: err = %v, want ErrVarintTermination", err)
	}
	// Five full continuation bytes overflow 32 bits.
	if _, _, err := DecodeVarint32([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}); !errors.Is(err, ErrVarintOverflow) {
		t.Errorf("overflowing varint32: err = %v, want ErrVarintOverflow", err)
	}
	if _, _, err := DecodeVarint64(bytes.Repeat([]byte{0xFF}, 10)); !errors.Is(err, ErrVarintOverflow) {
		t.Errorf("overflowing varint64: err = %v, want ErrVarintOverflow", err)
	}
}

func TestLengthPrefixedSlice(t *testing.T) {
	tests := [][]byte{
		nil,
		{},
		[]byte("x"),
		[]byte("hello, world"),
		bytes.Repeat([]byte{0xAB}, 300),
	}

	for _, want := range tests {
		buf := AppendLengthPrefixedSlice(nil, want)
		got, rest, err := ReadLengthPrefixedSlice(buf)
		if err != nil {
			t.Fatalf("ReadLengthPrefixedSlice error: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("roundtrip mismatch: got %q, want %q", got, want)
		}
		if len(rest) != 0 {
			t.Errorf("unexpected remaining bytes: %d", len(rest))
		}
	}
}

func TestLengthPrefixedSliceTruncated(t *testing.T) {
	buf := AppendLengthPrefixedSlice(nil, []byte("hello"))
	_, _, err := ReadLengthPrefixedSlice(buf[:3])
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("truncated slice: err = %v, want ErrBufferTooSmall", err)
	}
}

func FuzzVarint64Roundtrip(f *testing.F) {
	f.Add(uint64(0))
	f.Add(uint64(127))
	f.Add(uint64(128))
	f.Add(^uint64(0))
	f.Fuzz(func(t *testing.T, v uint64) {
		buf := AppendVarint64(nil, v)
		got, n, err := DecodeVarint64(buf)
		if err != nil {
			t.Fatalf("DecodeVarint64 error: %v", err)
		}
		if got != v || n != len(buf) {
			t.Errorf("roundtrip: got (%d, %d), want (%d, %d)", got, n, v, len(buf))
		}
	})
}
