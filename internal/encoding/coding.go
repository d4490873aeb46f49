// Package encoding provides the binary encoding/decoding primitives used by
// every persisted record in quarrystore (blocks, segment manifests and
// snapshot records).
//
// All multi-byte integers are encoded in little-endian format.
// Variable-length integers (varints) use 7-bit encoding with MSB continuation.
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarint32Length is the maximum number of bytes a varint32 can occupy.
const MaxVarint32Length = 5

// MaxVarint64Length is the maximum number of bytes a varint64 can occupy.
const MaxVarint64Length = 10

var (
	// ErrBufferTooSmall is returned when the buffer doesn't have enough bytes.
	ErrBufferTooSmall = errors.New("encoding: buffer too small")

	// ErrVarintOverflow is returned when a varint exceeds the maximum value.
	ErrVarintOverflow = errors.New("encoding: varint overflow")

	// ErrVarintTermination is returned when a varint doesn't terminate properly.
	ErrVarintTermination = errors.New("encoding: varint not terminated")
)

// -----------------------------------------------------------------------------
// Fixed-width encoding (little-endian)
// -----------------------------------------------------------------------------

// AppendFixed32 appends a uint32 in 4-byte little-endian format.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends a uint64 in 8-byte little-endian format.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// DecodeFixed32 decodes a uint32 from a 4-byte little-endian buffer.
// REQUIRES: src has at least 4 bytes.
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// DecodeFixed64 decodes a uint64 from an 8-byte little-endian buffer.
// REQUIRES: src has at least 8 bytes.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// ReadFixed32 decodes a uint32 and returns the remaining buffer.
func ReadFixed32(src []byte) (uint32, []byte, error) {
	if len(src) < 4 {
		return 0, nil, ErrBufferTooSmall
	}
	return binary.LittleEndian.Uint32(src), src[4:], nil
}

// ReadFixed64 decodes a uint64 and returns the remaining buffer.
func ReadFixed64(src []byte) (uint64, []byte, error) {
	if len(src) < 8 {
		return 0, nil, ErrBufferTooSmall
	}
	return binary.LittleEndian.Uint64(src), src[8:], nil
}

// -----------------------------------------------------------------------------
// Varint encoding (7-bit groups, MSB continuation)
// -----------------------------------------------------------------------------

// AppendVarint32 appends a uint32 in varint format.
func AppendVarint32(dst []byte, value uint32) []byte {
	for value >= 0x80 {
		dst = append(dst, byte(value)|0x80)
		value >>= 7
	}
	return append(dst, byte(value))
}

// AppendVarint64 appends a uint64 in varint format.
func AppendVarint64(dst []byte, value uint64) []byte {
	for value >= 0x80 {
		dst = append(dst, byte(value)|0x80)
		value >>= 7
	}
	return append(dst, byte(value))
}

// DecodeVarint32 decodes a varint32 from src.
// Returns the value, the number of bytes consumed, and an error if the
// varint is malformed or overflows 32 bits.
func DecodeVarint32(src []byte) (uint32, int, error) {
	var result uint32
	var shift uint
	for i := 0; i < len(src) && i < MaxVarint32Length; i++ {
		b := src[i]
		if shift == 28 && b > 0x0F {
			return 0, 0, ErrVarintOverflow
		}
		result |= uint32(b&0x7F) << shift
		if b < 0x80 {
			return result, i + 1, nil
		}
		shift += 7
	}
	if len(src) >= MaxVarint32Length {
		return 0, 0, ErrVarintOverflow
	}
	return 0, 0, ErrVarintTermination
}

// DecodeVarint64 decodes a varint64 from src.
// Returns the value, the number of bytes consumed, and an error if the
// varint is malformed or overflows 64 bits.
func DecodeVarint64(src []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < len(src) && i < MaxVarint64Length; i++ {
		b := src[i]
		if shift == 63 && b > 0x01 {
			return 0, 0, ErrVarintOverflow
		}
		result |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return result, i + 1, nil
		}
		shift += 7
	}
	if len(src) >= MaxVarint64Length {
		return 0, 0, ErrVarintOverflow
	}
	return 0, 0, ErrVarintTermination
}

// ReadVarint32 decodes a varint32 and returns the remaining buffer.
func ReadVarint32(src []byte) (uint32, []byte, error) {
	v, n, err := DecodeVarint32(src)
	if err != nil {
		return 0, nil, err
	}
	return v, src[n:], nil
}

// ReadVarint64 decodes a varint64 and returns the remaining buffer.
func ReadVarint64(src []byte) (uint64, []byte, error) {
	v, n, err := DecodeVarint64(src)
	if err != nil {
		return 0, nil, err
	}
	return v, src[n:], nil
}

// -----------------------------------------------------------------------------
// Length-prefixed slices
// -----------------------------------------------------------------------------

// AppendLengthPrefixedSlice appends a varint length followed by the bytes.
func AppendLengthPrefixedSlice(dst, value []byte) []byte {
	dst = AppendVarint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// ReadLengthPrefixedSlice reads a length-prefixed slice and returns the
// slice (aliasing src) and the remaining buffer.
func ReadLengthPrefixedSlice(src []byte) ([]byte, []byte, error) {
	length, rest, err := ReadVarint32(src)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < length {
		return nil, nil, ErrBufferTooSmall
	}
	return rest[:length], rest[length:], nil
}
