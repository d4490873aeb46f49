// Package checksum provides the integrity checksums stamped on every object
// quarrystore persists (blocks, segment manifests, snapshot records).
//
// Two algorithms are supported:
//   - CRC32C (Castagnoli) with rotation masking, so that checksums stored
//     inside checksummed payloads do not degrade the CRC
//   - XXH3 (64-bit, folded to 32 bits)
//
// Object envelopes store the compression type byte outside the payload, so
// both algorithms take the trailing byte as a separate argument.
package checksum

import (
	"hash/crc32"

	"github.com/zeebo/xxh3"
)

// Kind identifies a checksum algorithm.
type Kind uint8

const (
	// KindNone disables integrity checking.
	KindNone Kind = 0
	// KindCRC32C is CRC32C (Castagnoli) with masking.
	KindCRC32C Kind = 1
	// KindXXH3 is 64-bit XXH3 folded to 32 bits. The default.
	KindXXH3 Kind = 2
)

// String returns a human-readable name for the checksum kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindCRC32C:
		return "CRC32C"
	case KindXXH3:
		return "XXH3"
	default:
		return "Unknown"
	}
}

// IsValid reports whether k names a known algorithm.
func (k Kind) IsValid() bool {
	return k <= KindXXH3
}

// crc32cTable is the Castagnoli polynomial table used for CRC32C.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// maskDelta is the constant added during CRC masking.
const maskDelta = 0xa282ead8

// crc32cValue computes the raw CRC32C checksum of data.
func crc32cValue(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// Mask returns a masked representation of crc.
//
// It is problematic to compute the CRC of data that contains embedded CRCs,
// so checksums stored in objects are masked before being written.
func Mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask returns the crc whose masked representation is maskedCRC.
func Unmask(maskedCRC uint32) uint32 {
	rot := maskedCRC - maskDelta
	return (rot >> 17) | (rot << 15)
}

// xxh3Fold folds a 64-bit XXH3 hash to 32 bits and mixes in the trailing
// byte that lives outside the hashed payload.
func xxh3Fold(data []byte, lastByte byte) uint32 {
	const randomPrime = 0x6b9083d9
	h := xxh3.Hash(data)
	return (uint32(h) ^ uint32(h>>32)) ^ (uint32(lastByte) * randomPrime)
}

// Compute computes the checksum of kind k over data followed by lastByte.
// For object envelopes, data is the (compressed) payload and lastByte is
// the compression type indicator.
func Compute(k Kind, data []byte, lastByte byte) uint32 {
	switch k {
	case KindCRC32C:
		crc := crc32cValue(data)
		crc = crc32.Update(crc, crc32cTable, []byte{lastByte})
		return Mask(crc)
	case KindXXH3:
		return xxh3Fold(data, lastByte)
	default:
		return 0
	}
}

// Verify reports whether the stored checksum matches data followed by lastByte.
func Verify(k Kind, data []byte, lastByte byte, stored uint32) bool {
	if k == KindNone {
		return true
	}
	return Compute(k, data, lastByte) == stored
}
