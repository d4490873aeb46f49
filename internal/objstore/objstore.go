// Package objstore provides the object storage backend for quarrystore.
//
// Blocks, segment manifests and snapshot records are all persisted as
// opaque immutable objects addressed by an opaque location string. The
// backend only needs two operations:
//
//	Put(bytes) -> location
//	Get(location) -> bytes
//
// A Put must not return until the object is durable; the commit protocol
// relies on this when it swaps the snapshot pointer as its final step.
//
// Every object is wrapped in a self-describing envelope:
//
//	payload' = compress(payload)
//	object   = payload' || compression_type (1B) || checksum_kind (1B)
//	           || masked_checksum (4B, over payload' + compression_type)
//
// Readers therefore need no out-of-band codec configuration, and every
// read is integrity-checked.
package objstore

import (
	"errors"
	"fmt"

	"github.com/aalhour/quarrystore/internal/checksum"
	"github.com/aalhour/quarrystore/internal/compression"
	"github.com/aalhour/quarrystore/internal/encoding"
)

// Errors returned by object store operations.
var (
	// ErrNotFound is returned when a location does not resolve to an object.
	ErrNotFound = errors.New("objstore: object not found")

	// ErrCorruptObject is returned when an object fails its integrity check.
	ErrCorruptObject = errors.New("objstore: corrupt object")
)

// envelopeTrailerSize is compression type (1) + checksum kind (1) + checksum (4).
const envelopeTrailerSize = 6

// Store is the object storage backend interface.
//
// Implementations must be safe for concurrent use. Objects are write-once:
// a location returned by Put is never overwritten.
type Store interface {
	// Put durably stores data and returns its opaque location.
	Put(data []byte) (string, error)

	// Get returns the bytes previously stored at location.
	// Returns ErrNotFound if the location does not exist.
	Get(location string) ([]byte, error)
}

// Seal wraps payload in the object envelope: compresses it, then appends
// the compression type, checksum kind, and masked checksum.
func Seal(payload []byte, ct compression.Type, ck checksum.Kind) ([]byte, error) {
	compressed, err := compression.Compress(ct, payload)
	if err != nil {
		return nil, fmt.Errorf("objstore: seal: %w", err)
	}

	out := make([]byte, 0, len(compressed)+envelopeTrailerSize)
	out = append(out, compressed...)
	out = append(out, byte(ct), byte(ck))
	out = encoding.AppendFixed32(out, checksum.Compute(ck, compressed, byte(ct)))
	return out, nil
}

// Open verifies and unwraps an object envelope, returning the original
// payload. Returns ErrCorruptObject if the trailer is malformed, the
// checksum does not match, or decompression fails.
func Open(raw []byte) ([]byte, error) {
	if len(raw) < envelopeTrailerSize {
		return nil, ErrCorruptObject
	}

	body := raw[:len(raw)-envelopeTrailerSize]
	trailer := raw[len(raw)-envelopeTrailerSize:]

	ct := compression.Type(trailer[0])
	ck := checksum.Kind(trailer[1])
	stored := encoding.DecodeFixed32(trailer[2:])

	if !ct.IsSupported() || !ck.IsValid() {
		return nil, ErrCorruptObject
	}
	if !checksum.Verify(ck, body, byte(ct), stored) {
		return nil, ErrCorruptObject
	}

	payload, err := compression.Decompress(ct, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptObject, err)
	}
	return payload, nil
}

// PutSealed seals payload and stores it, returning the location.
func PutSealed(s Store, payload []byte, ct compression.Type, ck checksum.Kind) (string, error) {
	raw, err := Seal(payload, ct, ck)
	if err != nil {
		return "", err
	}
	return s.Put(raw)
}

// GetSealed fetches the object at location and unwraps its envelope.
func GetSealed(s Store, location string) ([]byte, error) {
	raw, err := s.Get(location)
	if err != nil {
		return nil, err
	}
	return Open(raw)
}
