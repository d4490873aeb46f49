package schema

// datum.go implements the value representation shared by rows and
// per-column statistics.

import (
	"fmt"
	"math"

	"github.com/aalhour/quarrystore/internal/encoding"
)

// Datum is a single typed value, possibly NULL.
type Datum struct {
	Type Type
	Null bool

	i64  int64
	f64  float64
	str  string
	bool bool
}

// Null datum constructors carry the column type so encoders know the shape.

// NullOf returns a NULL datum of the given type.
func NullOf(t Type) Datum {
	return Datum{Type: t, Null: true}
}

// Int64 returns a BIGINT datum.
func Int64(v int64) Datum {
	return Datum{Type: TypeInt64, i64: v}
}

// Float64 returns a DOUBLE datum.
func Float64(v float64) Datum {
	return Datum{Type: TypeFloat64, f64: v}
}

// String returns a VARCHAR datum.
func String(v string) Datum {
	return Datum{Type: TypeString, str: v}
}

// Bool returns a BOOLEAN datum.
func Bool(v bool) Datum {
	return Datum{Type: TypeBool, bool: v}
}

// Int64Value returns the integer value. REQUIRES: Type == TypeInt64, !Null.
func (d Datum) Int64Value() int64 { return d.i64 }

// Float64Value returns the float value. REQUIRES: Type == TypeFloat64, !Null.
func (d Datum) Float64Value() float64 { return d.f64 }

// StringValue returns the string value. REQUIRES: Type == TypeString, !Null.
func (d Datum) StringValue() string { return d.str }

// BoolValue returns the boolean value. REQUIRES: Type == TypeBool, !Null.
func (d Datum) BoolValue() bool { return d.bool }

// GoString renders the datum for logs and dump tools.
func (d Datum) GoString() string {
	if d.Null {
		return "NULL"
	}
	switch d.Type {
	case TypeInt64:
		return fmt.Sprintf("%d", d.i64)
	case TypeFloat64:
		return fmt.Sprintf("%g", d.f64)
	case TypeString:
		return fmt.Sprintf("%q", d.str)
	case TypeBool:
		return fmt.Sprintf("%t", d.bool)
	default:
		return "?"
	}
}

// Compare orders two non-NULL datums of the same type.
// Returns <0, 0, >0. NULL sorts before any value.
func Compare(a, b Datum) int {
	if a.Null || b.Null {
		switch {
		case a.Null && b.Null:
			return 0
		case a.Null:
			return -1
		default:
			return 1
		}
	}
	switch a.Type {
	case TypeInt64:
		switch {
		case a.i64 < b.i64:
			return -1
		case a.i64 > b.i64:
			return 1
		}
		return 0
	case TypeFloat64:
		switch {
		case a.f64 < b.f64:
			return -1
		case a.f64 > b.f64:
			return 1
		}
		return 0
	case TypeString:
		switch {
		case a.str < b.str:
			return -1
		case a.str > b.str:
			return 1
		}
		return 0
	case TypeBool:
		switch {
		case !a.bool && b.bool:
			return -1
		case a.bool && !b.bool:
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Equal reports whether two datums hold the same value (or are both NULL).
func Equal(a, b Datum) bool {
	if a.Type != b.Type && !(a.Null && b.Null) {
		return false
	}
	if a.Null || b.Null {
		return a.Null == b.Null
	}
	return Compare(a, b) == 0
}

// Encode appends the datum encoding to dst:
//
//	type (1B), null flag (1B), then for non-NULL values:
//	Int64/Float64: fixed64; Bool: 1B; String: length-prefixed
func (d Datum) Encode(dst []byte) []byte {
	dst = append(dst, byte(d.Type))
	if d.Null {
		return append(dst, 1)
	}
	dst = append(dst, 0)
	switch d.Type {
	case TypeInt64:
		dst = encoding.AppendFixed64(dst, uint64(d.i64))
	case TypeFloat64:
		dst = encoding.AppendFixed64(dst, math.Float64bits(d.f64))
	case TypeString:
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(d.str))
	case TypeBool:
		if d.bool {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	}
	return dst
}

// DecodeDatum decodes a datum from src, returning it and the remaining
// buffer.
func DecodeDatum(src []byte) (Datum, []byte, error) {
	if len(src) < 2 {
		return Datum{}, nil, ErrBadSchema
	}
	typ := Type(src[0])
	if !typ.IsValid() {
		return Datum{}, nil, fmt.Errorf("%w: bad datum type %d", ErrBadSchema, src[0])
	}
	if src[1] == 1 {
		return NullOf(typ), src[2:], nil
	}
	rest := src[2:]

	switch typ {
	case TypeInt64:
		v, rest, err := encoding.ReadFixed64(rest)
		if err != nil {
			return Datum{}, nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
		}
		return Int64(int64(v)), rest, nil
	case TypeFloat64:
		v, rest, err := encoding.ReadFixed64(rest)
		if err != nil {
			return Datum{}, nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
		}
		return Float64(math.Float64frombits(v)), rest, nil
	case TypeString:
		v, rest, err := encoding.ReadLengthPrefixedSlice(rest)
		if err != nil {
			return Datum{}, nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
		}
		return String(string(v)), rest, nil
	default: // TypeBool
		if len(rest) < 1 {
			return Datum{}, nil, ErrBadSchema
		}
		return Bool(rest[0] == 1), rest[1:], nil
	}
}
