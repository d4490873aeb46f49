// Package schema defines the column model for quarrystore tables.
//
// A table schema is an ordered list of typed columns plus a version number.
// The schema version is recorded in every snapshot; segment statistics are
// validated against it during snapshot assembly.
package schema

import (
	"errors"
	"fmt"

	"github.com/aalhour/quarrystore/internal/encoding"
)

// Errors returned by schema validation and decoding.
var (
	// ErrTypeMismatch is returned when a row value does not match its column type.
	ErrTypeMismatch = errors.New("schema: value type mismatch")

	// ErrArityMismatch is returned when a row has the wrong number of values.
	ErrArityMismatch = errors.New("schema: row arity mismatch")

	// ErrBadSchema is returned when an encoded schema cannot be decoded.
	ErrBadSchema = errors.New("schema: corrupt schema encoding")

	// ErrEmptySchema is returned when a schema has no columns.
	ErrEmptySchema = errors.New("schema: schema has no columns")
)

// Type identifies a column type.
type Type uint8

const (
	// TypeInt64 is a signed 64-bit integer column.
	TypeInt64 Type = 1
	// TypeFloat64 is a 64-bit floating point column.
	TypeFloat64 Type = 2
	// TypeString is a variable-length string column.
	TypeString Type = 3
	// TypeBool is a boolean column.
	TypeBool Type = 4
)

// String returns the SQL-ish name of the type.
func (t Type) String() string {
	switch t {
	case TypeInt64:
		return "BIGINT"
	case TypeFloat64:
		return "DOUBLE"
	case TypeString:
		return "VARCHAR"
	case TypeBool:
		return "BOOLEAN"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// IsValid reports whether t names a known column type.
func (t Type) IsValid() bool {
	return t >= TypeInt64 && t <= TypeBool
}

// Column is a single table column.
type Column struct {
	Name string
	Type Type
}

// Schema is an ordered set of columns with a version number.
// Schemas are immutable once a table is created; a schema change bumps
// Version and produces snapshots carrying the new version.
type Schema struct {
	Version uint32
	Columns []Column
}

// New creates a version-1 schema over the given columns.
func New(columns ...Column) Schema {
	return Schema{Version: 1, Columns: columns}
}

// NumColumns returns the number of columns.
func (s Schema) NumColumns() int {
	return len(s.Columns)
}

// Validate checks that the schema itself is well-formed.
func (s Schema) Validate() error {
	if len(s.Columns) == 0 {
		return ErrEmptySchema
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("%w: empty column name", ErrBadSchema)
		}
		if !c.Type.IsValid() {
			return fmt.Errorf("%w: column %q has invalid type", ErrBadSchema, c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrBadSchema, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// ValidateRow checks a row's arity and value types against the schema.
func (s Schema) ValidateRow(row []Datum) error {
	if len(row) != len(s.Columns) {
		return fmt.Errorf("%w: got %d values, want %d", ErrArityMismatch, len(row), len(s.Columns))
	}
	for i, d := range row {
		if d.Null {
			continue
		}
		if d.Type != s.Columns[i].Type {
			return fmt.Errorf("%w: column %q wants %s, got %s",
				ErrTypeMismatch, s.Columns[i].Name, s.Columns[i].Type, d.Type)
		}
	}
	return nil
}

// Encode appends the schema encoding to dst:
//
//	version:   varint32
//	num_cols:  varint32
//	per column: type (1B), name (length-prefixed)
func (s Schema) Encode(dst []byte) []byte {
	dst = encoding.AppendVarint32(dst, s.Version)
	dst = encoding.AppendVarint32(dst, uint32(len(s.Columns)))
	for _, c := range s.Columns {
		dst = append(dst, byte(c.Type))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(c.Name))
	}
	return dst
}

// Decode decodes a schema from src, returning the schema and the
// remaining buffer.
func Decode(src []byte) (Schema, []byte, error) {
	version, rest, err := encoding.ReadVarint32(src)
	if err != nil {
		return Schema{}, nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
	}
	numCols, rest, err := encoding.ReadVarint32(rest)
	if err != nil {
		return Schema{}, nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
	}

	s := Schema{Version: version, Columns: make([]Column, 0, numCols)}
	for i := uint32(0); i < numCols; i++ {
		if len(rest) < 1 {
			return Schema{}, nil, ErrBadSchema
		}
		typ := Type(rest[0])
		rest = rest[1:]

		var name []byte
		name, rest, err = encoding.ReadLengthPrefixedSlice(rest)
		if err != nil {
			return Schema{}, nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
		}
		s.Columns = append(s.Columns, Column{Name: string(name), Type: typ})
	}
	if err := s.Validate(); err != nil {
		return Schema{}, nil, err
	}
	return s, rest, nil
}
