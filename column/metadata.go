package column

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// ColumnType is the declared type of a variable-length column. Storage does
// not depend on it; it only tells readers how to present values.
type ColumnType int

const (
	String ColumnType = iota
	Binary
)

func (t ColumnType) String() string {
	switch t {
	case String:
		return "string"
	case Binary:
		return "binary"
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// SymbolTable resolves symbol keys of a column to values. It is owned by
// the record layer.
type SymbolTable interface {
	Value(key int) (string, bool)
	Size() int
}

// Metadata describes a column to the record layer.
type Metadata interface {
	Name() string
	Type() ColumnType
	SymbolTable() SymbolTable
}

// RecordColumn is an immutable Metadata value.
type RecordColumn struct {
	name    string
	typ     ColumnType
	symbols SymbolTable
}

// NewRecordColumn returns metadata for a column. symbols may be nil.
func NewRecordColumn(name string, typ ColumnType, symbols SymbolTable) RecordColumn {
	return RecordColumn{name: name, typ: typ, symbols: symbols}
}

func (rc RecordColumn) Name() string             { return rc.name }
func (rc RecordColumn) Type() ColumnType         { return rc.typ }
func (rc RecordColumn) SymbolTable() SymbolTable { return rc.symbols }

// EncodingByName returns the string encoding for a config value: "utf-8"
// (Go strings stored as is) or "utf-16" (little-endian, no BOM).
func EncodingByName(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "", "utf8":
		return encoding.Nop, nil
	case "utf16", "utf16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case "utf16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	}
	return nil, fmt.Errorf("unknown string encoding: %q", name)
}
