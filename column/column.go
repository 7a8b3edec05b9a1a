// Package column implements an append-only column of variable-length
// values (strings, binary blobs or null) stored in a pair of regions.
//
// The index region is a dense array of little-endian int64 offsets, one per
// row, each pointing at the row's record in the data region. A record is a
// little-endian int32 length prefix followed by that many payload bytes; a
// prefix of NullLength marks a null value. Row 0 always starts at data
// offset 0, so an empty column needs no index entries.
package column

import (
	"math"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"golang.org/x/text/encoding"

	"github.com/alpacahq/colstore/region"
	"github.com/alpacahq/colstore/utils/errs"
	"github.com/alpacahq/colstore/utils/log"
)

const (
	// NullLength is the length prefix stored for a null value.
	NullLength int32 = -1
	// IndexEntrySize is the width of one index entry in bytes.
	IndexEntrySize = 8
	// LengthPrefixSize is the width of a record's length prefix in bytes.
	LengthPrefixSize = 4

	// DataFileSuffix and IndexFileSuffix name the two files of a column.
	DataFileSuffix  = ".d"
	IndexFileSuffix = ".i"
)

// Watermark is the committed extent of a column: its row count and the
// number of data bytes those rows occupy.
type Watermark struct {
	Rows     int64 `msgpack:"rows"`
	DataSize int64 `msgpack:"data_size"`
}

// VarColumn is a single-writer column of variable-length values. Rows become
// visible to readers only after Commit. Committed rows are immutable.
type VarColumn struct {
	data    *region.Region
	index   *region.Region
	enc     encoding.Encoding
	size    int64
	pending int64
	cursor  int64
	writer  *BinaryWriter
}

// Option configures a VarColumn.
type Option func(*VarColumn)

// WithEncoding sets the encoding used by PutString and GetString.
func WithEncoding(enc encoding.Encoding) Option {
	return func(c *VarColumn) {
		if enc != nil {
			c.enc = enc
		}
	}
}

// New binds a column to its data and index regions. The committed row count
// is taken from the index region's logical size.
func New(data, index *region.Region, opts ...Option) (*VarColumn, error) {
	c := &VarColumn{
		data:  data,
		index: index,
		enc:   encoding.Nop,
	}
	for _, opt := range opts {
		opt(c)
	}
	if index.Size()%IndexEntrySize != 0 {
		return nil, errs.New(errs.ErrCorruptData, "column.open",
			"index size %d of %s is not a multiple of %d", index.Size(), index.Path(), IndexEntrySize)
	}
	c.size = index.Size() / IndexEntrySize
	c.cursor = data.Size()
	if c.size > 0 {
		last, err := c.index.Int64((c.size - 1) * IndexEntrySize)
		if err != nil {
			return nil, err
		}
		if last < 0 || last+LengthPrefixSize > c.cursor {
			return nil, errs.New(errs.ErrCorruptData, "column.open",
				"last row offset %d outside data size %d of %s", last, c.cursor, data.Path())
		}
	}
	return c, nil
}

// Open opens or creates the column files <dir>/<name>.d and <dir>/<name>.i.
func Open(dir, name string, dataBitHint, indexBitHint int, opts ...Option) (*VarColumn, error) {
	data, err := region.Open(filepath.Join(dir, name+DataFileSuffix), dataBitHint, region.Append)
	if err != nil {
		return nil, err
	}
	index, err := region.Open(filepath.Join(dir, name+IndexFileSuffix), indexBitHint, region.Append)
	if err != nil {
		_ = data.Close()
		return nil, err
	}
	c, err := New(data, index, opts...)
	if err != nil {
		_ = multierr.Append(data.Close(), index.Close())
		return nil, err
	}
	log.Debug("opened column %s/%s with %d rows", dir, name, c.size)
	return c, nil
}

// Exists reports whether the data file of column name exists in dir.
func Exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name+DataFileSuffix))
	return err == nil
}

// Size returns the number of committed rows.
func (c *VarColumn) Size() int64 { return c.size }

// Pending returns the number of staged, uncommitted rows.
func (c *VarColumn) Pending() int64 { return c.pending }

// DataSize returns the number of data bytes occupied by committed rows.
func (c *VarColumn) DataSize() int64 { return c.data.Size() }

// Watermark returns the committed extent of the column.
func (c *VarColumn) Watermark() Watermark {
	return Watermark{Rows: c.size, DataSize: c.data.Size()}
}

// DataRegion returns the region holding the records.
func (c *VarColumn) DataRegion() *region.Region { return c.data }

// IndexRegion returns the region holding the row offsets.
func (c *VarColumn) IndexRegion() *region.Region { return c.index }

// DataOffset returns the data offset at which row i begins, for
// 0 <= i <= Size(). DataOffset(Size()) is the committed data size.
func (c *VarColumn) DataOffset(i int64) (int64, error) {
	switch {
	case i < 0 || i > c.size:
		return 0, errs.New(errs.ErrOutOfBounds, "column.dataOffset", "row %d outside [0, %d]", i, c.size)
	case i == c.size:
		return c.data.Size(), nil
	}
	return c.index.Int64(i * IndexEntrySize)
}

func (c *VarColumn) checkWriter(op string) error {
	if c.writer != nil {
		return errs.New(errs.ErrIO, op, "binary writer for %s still open", c.data.Path())
	}
	return nil
}

// stage appends a record at the write cursor and its index entry after the
// last staged one. The column is unchanged if any write fails.
func (c *VarColumn) stage(length int32, payload []byte) error {
	off := c.cursor
	if err := c.data.PutInt32(off, length); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := c.data.WriteAt(payload, off+LengthPrefixSize); err != nil {
			return err
		}
	}
	return c.stageIndex(off, off+LengthPrefixSize+int64(len(payload)))
}

func (c *VarColumn) stageIndex(off, next int64) error {
	if err := c.index.PutInt64((c.size+c.pending)*IndexEntrySize, off); err != nil {
		return err
	}
	c.cursor = next
	c.pending++
	return nil
}

// PutBytes stages a binary value. A nil or empty slice is stored as an empty
// value, not as null.
func (c *VarColumn) PutBytes(p []byte) error {
	if err := c.checkWriter("column.putBytes"); err != nil {
		return err
	}
	if len(p) > math.MaxInt32 {
		return errs.New(errs.ErrIO, "column.putBytes", "value of %d bytes is too large", len(p))
	}
	return c.stage(int32(len(p)), p)
}

// PutString stages s encoded with the column's encoding.
func (c *VarColumn) PutString(s string) error {
	return c.PutStringEncoded(s, c.enc)
}

// PutStringEncoded stages s encoded with enc.
func (c *VarColumn) PutStringEncoded(s string, enc encoding.Encoding) error {
	if enc == nil || enc == encoding.Nop {
		return c.PutBytes([]byte(s))
	}
	b, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return errs.Wrap(errs.ErrIO, "column.putString", err)
	}
	return c.PutBytes(b)
}

// PutNull stages a null value.
func (c *VarColumn) PutNull() error {
	if err := c.checkWriter("column.putNull"); err != nil {
		return err
	}
	return c.stage(NullLength, nil)
}

// PutBin starts a streamed binary value. The value is staged when the
// returned writer is closed; no other put may happen in between.
func (c *VarColumn) PutBin() (*BinaryWriter, error) {
	if err := c.checkWriter("column.putBin"); err != nil {
		return nil, err
	}
	if err := c.data.PutInt32(c.cursor, 0); err != nil {
		return nil, err
	}
	c.writer = &BinaryWriter{c: c, start: c.cursor, pos: c.cursor + LengthPrefixSize}
	return c.writer, nil
}

// Commit publishes every staged row. It is a no-op if nothing is staged.
func (c *VarColumn) Commit() error {
	if err := c.checkWriter("column.commit"); err != nil {
		return err
	}
	if c.pending == 0 {
		return nil
	}
	if err := c.data.SetSize(c.cursor); err != nil {
		return err
	}
	if err := c.index.SetSize((c.size + c.pending) * IndexEntrySize); err != nil {
		return err
	}
	c.size += c.pending
	c.pending = 0
	return nil
}

// Rollback discards every staged row. An open BinaryWriter is discarded
// too; its later writes fail.
func (c *VarColumn) Rollback() {
	c.discardWriter("column.rollback")
	c.pending = 0
	c.cursor = c.data.Size()
}

// Truncate discards committed rows from n on, along with anything staged.
func (c *VarColumn) Truncate(n int64) error {
	if n < 0 || n > c.size {
		return errs.New(errs.ErrOutOfBounds, "column.truncate", "row %d outside [0, %d]", n, c.size)
	}
	off, err := c.DataOffset(n)
	if err != nil {
		return err
	}
	if err := c.index.SetSize(n * IndexEntrySize); err != nil {
		return err
	}
	if err := c.data.SetSize(off); err != nil {
		return err
	}
	c.size = n
	c.discardWriter("column.truncate")
	c.pending = 0
	c.cursor = off
	return nil
}

func (c *VarColumn) discardWriter(op string) {
	if c.writer == nil {
		return
	}
	c.writer.c = nil
	c.writer.err = errs.New(errs.ErrIO, op, "binary value discarded before close")
	c.writer = nil
}

// locate returns the data offset and length prefix of committed row i,
// checking that the record lies within [offset(i), offset(i+1)).
func (c *VarColumn) locate(op string, i int64) (int64, int32, error) {
	if i < 0 || i >= c.size {
		return 0, 0, errs.New(errs.ErrOutOfBounds, op, "row %d outside [0, %d)", i, c.size)
	}
	off, err := c.DataOffset(i)
	if err != nil {
		return 0, 0, err
	}
	next, err := c.DataOffset(i + 1)
	if err != nil {
		return 0, 0, err
	}
	if off < 0 || off+LengthPrefixSize > next {
		return 0, 0, errs.New(errs.ErrCorruptData, op, "row %d spans [%d, %d)", i, off, next)
	}
	length, err := c.data.Int32(off)
	if err != nil {
		return 0, 0, err
	}
	if length < NullLength || off+LengthPrefixSize+int64(length) > next {
		return 0, 0, errs.New(errs.ErrCorruptData, op, "row %d has length %d in [%d, %d)", i, length, off, next)
	}
	return off, length, nil
}

// Len returns the payload length of row i, or NullLength for null.
func (c *VarColumn) Len(i int64) (int32, error) {
	_, length, err := c.locate("column.len", i)
	return length, err
}

// IsNull reports whether row i is null.
func (c *VarColumn) IsNull(i int64) (bool, error) {
	length, err := c.Len(i)
	return length == NullLength, err
}

// GetBytes returns a copy of row i. Null yields a nil slice, an empty value
// a non-nil empty one.
func (c *VarColumn) GetBytes(i int64) ([]byte, error) {
	off, length, err := c.locate("column.getBytes", i)
	if err != nil || length == NullLength {
		return nil, err
	}
	b := make([]byte, length)
	if _, err := c.data.ReadAt(b, off+LengthPrefixSize); err != nil {
		return nil, err
	}
	return b, nil
}

// GetString returns row i decoded with the column's encoding. ok is false
// for null.
func (c *VarColumn) GetString(i int64) (s string, ok bool, err error) {
	return c.GetStringEncoded(i, c.enc)
}

// GetStringEncoded returns row i decoded with enc. ok is false for null.
func (c *VarColumn) GetStringEncoded(i int64, enc encoding.Encoding) (s string, ok bool, err error) {
	b, err := c.GetBytes(i)
	if err != nil || b == nil {
		return "", false, err
	}
	if enc != nil && enc != encoding.Nop {
		if b, err = enc.NewDecoder().Bytes(b); err != nil {
			return "", false, errs.Wrap(errs.ErrCorruptData, "column.getString", err)
		}
	}
	return string(b), true, nil
}

// StreamBinary returns a forward-only reader over the payload of row i, or
// nil for null.
func (c *VarColumn) StreamBinary(i int64) (*BinaryReader, error) {
	off, length, err := c.locate("column.streamBinary", i)
	if err != nil || length == NullLength {
		return nil, err
	}
	return &BinaryReader{data: c.data, start: off + LengthPrefixSize, length: int64(length)}, nil
}

// Verify checks every committed row: offsets must not decrease and each
// record must fit before the next one.
func (c *VarColumn) Verify() error {
	for i := int64(0); i < c.size; i++ {
		if _, _, err := c.locate("column.verify", i); err != nil {
			return err
		}
	}
	return nil
}

// Close closes both regions. Staged rows are discarded.
func (c *VarColumn) Close() error {
	c.Rollback()
	return multierr.Append(c.data.Close(), c.index.Close())
}
