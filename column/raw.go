package column

import (
	"github.com/alpacahq/colstore/utils/errs"
)

// RawAppend stages rows copied byte for byte from another column whose
// committed rows match this column's. Index and data bytes are written past
// the write cursor and only become staged rows on Finish; abandoning a
// RawAppend leaves the column untouched.
type RawAppend struct {
	c        *VarColumn
	rows     int64
	indexOff int64
	indexEnd int64
	indexPos int64
	dataOff  int64
	dataEnd  int64
	dataPos  int64
}

// BeginRaw prepares a raw append of rows entries carried by indexBytes
// index bytes and dataBytes data bytes.
func (c *VarColumn) BeginRaw(rows, indexBytes, dataBytes int64) (*RawAppend, error) {
	if err := c.checkWriter("column.beginRaw"); err != nil {
		return nil, err
	}
	if rows < 0 || indexBytes < 0 || dataBytes < 0 {
		return nil, errs.New(errs.ErrCorruptData, "column.beginRaw",
			"negative counts: rows %d, index %d, data %d", rows, indexBytes, dataBytes)
	}
	if indexBytes != rows*IndexEntrySize {
		return nil, errs.New(errs.ErrCorruptData, "column.beginRaw",
			"%d index bytes for %d rows", indexBytes, rows)
	}
	if rows > 0 && dataBytes < rows*LengthPrefixSize {
		return nil, errs.New(errs.ErrCorruptData, "column.beginRaw",
			"%d data bytes cannot hold %d rows", dataBytes, rows)
	}
	indexOff := (c.size + c.pending) * IndexEntrySize
	return &RawAppend{
		c:        c,
		rows:     rows,
		indexOff: indexOff,
		indexEnd: indexOff + indexBytes,
		indexPos: indexOff,
		dataOff:  c.cursor,
		dataEnd:  c.cursor + dataBytes,
		dataPos:  c.cursor,
	}, nil
}

// IndexRemaining returns the number of index bytes still expected.
func (a *RawAppend) IndexRemaining() int64 { return a.indexEnd - a.indexPos }

// DataRemaining returns the number of data bytes still expected.
func (a *RawAppend) DataRemaining() int64 { return a.dataEnd - a.dataPos }

// WriteIndex appends index bytes.
func (a *RawAppend) WriteIndex(p []byte) (int, error) {
	if int64(len(p)) > a.IndexRemaining() {
		return 0, errs.New(errs.ErrCorruptData, "column.writeIndex", "%d bytes past the declared index range", len(p))
	}
	n, err := a.c.index.WriteAt(p, a.indexPos)
	a.indexPos += int64(n)
	return n, err
}

// WriteData appends data bytes.
func (a *RawAppend) WriteData(p []byte) (int, error) {
	if int64(len(p)) > a.DataRemaining() {
		return 0, errs.New(errs.ErrCorruptData, "column.writeData", "%d bytes past the declared data range", len(p))
	}
	n, err := a.c.data.WriteAt(p, a.dataPos)
	a.dataPos += int64(n)
	return n, err
}

// Finish validates the received rows and stages them. The first row must
// start at the write cursor, offsets must not decrease and every record must
// fit before the next one.
func (a *RawAppend) Finish() error {
	if a.IndexRemaining() != 0 || a.DataRemaining() != 0 {
		return errs.New(errs.ErrProtocol, "column.finishRaw",
			"incomplete append: %d index and %d data bytes missing", a.IndexRemaining(), a.DataRemaining())
	}
	c := a.c
	if c.cursor != a.dataOff || (c.size+c.pending)*IndexEntrySize != a.indexOff {
		return errs.New(errs.ErrProtocol, "column.finishRaw", "column changed during raw append")
	}
	expected := a.dataOff
	for k := int64(0); k < a.rows; k++ {
		off, err := c.index.Int64(a.indexOff + k*IndexEntrySize)
		if err != nil {
			return err
		}
		if off != expected {
			return errs.New(errs.ErrCorruptData, "column.finishRaw",
				"row %d starts at %d, expected %d", c.size+c.pending+k, off, expected)
		}
		length, err := c.data.Int32(off)
		if err != nil {
			return err
		}
		if length < NullLength {
			return errs.New(errs.ErrCorruptData, "column.finishRaw", "row %d has length %d", c.size+c.pending+k, length)
		}
		expected = off + LengthPrefixSize
		if length > 0 {
			expected += int64(length)
		}
		if expected > a.dataEnd {
			return errs.New(errs.ErrCorruptData, "column.finishRaw",
				"row %d ends at %d past data end %d", c.size+c.pending+k, expected, a.dataEnd)
		}
	}
	if expected != a.dataEnd {
		return errs.New(errs.ErrCorruptData, "column.finishRaw", "rows end at %d, data ends at %d", expected, a.dataEnd)
	}
	c.pending += a.rows
	c.cursor = a.dataEnd
	return nil
}
