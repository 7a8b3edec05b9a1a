package column

import (
	"io"
	"math"

	"github.com/alpacahq/colstore/region"
	"github.com/alpacahq/colstore/utils/errs"
)

// BinaryWriter streams one binary value into a column.
type BinaryWriter struct {
	c     *VarColumn
	start int64
	pos   int64
	err   error
}

// Write appends p to the value.
func (w *BinaryWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.c == nil {
		return 0, errs.New(errs.ErrIO, "column.binaryWriter", "write after close")
	}
	if w.pos-w.start-LengthPrefixSize+int64(len(p)) > math.MaxInt32 {
		w.err = errs.New(errs.ErrIO, "column.binaryWriter", "value exceeds %d bytes", math.MaxInt32)
		return 0, w.err
	}
	n, err := w.c.data.WriteAt(p, w.pos)
	if err != nil {
		w.err = err
		return 0, err
	}
	w.pos += int64(n)
	return n, nil
}

// Close stages the value on the column. After a failed write, or once the
// column rolled back, the value is dropped and the error returned.
func (w *BinaryWriter) Close() error {
	c := w.c
	if c == nil {
		return w.err
	}
	w.c = nil
	c.writer = nil
	if w.err != nil {
		return w.err
	}
	if err := c.data.PutInt32(w.start, int32(w.pos-w.start-LengthPrefixSize)); err != nil {
		return err
	}
	return c.stageIndex(w.start, w.pos)
}

// BinaryReader reads the payload of one committed binary value. It moves
// forward only; open a new reader to start over.
type BinaryReader struct {
	data   *region.Region
	start  int64
	length int64
	pos    int64
}

// Len returns the payload length.
func (r *BinaryReader) Len() int64 { return r.length }

// Read implements io.Reader.
func (r *BinaryReader) Read(p []byte) (int, error) {
	if r.pos >= r.length {
		return 0, io.EOF
	}
	n := int64(len(p))
	if rest := r.length - r.pos; n > rest {
		n = rest
	}
	if _, err := r.CopyTo(p, r.pos, n); err != nil {
		return 0, err
	}
	r.pos += n
	return int(n), nil
}

// WriteTo implements io.WriterTo, writing the unread rest of the payload.
func (r *BinaryReader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	it := r.data.Slices(r.start+r.pos, r.length-r.pos)
	for it.Next() {
		n, err := w.Write(it.Bytes())
		total += int64(n)
		r.pos += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, it.Err()
}

// ReadAt implements io.ReaderAt over the payload.
func (r *BinaryReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errs.New(errs.ErrOutOfBounds, "column.binaryReader", "negative offset %d", off)
	}
	if off >= r.length {
		return 0, io.EOF
	}
	n := int64(len(p))
	if rest := r.length - off; n > rest {
		n = rest
	}
	if _, err := r.CopyTo(p, off, n); err != nil {
		return 0, err
	}
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// CopyTo copies n payload bytes starting at off into dst, stitching the
// page-bounded pieces of the payload together. It does not move the read
// position.
func (r *BinaryReader) CopyTo(dst []byte, off, n int64) (int64, error) {
	if off < 0 || n < 0 || off+n > r.length || n > int64(len(dst)) {
		return 0, errs.New(errs.ErrOutOfBounds, "column.copyTo",
			"range [%d, +%d) of payload %d into %d bytes", off, n, r.length, len(dst))
	}
	var copied int64
	it := r.data.Slices(r.start+off, n)
	for it.Next() {
		copied += int64(copy(dst[copied:], it.Bytes()))
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	return copied, nil
}
