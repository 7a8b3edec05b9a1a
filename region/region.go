// Package region implements a growable, page-mapped byte space backed by a
// single file. Pages are a fixed power-of-two size chosen at open time, are
// mapped lazily on first access and keep their backing memory until the
// region is closed, so slices handed out by the region stay valid while it
// is open.
package region

import (
	"encoding/binary"
	"os"

	"go.uber.org/multierr"

	"github.com/alpacahq/colstore/utils/errs"
	"github.com/alpacahq/colstore/utils/log"
)

const (
	// MinBitHint is the smallest supported page size exponent (256 bytes).
	MinBitHint = 8
	// MaxBitHint is the largest supported page size exponent (1GiB).
	MaxBitHint = 30
)

// Mode controls what happens to the backing file on Close.
type Mode int

const (
	// Append truncates the backing file to the logical size on Close.
	Append Mode = iota
	// ReadWrite leaves the backing file at its mapped length on Close.
	ReadWrite
)

func (m Mode) String() string {
	if m == Append {
		return "append"
	}
	return "read-write"
}

// Region is a file-backed byte space addressed by absolute int64 offsets.
// It is not safe for concurrent mutation.
type Region struct {
	path     string
	mode     Mode
	bitHint  uint
	pageSize int64
	mask     int64
	pages    [][]byte
	size     int64
	fileLen  int64
	pager    pager
	closed   bool
}

// Open opens or creates the file at path as a region with pages of
// 1<<bitHint bytes. The logical size of an existing file is its length.
func Open(path string, bitHint int, mode Mode) (*Region, error) {
	if bitHint < MinBitHint || bitHint > MaxBitHint {
		return nil, errs.New(errs.ErrOutOfBounds, "region.open", "bit hint %d outside [%d, %d]", bitHint, MinBitHint, MaxBitHint)
	}
	fp, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.ErrIO, "region.open", err)
	}
	fi, err := fp.Stat()
	if err != nil {
		_ = fp.Close()
		return nil, errs.Wrap(errs.ErrIO, "region.open", err)
	}
	pageSize := int64(1) << uint(bitHint)
	r := &Region{
		path:     path,
		mode:     mode,
		bitHint:  uint(bitHint),
		pageSize: pageSize,
		mask:     pageSize - 1,
		size:     fi.Size(),
		fileLen:  fi.Size(),
		pager:    newPager(fp, pageSize),
	}
	log.Debug("opened region %s: page size %d, size %d, mode %s", path, pageSize, r.size, mode)
	return r, nil
}

// Path returns the backing file path.
func (r *Region) Path() string { return r.path }

// PageSize returns the fixed page size in bytes.
func (r *Region) PageSize() int64 { return r.pageSize }

// Size returns the logical size.
func (r *Region) Size() int64 { return r.size }

// Extent returns the number of bytes currently mapped.
func (r *Region) Extent() int64 { return int64(len(r.pages)) << r.bitHint }

// SetSize sets the logical size. The new size must lie within the mapped
// extent or the existing file.
func (r *Region) SetSize(n int64) error {
	if n < 0 || (n > r.Extent() && n > r.fileLen) {
		return errs.New(errs.ErrOutOfBounds, "region.setSize", "size %d beyond extent %d of %s", n, r.Extent(), r.path)
	}
	r.size = n
	return nil
}

// Ensure maps every page covering [off, off+n), extending the backing file
// as needed. On failure the region keeps its prior extent.
func (r *Region) Ensure(off, n int64) error {
	if r.closed {
		return errs.New(errs.ErrIO, "region.ensure", "%s is closed", r.path)
	}
	if off < 0 || n < 0 {
		return errs.New(errs.ErrOutOfBounds, "region.ensure", "negative range [%d, +%d)", off, n)
	}
	if n == 0 {
		return nil
	}
	last := int((off + n - 1) >> r.bitHint)
	prior := len(r.pages)
	for p := prior; p <= last; p++ {
		if err := r.mapPage(p); err != nil {
			r.unmapFrom(prior)
			return err
		}
	}
	return nil
}

func (r *Region) mapPage(p int) error {
	end := int64(p+1) << r.bitHint
	if end > r.fileLen {
		if err := r.pager.grow(end); err != nil {
			return errs.Wrap(errs.ErrIO, "region.grow", err)
		}
		r.fileLen = end
	}
	page, err := r.pager.load(int64(p) << r.bitHint)
	if err != nil {
		return errs.Wrap(errs.ErrIO, "region.map", err)
	}
	r.pages = append(r.pages, page)
	return nil
}

func (r *Region) unmapFrom(p int) {
	for i := len(r.pages) - 1; i >= p; i-- {
		if err := r.pager.release(int64(i)<<r.bitHint, r.pages[i]); err != nil {
			log.Error("failed to release page %d of %s: %v", i, r.path, err)
		}
		r.pages[i] = nil
	}
	r.pages = r.pages[:p]
}

// readable maps [off, off+n) if it lies within the file and fails otherwise.
func (r *Region) readable(op string, off, n int64) error {
	if off < 0 || n < 0 {
		return errs.New(errs.ErrOutOfBounds, op, "negative range [%d, +%d)", off, n)
	}
	end := off + n
	if end <= r.Extent() {
		return nil
	}
	if end > r.fileLen {
		return errs.New(errs.ErrOutOfBounds, op, "range [%d, %d) beyond extent %d of %s", off, end, r.fileLen, r.path)
	}
	return r.Ensure(off, n)
}

// Slices returns an iterator over the page-bounded slices covering
// [off, off+n). The range must already be readable.
func (r *Region) Slices(off, n int64) *SliceIterator {
	it := &SliceIterator{r: r, off: off, end: off + n}
	it.err = r.readable("region.slices", off, n)
	return it
}

// writable returns an iterator over [off, off+n), growing the region.
func (r *Region) writable(off, n int64) *SliceIterator {
	it := &SliceIterator{r: r, off: off, end: off + n}
	it.err = r.Ensure(off, n)
	return it
}

// ReadAt implements io.ReaderAt. A read beyond the mapped extent and the
// backing file fails with errs.ErrOutOfBounds.
func (r *Region) ReadAt(p []byte, off int64) (int, error) {
	it := r.Slices(off, int64(len(p)))
	n := 0
	for it.Next() {
		n += copy(p[n:], it.Bytes())
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	return n, nil
}

// WriteAt implements io.WriterAt, growing the region to fit p. It does not
// change the logical size.
func (r *Region) WriteAt(p []byte, off int64) (int, error) {
	it := r.writable(off, int64(len(p)))
	n := 0
	for it.Next() {
		n += copy(it.Bytes(), p[n:])
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	return n, nil
}

// Byte returns the byte at off.
func (r *Region) Byte(off int64) (byte, error) {
	if err := r.readable("region.byte", off, 1); err != nil {
		return 0, err
	}
	return r.pages[off>>r.bitHint][off&r.mask], nil
}

// PutByte stores b at off.
func (r *Region) PutByte(off int64, b byte) error {
	if err := r.Ensure(off, 1); err != nil {
		return err
	}
	r.pages[off>>r.bitHint][off&r.mask] = b
	return nil
}

// inPage returns the page slice holding [off, off+n) when the range does not
// cross a page boundary.
func (r *Region) inPage(off, n int64) []byte {
	start := off & r.mask
	if start+n > r.pageSize {
		return nil
	}
	return r.pages[off>>r.bitHint][start : start+n]
}

// Int32 reads a little-endian int32 at off.
func (r *Region) Int32(off int64) (int32, error) {
	if err := r.readable("region.int32", off, 4); err != nil {
		return 0, err
	}
	if b := r.inPage(off, 4); b != nil {
		return int32(binary.LittleEndian.Uint32(b)), nil
	}
	var buf [4]byte
	if _, err := r.ReadAt(buf[:], off); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// PutInt32 stores v little-endian at off.
func (r *Region) PutInt32(off int64, v int32) error {
	if err := r.Ensure(off, 4); err != nil {
		return err
	}
	if b := r.inPage(off, 4); b != nil {
		binary.LittleEndian.PutUint32(b, uint32(v))
		return nil
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := r.WriteAt(buf[:], off)
	return err
}

// Int64 reads a little-endian int64 at off.
func (r *Region) Int64(off int64) (int64, error) {
	if err := r.readable("region.int64", off, 8); err != nil {
		return 0, err
	}
	if b := r.inPage(off, 8); b != nil {
		return int64(binary.LittleEndian.Uint64(b)), nil
	}
	var buf [8]byte
	if _, err := r.ReadAt(buf[:], off); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// PutInt64 stores v little-endian at off.
func (r *Region) PutInt64(off int64, v int64) error {
	if err := r.Ensure(off, 8); err != nil {
		return err
	}
	if b := r.inPage(off, 8); b != nil {
		binary.LittleEndian.PutUint64(b, uint64(v))
		return nil
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := r.WriteAt(buf[:], off)
	return err
}

// Sync flushes mapped pages to the backing file.
func (r *Region) Sync() error {
	if r.closed {
		return nil
	}
	var err error
	for i, page := range r.pages {
		err = multierr.Append(err, r.pager.flush(int64(i)<<r.bitHint, page))
	}
	return errs.Wrap(errs.ErrIO, "region.sync", err)
}

// Close releases every mapped page and, in Append mode, truncates the
// backing file to the logical size. Every step is attempted even if an
// earlier one fails.
func (r *Region) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	for i, page := range r.pages {
		err = multierr.Append(err, r.pager.release(int64(i)<<r.bitHint, page))
	}
	r.pages = nil
	if r.mode == Append {
		err = multierr.Append(err, r.pager.truncate(r.size))
	}
	err = multierr.Append(err, r.pager.close())
	return errs.Wrap(errs.ErrIO, "region.close", err)
}

// SliceIterator walks a byte range one page-bounded slice at a time. The
// slices alias mapped memory and are valid until the region is closed.
type SliceIterator struct {
	r   *Region
	off int64
	end int64
	cur []byte
	err error
}

// Next advances to the next slice and reports whether there is one.
func (it *SliceIterator) Next() bool {
	if it.err != nil || it.off >= it.end {
		it.cur = nil
		return false
	}
	start := it.off & it.r.mask
	n := it.r.pageSize - start
	if rest := it.end - it.off; rest < n {
		n = rest
	}
	it.cur = it.r.pages[it.off>>it.r.bitHint][start : start+n]
	it.off += n
	return true
}

// Bytes returns the current slice.
func (it *SliceIterator) Bytes() []byte { return it.cur }

// Offset returns the region offset just past the current slice.
func (it *SliceIterator) Offset() int64 { return it.off }

// Err returns the error that stopped the iteration, if any.
func (it *SliceIterator) Err() error { return it.err }
