package region

import (
	"errors"
	"io"
	"os"
)

// pager maps and releases the pages of a region's backing file.
type pager interface {
	// grow extends the backing file to at least size bytes.
	grow(size int64) error
	// load returns the page starting at file offset off.
	load(off int64) ([]byte, error)
	// flush persists the page starting at off.
	flush(off int64, page []byte) error
	// release persists and drops the page starting at off.
	release(off int64, page []byte) error
	truncate(size int64) error
	close() error
}

// filePager keeps pages on the heap and moves them with ReadAt/WriteAt. It
// backs regions whose page size is not a multiple of the OS page size.
type filePager struct {
	fp       *os.File
	pageSize int64
}

func (p *filePager) grow(size int64) error {
	return p.fp.Truncate(size)
}

func (p *filePager) load(off int64) ([]byte, error) {
	page := make([]byte, p.pageSize)
	if _, err := p.fp.ReadAt(page, off); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return page, nil
}

func (p *filePager) flush(off int64, page []byte) error {
	_, err := p.fp.WriteAt(page, off)
	return err
}

func (p *filePager) release(off int64, page []byte) error {
	return p.flush(off, page)
}

func (p *filePager) truncate(size int64) error {
	return p.fp.Truncate(size)
}

func (p *filePager) close() error {
	return p.fp.Close()
}
