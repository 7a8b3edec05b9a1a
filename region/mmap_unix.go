//go:build unix

package region

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapPager maps each page as its own shared mapping, so growing the region
// never moves pages that are already mapped.
type mmapPager struct {
	filePager
}

func newPager(fp *os.File, pageSize int64) pager {
	if pageSize%int64(os.Getpagesize()) == 0 {
		return &mmapPager{filePager{fp: fp, pageSize: pageSize}}
	}
	return &filePager{fp: fp, pageSize: pageSize}
}

func (p *mmapPager) load(off int64) ([]byte, error) {
	return unix.Mmap(int(p.fp.Fd()), off, int(p.pageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (p *mmapPager) flush(_ int64, page []byte) error {
	return unix.Msync(page, unix.MS_SYNC)
}

func (p *mmapPager) release(_ int64, page []byte) error {
	return unix.Munmap(page)
}
