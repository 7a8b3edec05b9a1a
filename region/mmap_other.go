//go:build !unix

package region

import "os"

func newPager(fp *os.File, pageSize int64) pager {
	return &filePager{fp: fp, pageSize: pageSize}
}
