package metrics

import (
	"context"
	"io/fs"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alpacahq/colstore/utils/log"
)

// Setter is an interface for prometheus metrics to improve unit-testability.
type Setter interface {
	Set(m float64)
}

// StartDiskUsageMonitor retrieves the total disk usage of the provided directory at each provided time interval,
// and set it as a prometheus metric until the context is canceled.
func StartDiskUsageMonitor(ctx context.Context, s Setter, rootDir string, interval time.Duration) {
	s.Set(float64(DiskUsage(rootDir)))

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Set(float64(DiskUsage(rootDir)))
		}
	}
}

// DiskUsage returns the bytes allocated on disk by the files under path.
func DiskUsage(path string) int64 {
	// st_blocks is counted in 512 byte units
	const blockUnit = 512
	var totalSize int64
	err := filepath.WalkDir(path, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		// Regions extend column files by truncate, and the pages not written yet do not consume
		// actual disk usage even if the large file size is allocated.
		stat, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			log.Error("failed to get Stat_t for the file %s", filePath)
			totalSize += info.Size()
			return nil
		}
		totalSize += stat.Blocks * blockUnit
		return nil
	})
	if err != nil {
		log.Error("get the disk usage of the directory for monitoring %s: %v", path, err)
	}
	return totalSize
}
