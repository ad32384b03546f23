//go:build !windows

package store

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CheckDiskSpace returns disk space information for the vault directory.
func (s *Store) CheckDiskSpace() (*DiskSpaceInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.dir, &stat); err != nil {
		// Directory may not exist before Init; fall back to its parent.
		if err := unix.Statfs(filepath.Dir(s.dir), &stat); err != nil {
			return nil, fmt.Errorf("store: failed to get disk stats: %w", err)
		}
	}

	bsize := uint64(stat.Bsize)
	total := uint64(stat.Blocks) * bsize
	free := uint64(stat.Bfree) * bsize

	return &DiskSpaceInfo{
		Total:     total,
		Free:      free,
		Available: uint64(stat.Bavail) * bsize,
		UsedPct:   usedPercent(total, free),
	}, nil
}
