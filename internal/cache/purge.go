package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/lockfile"
)

// Report summarises a purge.
type Report struct {
	// Removed and Skipped hold cache keys.
	Removed []string
	Skipped []string
	Bytes   int64
}

// Purge deletes every cache entry that no download currently holds. Entries
// whose lock is busy are reported as skipped.
func (m *Manager) Purge(ctx context.Context) (Report, error) {
	var report Report

	entries, err := os.ReadDir(m.layout.CacheDir())
	if errors.Is(err, fs.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return report, domain.IOError(zerr.With(zerr.Wrap(err, "list cache"), "path", m.layout.CacheDir()))
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		key := e.Name()
		path := filepath.Join(m.layout.CacheDir(), key)

		var lock *lockfile.Lock
		if lockfile.ValidName(domain.DownloadLockName(key)) {
			lock, err = m.locker.Exclusive(ctx, domain.DownloadLockName(key), lockfile.NonBlocking)
			if errors.Is(err, domain.ErrBusy) {
				m.logger.Info("skipping cache entry in use", "key", key)
				report.Skipped = append(report.Skipped, key)
				continue
			}
			if err != nil {
				return report, err
			}
		}

		size := diskUsage(path)
		rmErr := os.RemoveAll(path)
		_ = lock.Release()
		if rmErr != nil {
			return report, domain.IOError(zerr.With(zerr.Wrap(rmErr, "remove cache entry"), "path", path))
		}
		m.logger.Info("purged cache entry", "key", key, "bytes", size)
		report.Removed = append(report.Removed, key)
		report.Bytes += size
	}
	return report, nil
}

// diskUsage sums the sizes of regular files under path.
func diskUsage(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
