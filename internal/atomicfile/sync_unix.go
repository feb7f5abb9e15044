//go:build !windows

package atomicfile

import (
	"os"

	"go.trai.ch/zerr"
)

// SyncDir flushes directory metadata so a preceding rename survives a crash.
func SyncDir(dir string) error {
	df, err := os.Open(dir)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "open directory"), "path", dir)
	}
	defer df.Close()
	if err := df.Sync(); err != nil {
		return zerr.With(zerr.Wrap(err, "sync directory"), "path", dir)
	}
	return nil
}
