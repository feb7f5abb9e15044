package domain

import (
	"os"
	"path/filepath"

	"go.trai.ch/zerr"
)

const (
	cacheDirName    = "cache"
	installsDirName = "installs"
	locksDirName    = "locks"
	activeFileName  = "active"
	configFileName  = "config.lua"

	// MarkerFileName is the commit marker written into every install root.
	MarkerFileName = ".armtc-install.json"
)

// Layout maps a data root to the paths every component agrees on.
type Layout struct {
	Root string
}

// NewLayout returns the layout for root, made absolute.
func NewLayout(root string) (Layout, error) {
	if root == "" {
		return Layout{}, zerr.New("data root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, zerr.With(zerr.Wrap(err, "resolve data root"), "root", root)
	}
	return Layout{Root: abs}, nil
}

func (l Layout) CacheDir() string    { return filepath.Join(l.Root, cacheDirName) }
func (l Layout) InstallsDir() string { return filepath.Join(l.Root, installsDirName) }
func (l Layout) LocksDir() string    { return filepath.Join(l.Root, locksDirName) }
func (l Layout) ActiveFile() string  { return filepath.Join(l.Root, activeFileName) }
func (l Layout) ConfigFile() string  { return filepath.Join(l.Root, configFileName) }

// InstallDir is the committed location of version v.
func (l Layout) InstallDir(v Version) string {
	return filepath.Join(l.InstallsDir(), v.String())
}

// CacheEntryDir is the staging directory for one cache key.
func (l Layout) CacheEntryDir(key string) string {
	return filepath.Join(l.CacheDir(), key)
}

// Ensure creates the root and its subtrees if they are missing.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Root, l.CacheDir(), l.InstallsDir(), l.LocksDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return IOError(zerr.With(zerr.Wrap(err, "create data directory"), "path", dir))
		}
	}
	return nil
}

// Lock names shared across components.
const (
	RegistryLockName = "installs"
	ActiveLockName   = "active"
)

// DownloadLockName is the lock guarding the cache entry for key.
func DownloadLockName(key string) string {
	return "download-" + key
}

// InstallLockName is the lock guarding commit and removal of v.
func InstallLockName(v Version) string {
	return "install-" + v.String()
}
