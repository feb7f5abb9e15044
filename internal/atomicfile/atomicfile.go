// Package atomicfile writes files so concurrent readers observe either the
// old content or the new content, never a mix.
package atomicfile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.trai.ch/zerr"
)

// WriteFile writes data to path using a sibling temporary file, fsync, rename
// and a directory fsync.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, "create directory"), "path", dir)
	}

	// Unique temp name so two writers never share a temp file.
	tmpPath := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "create temporary file"), "path", tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return zerr.With(zerr.Wrap(err, "write temporary file"), "path", tmpPath)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return zerr.With(zerr.Wrap(err, "sync temporary file"), "path", tmpPath)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return zerr.With(zerr.Wrap(err, "close temporary file"), "path", tmpPath)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return zerr.With(zerr.Wrap(err, "rename temporary file"), "path", path)
	}

	return SyncDir(dir)
}

// WriteJSON marshals v with indentation and writes it with WriteFile.
func WriteJSON(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return zerr.Wrap(err, "marshal json")
	}
	return WriteFile(path, append(data, '\n'), perm)
}

// Remove deletes path and syncs its parent directory. A missing file is not
// an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return zerr.With(zerr.Wrap(err, "remove file"), "path", path)
	}
	return SyncDir(filepath.Dir(path))
}

// Rename moves oldPath to newPath and syncs the destination directory, which
// makes directory commits durable as well as atomic.
func Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return zerr.With(zerr.With(zerr.Wrap(err, "rename"), "from", oldPath), "to", newPath)
	}
	return SyncDir(filepath.Dir(newPath))
}
