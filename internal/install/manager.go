// Package install materialises verified archives into per-version install
// directories and removes them again.
//
// An install is committed by writing a marker file into the fully extracted
// tree and renaming the tree into place. Directories without a marker are
// never treated as installs, so readers cannot observe a partial extraction.
package install

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/active"
	"github.com/ZebulonRouseFrantzich/armtc/internal/atomicfile"
	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/lockfile"
)

const (
	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
	markerSchema  = 1
)

// Pointer is the active-toolchain pointer as seen by removal, which must
// clear it in the same critical section that removes the install it names.
type Pointer interface {
	Locked(ctx context.Context, fn func(tx *active.Txn) error) error
}

// Options configures a Manager.
type Options struct {
	// Pointer is cleared when the active version is removed. It may be nil
	// when no pointer is tracked.
	Pointer Pointer
	// Mode decides whether lock acquisition waits or fails with ErrBusy.
	Mode   lockfile.Mode
	Clock  domain.Clock
	Logger domain.Logger
}

// Marker is the commit record stored in every install root.
type Marker struct {
	Schema      int       `json:"schema"`
	Version     string    `json:"version"`
	Platform    string    `json:"platform"`
	Asset       string    `json:"asset"`
	Checksum    string    `json:"sha256"`
	InstalledAt time.Time `json:"installed_at"`
}

// Record is a committed install.
type Record struct {
	Version domain.Version
	// Root is the absolute install directory.
	Root   string
	Marker Marker
}

// Bin is the directory holding the toolchain's executables.
func (r *Record) Bin() string {
	return filepath.Join(r.Root, "bin")
}

// Manager owns the installs directory.
type Manager struct {
	layout    domain.Layout
	locker    *lockfile.Locker
	pointer   Pointer
	mode      lockfile.Mode
	clock     domain.Clock
	logger    domain.Logger
	extractor *Extractor
}

// New returns a Manager for layout.
func New(layout domain.Layout, locker *lockfile.Locker, opts Options) *Manager {
	m := &Manager{
		layout:    layout,
		locker:    locker,
		pointer:   opts.Pointer,
		mode:      opts.Mode,
		clock:     opts.Clock,
		logger:    domain.LoggerOrNop(opts.Logger),
		extractor: NewExtractor(),
	}
	if m.clock == nil {
		m.clock = domain.RealClock{}
	}
	return m
}

// Install extracts the verified archive at archivePath and commits it as
// rel.Version. Installing a committed version returns the existing record.
func (m *Manager) Install(ctx context.Context, rel domain.Release, archivePath string) (*Record, error) {
	return m.install(ctx, rel, archivePath, false)
}

// Reinstall is Install for a version that may already be present. The new
// tree is extracted first; the old directory, committed or not, is then
// swapped out under the pointer lock, so the pointer never names a missing
// install. A failed extraction leaves the old install in place.
func (m *Manager) Reinstall(ctx context.Context, rel domain.Release, archivePath string) (*Record, error) {
	return m.install(ctx, rel, archivePath, true)
}

func (m *Manager) install(ctx context.Context, rel domain.Release, archivePath string, replace bool) (_ *Record, err error) {
	v := rel.Version
	unlock, err := m.lockVersion(ctx, v)
	if err != nil {
		return nil, err
	}
	defer unlock()

	dir := m.layout.InstallDir(v)
	present := false
	if rec, err := m.readRecord(v); err == nil {
		if !replace {
			m.logger.Debug("already installed", "version", v.String())
			return rec, nil
		}
		present = true
	} else if !errors.Is(err, domain.ErrNotInstalled) {
		return nil, err
	}
	if _, err := os.Lstat(dir); err == nil {
		if !replace {
			return nil, zerr.With(zerr.Wrap(domain.ErrCorruptState, "install directory has no commit marker"), "path", dir)
		}
		present = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, domain.IOError(zerr.With(zerr.Wrap(err, "inspect install directory"), "path", dir))
	}

	staging := filepath.Join(m.layout.InstallsDir(), stagingPrefix+v.String()+"-"+uuid.NewString())
	defer func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil && err == nil {
			m.logger.Warn("could not remove staging directory", "path", staging, "error", rmErr)
		}
	}()

	m.logger.Info("extracting toolchain", "version", v.String(), "archive", filepath.Base(archivePath))
	if err := m.extractor.Extract(ctx, archivePath, staging); err != nil {
		return nil, zerr.With(err, "version", v.String())
	}
	root, err := contentRoot(staging)
	if err != nil {
		return nil, domain.IOError(err)
	}

	marker := Marker{
		Schema:      markerSchema,
		Version:     v.String(),
		Platform:    rel.Platform,
		Asset:       rel.AssetName,
		Checksum:    strings.ToLower(rel.Checksum),
		InstalledAt: m.clock.Now().UTC(),
	}
	if err := atomicfile.WriteJSON(filepath.Join(root, domain.MarkerFileName), marker, 0o644); err != nil {
		return nil, domain.IOError(zerr.With(zerr.Wrap(err, "write commit marker"), "version", v.String()))
	}

	// A cancelled install never commits.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if present {
		if err := m.swap(ctx, v, root); err != nil {
			return nil, err
		}
	} else if err := atomicfile.Rename(root, dir); err != nil {
		return nil, domain.IOError(zerr.With(zerr.Wrap(err, "commit install"), "version", v.String()))
	}
	m.logger.Info("installed toolchain", "version", v.String(), "path", dir)

	return &Record{Version: v, Root: dir, Marker: marker}, nil
}

// swap replaces the install directory of v with root. The caller holds the
// version lock.
func (m *Manager) swap(ctx context.Context, v domain.Version, root string) error {
	dir := m.layout.InstallDir(v)
	trash := m.trashPath(v)
	err := m.withPointer(ctx, func(*active.Txn) error {
		if err := m.moveToTrash(v, trash); err != nil {
			return err
		}
		if err := atomicfile.Rename(root, dir); err != nil {
			// Put the old install back so the pointer stays valid.
			if rbErr := os.Rename(trash, dir); rbErr != nil {
				m.logger.Error("could not restore install", "version", v.String(), "path", trash, "error", rbErr)
			}
			return domain.IOError(zerr.With(zerr.Wrap(err, "commit install"), "version", v.String()))
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("replaced existing install", "version", v.String())
	return m.deleteTrash(trash)
}

// InstalledVersions lists committed installs in ascending order.
func (m *Manager) InstalledVersions(ctx context.Context) ([]domain.Version, error) {
	entries, err := os.ReadDir(m.layout.InstallsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.IOError(zerr.With(zerr.Wrap(err, "list installs"), "path", m.layout.InstallsDir()))
	}

	var versions []domain.Version
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		v := domain.Version(e.Name())
		if !v.Valid() {
			continue
		}
		ok, err := m.IsCommitted(ctx, v)
		if err != nil {
			return nil, err
		}
		if ok {
			versions = append(versions, v)
		}
	}
	domain.SortVersions(versions)
	return versions, nil
}

// Lookup returns the committed record for v, or domain.ErrNotInstalled.
func (m *Manager) Lookup(_ context.Context, v domain.Version) (*Record, error) {
	return m.readRecord(v)
}

// IsCommitted reports whether v has a commit marker.
func (m *Manager) IsCommitted(_ context.Context, v domain.Version) (bool, error) {
	path := filepath.Join(m.layout.InstallDir(v), domain.MarkerFileName)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, domain.IOError(zerr.With(zerr.Wrap(err, "check commit marker"), "path", path))
	}
	return info.Mode().IsRegular(), nil
}

// Remove deletes the install of v, clearing the active pointer first when it
// names v.
func (m *Manager) Remove(ctx context.Context, v domain.Version) error {
	unlock, err := m.lockVersion(ctx, v)
	if err != nil {
		return err
	}
	defer unlock()

	ok, err := m.IsCommitted(ctx, v)
	if err != nil {
		return err
	}
	if !ok {
		return zerr.With(zerr.Wrap(domain.ErrNotInstalled, "cannot remove"), "version", v.String())
	}

	trash := m.trashPath(v)
	err = m.withPointer(ctx, func(tx *active.Txn) error {
		if tx != nil {
			if _, err := tx.ClearIf(v); err != nil {
				return err
			}
		}
		return m.moveToTrash(v, trash)
	})
	if err != nil {
		return err
	}
	m.logger.Info("removed toolchain", "version", v.String())
	return m.deleteTrash(trash)
}

// RemoveAll deletes every committed install and clears the pointer. With no
// installs and no pointer it fails with ErrNotInstalled. It holds the registry
// lock exclusively, so it is ordered entirely before or after
// any concurrent install or single removal.
func (m *Manager) RemoveAll(ctx context.Context) ([]domain.Version, error) {
	reg, err := m.locker.Exclusive(ctx, domain.RegistryLockName, m.mode)
	if err != nil {
		return nil, err
	}
	defer reg.Release()

	versions, err := m.InstalledVersions(ctx)
	if err != nil {
		return nil, err
	}

	trashes := make([]string, 0, len(versions))
	var removed []domain.Version
	err = m.withPointer(ctx, func(tx *active.Txn) error {
		if len(versions) == 0 && !pointerPresent(tx) {
			return zerr.Wrap(domain.ErrNotInstalled, "no toolchains to remove")
		}
		if tx != nil {
			if err := tx.Clear(); err != nil {
				return err
			}
		}
		for _, v := range versions {
			trash := m.trashPath(v)
			if err := m.moveToTrash(v, trash); err != nil {
				return err
			}
			trashes = append(trashes, trash)
			removed = append(removed, v)
		}
		return nil
	})
	for _, trash := range trashes {
		if delErr := m.deleteTrash(trash); delErr != nil && err == nil {
			err = delErr
		}
	}
	if len(removed) > 0 {
		m.logger.Info("removed all toolchains", "count", len(removed))
	}
	return removed, err
}

// Sweep deletes staging and trash directories left behind by interrupted
// operations. Directories whose version lock is held, or everything when
// the registry is locked for bulk removal, are left alone.
func (m *Manager) Sweep(ctx context.Context) ([]string, error) {
	reg, err := m.locker.Shared(ctx, domain.RegistryLockName, lockfile.NonBlocking)
	if errors.Is(err, domain.ErrBusy) {
		m.logger.Debug("install registry busy, not sweeping")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer reg.Release()

	entries, err := os.ReadDir(m.layout.InstallsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.IOError(zerr.With(zerr.Wrap(err, "list installs"), "path", m.layout.InstallsDir()))
	}

	var swept []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		v, ok := leftoverVersion(e.Name())
		if !ok {
			continue
		}
		lock, err := m.locker.Exclusive(ctx, domain.InstallLockName(v), lockfile.NonBlocking)
		if errors.Is(err, domain.ErrBusy) {
			m.logger.Debug("leftover in use", "path", e.Name())
			continue
		}
		if err != nil {
			return swept, err
		}
		path := filepath.Join(m.layout.InstallsDir(), e.Name())
		rmErr := os.RemoveAll(path)
		_ = lock.Release()
		if rmErr != nil {
			return swept, domain.IOError(zerr.With(zerr.Wrap(rmErr, "remove leftover"), "path", path))
		}
		m.logger.Info("removed leftover install directory", "path", path)
		swept = append(swept, e.Name())
	}
	return swept, nil
}

// lockVersion takes the registry lock shared and the version lock
// exclusively, in that order.
func (m *Manager) lockVersion(ctx context.Context, v domain.Version) (func(), error) {
	if !v.Valid() {
		return nil, zerr.With(zerr.New("invalid version"), "version", v.String())
	}
	reg, err := m.locker.Shared(ctx, domain.RegistryLockName, m.mode)
	if err != nil {
		return nil, err
	}
	ver, err := m.locker.Exclusive(ctx, domain.InstallLockName(v), m.mode)
	if err != nil {
		_ = reg.Release()
		return nil, err
	}
	return func() {
		_ = ver.Release()
		_ = reg.Release()
	}, nil
}

// withPointer runs fn under the pointer lock, or with a nil Txn when no
// pointer is tracked.
// pointerPresent reports whether the pointer file exists, readable or not.
func pointerPresent(tx *active.Txn) bool {
	if tx == nil {
		return false
	}
	_, set := tx.Current()
	return set || tx.Err() != nil
}

func (m *Manager) withPointer(ctx context.Context, fn func(tx *active.Txn) error) error {
	if m.pointer == nil {
		return fn(nil)
	}
	return m.pointer.Locked(ctx, fn)
}

func (m *Manager) readRecord(v domain.Version) (*Record, error) {
	dir := m.layout.InstallDir(v)
	data, err := os.ReadFile(filepath.Join(dir, domain.MarkerFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, zerr.With(zerr.Wrap(domain.ErrNotInstalled, "no committed install"), "version", v.String())
	}
	if err != nil {
		return nil, domain.IOError(zerr.With(zerr.Wrap(err, "read commit marker"), "version", v.String()))
	}
	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, zerr.With(domain.Classify(domain.ErrCorruptState, zerr.Wrap(err, "parse commit marker")), "version", v.String())
	}
	if marker.Version != v.String() {
		return nil, zerr.With(zerr.With(zerr.Wrap(domain.ErrCorruptState, "commit marker names another version"),
			"version", v.String()), "marker", marker.Version)
	}
	return &Record{Version: v, Root: dir, Marker: marker}, nil
}

func (m *Manager) trashPath(v domain.Version) string {
	return filepath.Join(m.layout.InstallsDir(), trashPrefix+v.String()+"-"+uuid.NewString())
}

func (m *Manager) moveToTrash(v domain.Version, trash string) error {
	if err := atomicfile.Rename(m.layout.InstallDir(v), trash); err != nil {
		return domain.IOError(zerr.With(zerr.Wrap(err, "remove install"), "version", v.String()))
	}
	return nil
}

func (m *Manager) deleteTrash(trash string) error {
	if err := os.RemoveAll(trash); err != nil {
		return domain.IOError(zerr.With(zerr.Wrap(err, "delete removed install"), "path", trash))
	}
	return nil
}

// leftoverVersion parses ".staging-<version>-<uuid>" and
// ".trash-<version>-<uuid>" directory names.
func leftoverVersion(name string) (domain.Version, bool) {
	var rest string
	switch {
	case strings.HasPrefix(name, stagingPrefix):
		rest = strings.TrimPrefix(name, stagingPrefix)
	case strings.HasPrefix(name, trashPrefix):
		rest = strings.TrimPrefix(name, trashPrefix)
	default:
		return "", false
	}
	const uuidLen = 36
	if len(rest) < uuidLen+2 || rest[len(rest)-uuidLen-1] != '-' {
		return "", false
	}
	if _, err := uuid.Parse(rest[len(rest)-uuidLen:]); err != nil {
		return "", false
	}
	v := domain.Version(rest[:len(rest)-uuidLen-1])
	return v, v.Valid()
}
