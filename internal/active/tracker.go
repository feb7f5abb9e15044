// Package active persists which installed toolchain is the default.
//
// The pointer is a single file holding a canonical version and a newline. It
// is replaced with write-temp-then-rename and removed to clear it, both under
// the "active" lock, so readers see either the old or the new value.
package active

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/atomicfile"
	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/lockfile"
)

// CommitChecker reports whether a version has a committed install.
type CommitChecker interface {
	IsCommitted(ctx context.Context, v domain.Version) (bool, error)
}

// CheckerFunc adapts a function to CommitChecker.
type CheckerFunc func(ctx context.Context, v domain.Version) (bool, error)

func (f CheckerFunc) IsCommitted(ctx context.Context, v domain.Version) (bool, error) {
	return f(ctx, v)
}

// Options configures a Tracker.
type Options struct {
	// Mode decides whether lock acquisition waits or fails with ErrBusy.
	Mode   lockfile.Mode
	Logger domain.Logger
}

// Tracker reads and writes the active pointer.
type Tracker struct {
	path    string
	locker  *lockfile.Locker
	checker CommitChecker
	mode    lockfile.Mode
	logger  domain.Logger
}

// New returns a Tracker for the pointer under layout.
func New(layout domain.Layout, locker *lockfile.Locker, checker CommitChecker, opts Options) *Tracker {
	return &Tracker{
		path:    layout.ActiveFile(),
		locker:  locker,
		checker: checker,
		mode:    opts.Mode,
		logger:  domain.LoggerOrNop(opts.Logger),
	}
}

// Get returns the active version. ok is false when the pointer was never set
// or was cleared. A pointer that cannot be parsed, or that names a version
// with no committed install, is domain.ErrCorruptState.
func (t *Tracker) Get(ctx context.Context) (v domain.Version, ok bool, err error) {
	lock, err := t.locker.Shared(ctx, domain.ActiveLockName, t.mode)
	if err != nil {
		return "", false, err
	}
	defer lock.Release()

	v, ok, err = t.read()
	if err != nil || !ok {
		return "", false, err
	}

	committed, err := t.checker.IsCommitted(ctx, v)
	if err != nil {
		return "", false, err
	}
	if !committed {
		return "", false, zerr.With(zerr.With(zerr.Wrap(domain.ErrCorruptState, "active toolchain is not installed"),
			"version", v.String()), "path", t.path)
	}
	return v, true, nil
}

// Set makes v active. It fails with domain.ErrNotInstalled unless v has a
// committed install.
func (t *Tracker) Set(ctx context.Context, v domain.Version) error {
	return t.Locked(ctx, func(tx *Txn) error {
		committed, err := t.checker.IsCommitted(ctx, v)
		if err != nil {
			return err
		}
		if !committed {
			return zerr.With(zerr.Wrap(domain.ErrNotInstalled, "cannot activate"), "version", v.String())
		}
		return tx.Set(v)
	})
}

// Clear unsets the pointer. Clearing an unset pointer is not an error.
func (t *Tracker) Clear(ctx context.Context) error {
	return t.Locked(ctx, func(tx *Txn) error {
		return tx.Clear()
	})
}

// Locked runs fn while holding the pointer lock exclusively. Callers that
// must change the pointer together with other state, such as removing the
// install it names, do both inside fn.
func (t *Tracker) Locked(ctx context.Context, fn func(tx *Txn) error) error {
	lock, err := t.locker.Exclusive(ctx, domain.ActiveLockName, t.mode)
	if err != nil {
		return err
	}
	defer lock.Release()

	tx := &Txn{t: t}
	tx.current, tx.set, tx.err = t.read()
	return fn(tx)
}

// Txn is the pointer as seen under the exclusive lock.
type Txn struct {
	t       *Tracker
	current domain.Version
	set     bool
	err     error
}

// Current returns the pointer's value. An unreadable pointer reports false;
// Err returns the reason.
func (tx *Txn) Current() (domain.Version, bool) {
	return tx.current, tx.set
}

// Err reports why the pointer could not be read, if it could not.
func (tx *Txn) Err() error {
	return tx.err
}

// Set writes v.
func (tx *Txn) Set(v domain.Version) error {
	if err := atomicfile.WriteFile(tx.t.path, []byte(v.String()+"\n"), 0o644); err != nil {
		return domain.IOError(zerr.Wrap(err, "write active pointer"))
	}
	if !tx.set || tx.current != v {
		tx.t.logger.Info("active toolchain changed", "version", v.String())
	}
	tx.current, tx.set, tx.err = v, true, nil
	return nil
}

// Clear removes the pointer.
func (tx *Txn) Clear() error {
	if err := atomicfile.Remove(tx.t.path); err != nil {
		return domain.IOError(zerr.Wrap(err, "clear active pointer"))
	}
	if tx.set {
		tx.t.logger.Info("active toolchain cleared", "version", tx.current.String())
	}
	tx.current, tx.set, tx.err = "", false, nil
	return nil
}

// ClearIf removes the pointer only when it names v, and reports whether it
// did.
func (tx *Txn) ClearIf(v domain.Version) (bool, error) {
	if !tx.set || tx.current != v {
		return false, nil
	}
	return true, tx.Clear()
}

// SweepTemps deletes temporary pointer files left by a writer that died
// before its rename. It returns the removed names, and does nothing while
// another process holds the pointer lock.
func (t *Tracker) SweepTemps(ctx context.Context) ([]string, error) {
	lock, err := t.locker.Exclusive(ctx, domain.ActiveLockName, lockfile.NonBlocking)
	if errors.Is(err, domain.ErrBusy) {
		t.logger.Debug("active pointer busy, not sweeping temporary files")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	dir := filepath.Dir(t.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, domain.IOError(zerr.With(zerr.Wrap(err, "list data directory"), "path", dir))
	}
	prefix := "." + filepath.Base(t.path) + "."
	var swept []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".tmp") {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return swept, domain.IOError(zerr.With(zerr.Wrap(err, "remove temporary pointer file"), "path", path))
		}
		t.logger.Info("removed temporary pointer file", "path", path)
		swept = append(swept, name)
	}
	return swept, nil
}

func (t *Tracker) read() (domain.Version, bool, error) {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.IOError(zerr.With(zerr.Wrap(err, "read active pointer"), "path", t.path))
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", false, nil
	}
	v, err := domain.ParseVersion(content)
	if err != nil || v.String() != content {
		return "", false, zerr.With(zerr.With(zerr.Wrap(domain.ErrCorruptState, "active pointer is not a version"),
			"content", content), "path", t.path)
	}
	return v, true, nil
}
