// Package lockfile provides named advisory locks backed by files in one
// directory. Locks are held by an open file descriptor, so the kernel drops
// them when the holder exits for any reason, and the zero-byte lock files
// are harmless if left behind. Lock files are never deleted: removing one
// while another process waits on it would let two holders coexist.
package lockfile

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
)

// Mode chooses what happens when a lock is held elsewhere.
type Mode int

const (
	// Block waits until the lock is free or the context ends.
	Block Mode = iota
	// NonBlocking fails immediately with domain.ErrBusy.
	NonBlocking
)

// DefaultPollInterval is how often a blocked acquire retries.
const DefaultPollInterval = 25 * time.Millisecond

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)

// ValidName reports whether name can be used as a lock name.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// Locker hands out locks stored under one directory.
type Locker struct {
	dir          string
	pollInterval time.Duration
}

// Option configures a Locker.
type Option func(*Locker)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// New returns a Locker for dir. The directory is created on first use.
func New(dir string, opts ...Option) *Locker {
	l := &Locker{dir: dir, pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the directory holding the lock files.
func (l *Locker) Dir() string {
	return l.dir
}

// Lock is a held advisory lock.
type Lock struct {
	name string
	mu   sync.Mutex
	file *os.File
}

// Name returns the lock's name.
func (lk *Lock) Name() string {
	return lk.name
}

// Release unlocks and closes the lock file. It is safe to call more than once
// and on a nil Lock.
func (lk *Lock) Release() error {
	if lk == nil {
		return nil
	}
	lk.mu.Lock()
	defer lk.mu.Unlock()
	if lk.file == nil {
		return nil
	}
	unlockErr := unlockFile(lk.file)
	closeErr := lk.file.Close()
	lk.file = nil
	if unlockErr != nil {
		return zerr.With(zerr.Wrap(unlockErr, "unlock"), "lock", lk.name)
	}
	if closeErr != nil {
		return zerr.With(zerr.Wrap(closeErr, "close lock file"), "lock", lk.name)
	}
	return nil
}

// Exclusive acquires name for sole ownership.
func (l *Locker) Exclusive(ctx context.Context, name string, mode Mode) (*Lock, error) {
	return l.acquire(ctx, name, false, mode)
}

// Shared acquires name alongside other shared holders, excluding exclusive
// holders.
func (l *Locker) Shared(ctx context.Context, name string, mode Mode) (*Lock, error) {
	return l.acquire(ctx, name, true, mode)
}

// Path returns the lock file for name.
func (l *Locker) Path(name string) string {
	return filepath.Join(l.dir, name+".lock")
}

func (l *Locker) acquire(ctx context.Context, name string, shared bool, mode Mode) (*Lock, error) {
	if !ValidName(name) {
		return nil, zerr.With(zerr.New("invalid lock name"), "lock", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, domain.IOError(zerr.With(zerr.Wrap(err, "create lock directory"), "path", l.dir))
	}

	path := l.Path(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, domain.IOError(zerr.With(zerr.Wrap(err, "open lock file"), "path", path))
	}

	var ticker *time.Ticker
	for {
		ok, err := tryLockFile(f, shared)
		if err != nil {
			f.Close()
			return nil, domain.IOError(zerr.With(zerr.Wrap(err, "lock"), "path", path))
		}
		if ok {
			if ticker != nil {
				ticker.Stop()
			}
			return &Lock{name: name, file: f}, nil
		}
		if mode == NonBlocking {
			f.Close()
			return nil, zerr.With(zerr.Wrap(domain.ErrBusy, "lock held by another operation"), "lock", name)
		}
		if ticker == nil {
			ticker = time.NewTicker(l.pollInterval)
		}
		select {
		case <-ctx.Done():
			ticker.Stop()
			f.Close()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
