// Package cache downloads release archives into a per-key staging area and
// verifies them before handing them to the installer.
//
// Every cache key (version plus platform) has its own download lock. The lock
// is held for as long as the returned Entry is open, so at most one process
// transfers or consumes a given archive at a time, and purge never deletes an
// entry that is in use.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/lockfile"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Minute
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "armtc"

	partSuffix      = ".part"
	signatureSuffix = ".asc"
	maxRedirects    = 10
)

// ErrSkipped is returned by Fetch when FetchOptions.Skip reports that the
// download is no longer needed.
var ErrSkipped = zerr.New("download skipped")

// Options configures a Manager.
type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	// Keyring is a path to an armored or binary OpenPGP public keyring.
	// When set, releases that publish a signature are verified against it.
	Keyring string
	// RequireSignature fails releases that publish no signature.
	RequireSignature bool
	Logger           domain.Logger
}

// ProgressFunc receives the bytes written so far and the expected total,
// which is zero when unknown.
type ProgressFunc func(done, total int64)

// FetchOptions tunes a single Fetch.
type FetchOptions struct {
	// NonBlocking fails with domain.ErrBusy instead of waiting for another
	// download of the same key.
	NonBlocking bool
	// Skip runs once the download lock is held. Returning true aborts the
	// fetch with ErrSkipped, typically because a concurrent caller already
	// installed the version.
	Skip     func(ctx context.Context) (bool, error)
	Progress ProgressFunc
}

// Manager owns the cache directory.
type Manager struct {
	layout           domain.Layout
	locker           *lockfile.Locker
	client           *http.Client
	userAgent        string
	keyring          openpgp.EntityList
	requireSignature bool
	logger           domain.Logger
}

// New returns a Manager for layout. The keyring, if configured, is loaded
// immediately so a bad path fails early.
func New(layout domain.Layout, locker *lockfile.Locker, opts Options) (*Manager, error) {
	m := &Manager{
		layout:           layout,
		locker:           locker,
		client:           opts.HTTPClient,
		userAgent:        opts.UserAgent,
		requireSignature: opts.RequireSignature,
		logger:           domain.LoggerOrNop(opts.Logger),
	}
	if m.client == nil {
		m.client = NewHTTPClient(DefaultTimeout)
	}
	if m.userAgent == "" {
		m.userAgent = DefaultUserAgent
	}
	if opts.Keyring != "" {
		kr, err := loadKeyring(opts.Keyring)
		if err != nil {
			return nil, err
		}
		m.keyring = kr
	} else if opts.RequireSignature {
		return nil, zerr.New("signature verification required but no keyring configured")
	}
	return m, nil
}

// NewHTTPClient returns the client used for downloads when none is supplied.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// Entry is a verified archive in the cache. It holds the download lock for
// its key until Close.
type Entry struct {
	// Path is the verified archive.
	Path    string
	Release domain.Release

	dir  string
	lock *lockfile.Lock

	mu      sync.Mutex
	removed bool
}

// Remove deletes the entry directory. It is called once the archive has
// been installed and is safe to call more than once.
func (e *Entry) Remove() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil
	}
	if err := os.RemoveAll(e.dir); err != nil {
		return domain.IOError(zerr.With(zerr.Wrap(err, "remove cache entry"), "path", e.dir))
	}
	e.removed = true
	return nil
}

// Close releases the download lock. It is safe to call more than once.
func (e *Entry) Close() error {
	return e.lock.Release()
}

// Fetch downloads and verifies rel, returning an open Entry. A partial
// download left by an interrupted Fetch is resumed, and the whole file is
// hashed again before it is trusted. A finished archive from an earlier
// session is never reused.
func (m *Manager) Fetch(ctx context.Context, rel *domain.Release, opts FetchOptions) (_ *Entry, err error) {
	if rel == nil {
		return nil, zerr.New("release descriptor is nil")
	}
	key := rel.CacheKey()
	mode := lockfile.Block
	if opts.NonBlocking {
		mode = lockfile.NonBlocking
	}

	lock, err := m.locker.Exclusive(ctx, domain.DownloadLockName(key), mode)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = lock.Release()
		}
	}()

	if opts.Skip != nil {
		skip, skipErr := opts.Skip(ctx)
		if skipErr != nil {
			return nil, skipErr
		}
		if skip {
			m.logger.Debug("download no longer needed", "key", key)
			return nil, ErrSkipped
		}
	}

	dir := m.layout.CacheEntryDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.IOError(zerr.With(zerr.Wrap(err, "create cache entry"), "path", dir))
	}
	defer func() {
		// Interrupted transfers keep their partial file for the next Fetch.
		if err != nil && !resumable(err) {
			_ = os.RemoveAll(dir)
		}
	}()

	dest := filepath.Join(dir, rel.AssetName)
	part := dest + partSuffix

	m.logger.Info("downloading toolchain", "version", rel.Version.String(), "asset", rel.AssetName)
	if err := m.transfer(ctx, rel, part, opts.Progress); err != nil {
		return nil, zerr.With(zerr.With(err, "version", rel.Version.String()), "asset", rel.AssetName)
	}

	if err := m.verifySignature(ctx, rel, part, dest+signatureSuffix); err != nil {
		return nil, zerr.With(err, "version", rel.Version.String())
	}

	if err := os.Rename(part, dest); err != nil {
		return nil, domain.IOError(zerr.With(zerr.Wrap(err, "finalise download"), "path", dest))
	}
	m.logger.Info("verified toolchain archive", "version", rel.Version.String(), "path", dest)

	return &Entry{Path: dest, Release: *rel, dir: dir, lock: lock}, nil
}

// transfer downloads rel into part and checks its SHA-256. A resumed
// transfer that fails the check is discarded and fetched once more from the
// start, since the earlier bytes may be what is wrong.
func (m *Manager) transfer(ctx context.Context, rel *domain.Release, part string, progress ProgressFunc) error {
	start := time.Now()
	resumed, n, err := m.download(ctx, rel.URL, part, rel.Size, progress)
	if err != nil {
		return err
	}
	m.logger.Debug("download finished", "key", rel.CacheKey(), "resumed_at", resumed, "bytes", n,
		"elapsed", time.Since(start).Round(time.Millisecond))

	err = verifyChecksum(part, rel.Checksum)
	if err == nil || resumed == 0 || !errors.Is(err, domain.ErrChecksumMismatch) {
		return err
	}
	m.logger.Warn("resumed download failed verification, downloading again", "version", rel.Version.String())
	if err := os.Remove(part); err != nil {
		return domain.IOError(zerr.With(zerr.Wrap(err, "discard partial download"), "path", part))
	}
	if _, _, err := m.download(ctx, rel.URL, part, rel.Size, progress); err != nil {
		return err
	}
	return verifyChecksum(part, rel.Checksum)
}
