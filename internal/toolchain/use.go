package toolchain

import (
	"context"
	"errors"

	"github.com/ZebulonRouseFrantzich/armtc/internal/active"
	"github.com/ZebulonRouseFrantzich/armtc/internal/cache"
	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/install"
	"github.com/ZebulonRouseFrantzich/armtc/internal/lockfile"
)

// UseOptions tunes Use and Install.
type UseOptions struct {
	// Progress receives download progress.
	Progress cache.ProgressFunc
	// Force downloads and reinstalls the version even when it is installed.
	// The pointer is left as it was.
	Force bool
}

// Result describes the toolchain Use or Install settled on.
type Result struct {
	Version domain.Version
	Root    string
	// Downloaded is true when this call fetched and installed the archive.
	Downloaded bool
	// Activated is true when the pointer now names Version because of this
	// call.
	Activated bool
}

// Use makes the toolchain named by token active, downloading and installing
// it first if needed. On any failure the pointer is unchanged.
func (c *Client) Use(ctx context.Context, token string, opts UseOptions) (*Result, error) {
	rec, downloaded, err := c.prepare(ctx, token, opts)
	if err != nil {
		return nil, tag("use", err)
	}
	if err := c.tracker.Set(ctx, rec.Version); err != nil {
		return nil, tag("use", err)
	}
	c.logger.Info("toolchain in use", "version", rec.Version.String(), "root", rec.Root)
	return &Result{Version: rec.Version, Root: rec.Root, Downloaded: downloaded, Activated: true}, nil
}

// Install makes sure the toolchain named by token is installed without
// switching to it. It becomes active only if nothing is.
func (c *Client) Install(ctx context.Context, token string, opts UseOptions) (*Result, error) {
	rec, downloaded, err := c.prepare(ctx, token, opts)
	if err != nil {
		return nil, tag("install", err)
	}
	res := &Result{Version: rec.Version, Root: rec.Root, Downloaded: downloaded}

	err = c.tracker.Locked(ctx, func(tx *active.Txn) error {
		// A corrupt pointer is reported by Active, never repaired here.
		if _, set := tx.Current(); set || tx.Err() != nil {
			return nil
		}
		committed, err := c.installs.IsCommitted(ctx, rec.Version)
		if err != nil || !committed {
			return err
		}
		res.Activated = true
		return tx.Set(rec.Version)
	})
	if err != nil {
		return nil, tag("install", err)
	}
	return res, nil
}

// prepare returns the committed install for token. An explicit version that
// is already installed needs no network unless Force is set; anything else is
// resolved against the index first.
func (c *Client) prepare(ctx context.Context, token string, opts UseOptions) (*install.Record, bool, error) {
	if !domain.IsAlias(token) && !opts.Force {
		if v, err := domain.ParseVersion(token); err == nil {
			rec, err := c.installs.Lookup(ctx, v)
			if err == nil {
				return rec, false, nil
			}
			if !errors.Is(err, domain.ErrNotInstalled) {
				return nil, false, err
			}
		}
	}

	rel, err := c.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, false, err
	}
	return c.ensureInstalled(ctx, rel, opts)
}

type ensured struct {
	rec        *install.Record
	downloaded bool
}

// ensureInstalled fetches and installs rel unless it is committed already.
// Concurrent calls for one version in this process share a single attempt;
// other processes are kept out by the download and install locks.
func (c *Client) ensureInstalled(ctx context.Context, rel *domain.Release, opts UseOptions) (*install.Record, bool, error) {
	key := rel.CacheKey()
	if opts.Force {
		key += "!force"
	}
	for {
		// Only the caller whose function ran reports the download.
		leader := false
		ch := c.group.DoChan(key, func() (any, error) {
			leader = true
			return c.fetchAndInstall(ctx, rel, opts)
		})
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// The shared attempt ran under another caller's context. If that
				// one was cancelled, a caller that is still live starts over; the
				// partial download is resumed.
				if !leader && ctx.Err() == nil && interrupted(res.Err) {
					c.logger.Debug("shared install was cancelled, retrying", "version", rel.Version.String())
					continue
				}
				return nil, false, res.Err
			}
			e := res.Val.(ensured)
			return e.rec, e.downloaded && leader, nil
		}
	}
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) fetchAndInstall(ctx context.Context, rel *domain.Release, opts UseOptions) (ensured, error) {
	v := rel.Version
	skip := func(ctx context.Context) (bool, error) {
		return c.installs.IsCommitted(ctx, v)
	}
	commit := c.installs.Install
	if opts.Force {
		skip, commit = nil, c.installs.Reinstall
	} else if rec, err := c.installs.Lookup(ctx, v); err == nil {
		return ensured{rec: rec}, nil
	} else if !errors.Is(err, domain.ErrNotInstalled) {
		return ensured{}, err
	}

	entry, err := c.cache.Fetch(ctx, rel, cache.FetchOptions{
		NonBlocking: c.mode == lockfile.NonBlocking,
		Skip:        skip,
		Progress:    opts.Progress,
	})
	if errors.Is(err, cache.ErrSkipped) {
		rec, err := c.installs.Lookup(ctx, v)
		return ensured{rec: rec}, err
	}
	if err != nil {
		return ensured{}, err
	}
	defer entry.Close()

	rec, err := commit(ctx, *rel, entry.Path)
	if err != nil {
		return ensured{}, err
	}
	if err := entry.Remove(); err != nil {
		// The install is committed; purge-cache reclaims the entry later.
		c.logger.Warn("could not remove cache entry", "version", v.String(), "error", err)
	}
	return ensured{rec: rec, downloaded: true}, nil
}
