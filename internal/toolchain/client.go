// Package toolchain binds the resolver, cache, installs, active pointer,
// locator and runner to one data root. It is the API the CLI and the
// build-tool shim use.
package toolchain

import (
	"context"
	"net/http"

	"go.trai.ch/zerr"
	"golang.org/x/sync/singleflight"

	"github.com/ZebulonRouseFrantzich/armtc/internal/active"
	"github.com/ZebulonRouseFrantzich/armtc/internal/cache"
	"github.com/ZebulonRouseFrantzich/armtc/internal/config"
	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/index"
	"github.com/ZebulonRouseFrantzich/armtc/internal/install"
	"github.com/ZebulonRouseFrantzich/armtc/internal/locator"
	"github.com/ZebulonRouseFrantzich/armtc/internal/lockfile"
	"github.com/ZebulonRouseFrantzich/armtc/internal/platform"
	"github.com/ZebulonRouseFrantzich/armtc/internal/runner"
)

// Options configures a Client.
type Options struct {
	// Root is the data directory. Required.
	Root string
	// Settings defaults to config.Defaults().
	Settings *config.Settings
	// Detector defaults to the host detector.
	Detector platform.Detector
	// Source overrides the index source built from Settings.
	Source     index.Source
	HTTPClient *http.Client
	// NonBlocking makes every lock acquisition fail with domain.ErrBusy
	// instead of waiting.
	NonBlocking bool
	Clock       domain.Clock
	Logger      domain.Logger
}

// Client manages the toolchains under one root.
type Client struct {
	layout   domain.Layout
	settings *config.Settings
	host     *platform.Info
	mode     lockfile.Mode
	logger   domain.Logger

	resolver *index.Resolver
	cache    *cache.Manager
	installs *install.Manager
	tracker  *active.Tracker
	locator  *locator.Locator
	runner   *runner.Runner

	group singleflight.Group
}

// New creates the root's directories if needed and wires every component
// to it.
func New(ctx context.Context, opts Options) (*Client, error) {
	layout, err := domain.NewLayout(opts.Root)
	if err != nil {
		return nil, err
	}
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	settings := opts.Settings
	if settings == nil {
		settings = config.Defaults()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	detector := opts.Detector
	if detector == nil {
		detector = platform.NewDetector()
	}
	host, err := detector.Detect(ctx)
	if err != nil {
		return nil, zerr.Wrap(err, "detect platform")
	}

	c := &Client{
		layout:   layout,
		settings: settings,
		host:     host,
		logger:   domain.LoggerOrNop(opts.Logger),
	}
	if opts.NonBlocking {
		c.mode = lockfile.NonBlocking
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = cache.NewHTTPClient(settings.HTTP.Timeout)
	}
	source := opts.Source
	if source == nil {
		source, err = newSource(settings, httpClient)
		if err != nil {
			return nil, err
		}
	}
	c.resolver = index.NewResolver(source, host, c.logger)

	locker := lockfile.New(layout.LocksDir())
	c.cache, err = cache.New(layout, locker, cache.Options{
		HTTPClient:       httpClient,
		UserAgent:        settings.HTTP.UserAgent,
		Keyring:          settings.Verify.Keyring,
		RequireSignature: settings.Verify.RequireSignature,
		Logger:           c.logger,
	})
	if err != nil {
		return nil, err
	}

	// The pointer asks the install registry whether a version is committed,
	// and removal asks the pointer to clear itself.
	c.tracker = active.New(layout, locker, active.CheckerFunc(func(ctx context.Context, v domain.Version) (bool, error) {
		return c.installs.IsCommitted(ctx, v)
	}), active.Options{Mode: c.mode, Logger: c.logger})
	c.installs = install.New(layout, locker, install.Options{
		Pointer: c.tracker,
		Mode:    c.mode,
		Clock:   opts.Clock,
		Logger:  c.logger,
	})
	c.locator = locator.New(c.installs, c.tracker)
	c.runner = runner.New(c.locator, runner.Options{Env: settings.Env, Logger: c.logger})
	return c, nil
}

func newSource(s *config.Settings, httpClient *http.Client) (index.Source, error) {
	common := []index.Option{
		index.WithHTTPClient(httpClient),
		index.WithUserAgent(s.HTTP.UserAgent),
		index.WithToken(s.Index.Token),
	}
	switch s.Index.Source {
	case config.SourceManifest:
		return index.NewManifestSource(s.Index.URL, common...)
	default:
		return index.NewGitHubSource(s.Index.Repo, append(common,
			index.WithBaseURL(s.Index.URL),
			index.WithTagAffixes(s.Index.TagPrefix, s.Index.TagSuffix))...)
	}
}

// Root returns the data directory.
func (c *Client) Root() string {
	return c.layout.Root
}

// Platform returns the detected host.
func (c *Client) Platform() *platform.Info {
	return c.host
}

// InstalledVersions lists committed installs, ascending.
func (c *Client) InstalledVersions(ctx context.Context) ([]domain.Version, error) {
	vs, err := c.installs.InstalledVersions(ctx)
	return vs, tag("installed_versions", err)
}

// Available lists the versions the index offers for this host, ascending.
func (c *Client) Available(ctx context.Context) ([]domain.Version, error) {
	vs, err := c.resolver.Available(ctx)
	return vs, tag("available", err)
}

// Toolchain returns the committed install of v.
func (c *Client) Toolchain(ctx context.Context, v domain.Version) (locator.Toolchain, error) {
	tc, err := c.locator.Toolchain(ctx, domain.Explicit(v))
	return tc, tag("toolchain", err)
}

// Active returns the active version; ok is false when none is set.
func (c *Client) Active(ctx context.Context) (v domain.Version, ok bool, err error) {
	v, ok, err = c.tracker.Get(ctx)
	return v, ok, tag("active", err)
}

// Resolve turns a token ("latest" or a version) into a release for this
// host. It always queries the index.
func (c *Client) Resolve(ctx context.Context, token string) (*domain.Release, error) {
	rel, err := c.resolver.Resolve(ctx, token)
	return rel, tag("resolve", err)
}

// Remove deletes the install of v, clearing the pointer if it names v.
func (c *Client) Remove(ctx context.Context, v domain.Version) error {
	return tag("remove", c.installs.Remove(ctx, v))
}

// RemoveAll deletes every install and clears the pointer.
func (c *Client) RemoveAll(ctx context.Context) ([]domain.Version, error) {
	vs, err := c.installs.RemoveAll(ctx)
	return vs, tag("remove_all", err)
}

// PurgeReport summarises PurgeCache.
type PurgeReport struct {
	Cache cache.Report
	// Leftovers are staging and trash directories reclaimed from installs/,
	// then temporary pointer files reclaimed from the root.
	Leftovers []string
}

// PurgeCache deletes cache entries not locked by an in-flight download,
// then sweeps install leftovers and temporary pointer files of interrupted
// operations.
func (c *Client) PurgeCache(ctx context.Context) (PurgeReport, error) {
	var report PurgeReport
	var err error
	report.Cache, err = c.cache.Purge(ctx)
	if err != nil {
		return report, tag("purge_cache", err)
	}
	report.Leftovers, err = c.installs.Sweep(ctx)
	if err != nil {
		return report, tag("purge_cache", err)
	}
	temps, err := c.tracker.SweepTemps(ctx)
	report.Leftovers = append(report.Leftovers, temps...)
	return report, tag("purge_cache", err)
}

// Locate returns subpath inside target's install root, or the root itself
// when subpath is empty.
func (c *Client) Locate(ctx context.Context, target domain.Target, subpath string) (string, error) {
	p, err := c.locator.Locate(ctx, target, subpath)
	return p, tag("locate", err)
}

// Run executes command inside target's environment and waits for it.
func (c *Client) Run(ctx context.Context, target domain.Target, command string, args []string, opts runner.RunOptions) (runner.Status, error) {
	status, err := c.runner.Run(ctx, target, command, args, opts)
	return status, tag("run", err)
}

// Env returns the environment Run would give a child of target.
func (c *Client) Env(ctx context.Context, target domain.Target, opts runner.EnvOptions) ([]string, error) {
	env, err := c.runner.Env(ctx, target, opts)
	return env, tag("env", err)
}

// tag records the facade operation on err.
func tag(op string, err error) error {
	if err == nil {
		return nil
	}
	return zerr.With(zerr.Wrap(err, op), "op", op)
}
