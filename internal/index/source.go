package index

import (
	"context"
	"net/http"
	"strings"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
)

// Source is a remote release index.
type Source interface {
	// Releases lists every published release.
	Releases(ctx context.Context) ([]Release, error)
	// Release looks up one version, failing with domain.ErrVersionNotFound
	// when the index does not list it.
	Release(ctx context.Context, v domain.Version) (*Release, error)
	// Checksum returns the expected SHA-256 of an asset as lowercase hex.
	Checksum(ctx context.Context, a Asset) (string, error)
}

// Release is one version as listed by a Source.
type Release struct {
	Version    domain.Version
	Prerelease bool
	Assets     []Asset
}

// Asset is a downloadable archive attached to a release.
type Asset struct {
	Name string
	URL  string
	Size int64
	// Platform is the platform key when the index states it explicitly.
	// When empty the key is inferred from Name.
	Platform string
	// Checksum is set when the index publishes it inline.
	Checksum string
	// ChecksumURL points at a "<sha256>  <name>" file.
	ChecksumURL  string
	SignatureURL string
}

// Option configures a Source.
type Option func(*options)

type options struct {
	httpClient *http.Client
	userAgent  string
	token      string
	baseURL    string
	tagPrefix  string
	tagSuffix  string
}

func defaultOptions() options {
	return options{
		httpClient: http.DefaultClient,
		userAgent:  "armtc",
		baseURL:    "https://api.github.com",
		tagPrefix:  "release-",
		tagSuffix:  "-ATfE",
	}
}

// WithHTTPClient sets the HTTP client. Its Timeout is the only timeout
// applied to index requests besides the caller's context.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// WithToken sets a bearer token sent to the index host only.
func WithToken(token string) Option {
	return func(o *options) {
		o.token = token
	}
}

// WithBaseURL overrides the GitHub API base URL, primarily for test servers.
func WithBaseURL(base string) Option {
	return func(o *options) {
		o.baseURL = strings.TrimRight(base, "/")
	}
}

// WithTagAffixes sets the prefix and suffix that surround the version in
// release tags, e.g. "release-" and "-ATfE" for "release-21.1.1-ATfE".
func WithTagAffixes(prefix, suffix string) Option {
	return func(o *options) {
		o.tagPrefix = prefix
		o.tagSuffix = suffix
	}
}
