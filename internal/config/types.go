package config

import (
	"net/url"
	"regexp"
	"slices"
	"time"

	"go.trai.ch/zerr"
)

// Index source kinds.
const (
	SourceGitHub   = "github"
	SourceManifest = "manifest"
)

// Defaults.
const (
	DefaultGitHubURL   = "https://api.github.com"
	DefaultRepo        = "arm/arm-toolchain"
	DefaultTagPrefix   = "release-"
	DefaultTagSuffix   = "-ATfE"
	DefaultHTTPTimeout = 10 * time.Minute
	DefaultUserAgent   = "armtc"
)

// Settings is the resolved configuration.
type Settings struct {
	Index  IndexSettings
	HTTP   HTTPSettings
	Verify VerifySettings
	// Env holds extra variables for launched commands. Values may reference
	// ${ARMTC_TOOLCHAIN_ROOT} and any other variable of the child
	// environment.
	Env map[string]string
}

// IndexSettings selects and addresses the release index.
type IndexSettings struct {
	Source    string
	URL       string
	Repo      string
	TagPrefix string
	TagSuffix string
	Token     string
}

// HTTPSettings configures the HTTP client used for the index and downloads.
// A zero Timeout disables the client timeout.
type HTTPSettings struct {
	Timeout   time.Duration
	UserAgent string
}

// VerifySettings configures OpenPGP verification of downloads.
type VerifySettings struct {
	Keyring          string
	RequireSignature bool
}

// Defaults returns the built-in settings.
func Defaults() *Settings {
	return &Settings{
		Index: IndexSettings{
			Source:    SourceGitHub,
			URL:       DefaultGitHubURL,
			Repo:      DefaultRepo,
			TagPrefix: DefaultTagPrefix,
			TagSuffix: DefaultTagSuffix,
		},
		HTTP: HTTPSettings{
			Timeout:   DefaultHTTPTimeout,
			UserAgent: DefaultUserAgent,
		},
		Env: map[string]string{
			"TARGET_CC": "clang",
			"TARGET_AR": "llvm-ar",
		},
	}
}

var (
	repoPattern   = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
	envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Validate checks the settings for values that would fail later in a less
// obvious way.
func (s *Settings) Validate() error {
	if !slices.Contains([]string{SourceGitHub, SourceManifest}, s.Index.Source) {
		return zerr.With(zerr.New("unknown index source"), "source", s.Index.Source)
	}
	u, err := url.Parse(s.Index.URL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return zerr.With(zerr.New("index url must be an absolute http(s) url"), "url", s.Index.URL)
	}
	if s.Index.Source == SourceGitHub && !repoPattern.MatchString(s.Index.Repo) {
		return zerr.With(zerr.New("index repo must look like owner/name"), "repo", s.Index.Repo)
	}
	if s.HTTP.Timeout < 0 {
		return zerr.With(zerr.New("http timeout must not be negative"), "timeout", s.HTTP.Timeout)
	}
	if s.Verify.RequireSignature && s.Verify.Keyring == "" {
		return zerr.New("verify.require_signature needs verify.keyring")
	}
	for k := range s.Env {
		if !envKeyPattern.MatchString(k) {
			return zerr.With(zerr.New("invalid environment variable name"), "name", k)
		}
		if k == "PATH" || k == "Path" {
			return zerr.New("env may not override PATH; the toolchain bin directory is prepended automatically")
		}
	}
	return nil
}
