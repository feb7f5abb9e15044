package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/platform"
)

// Environment variables read by ApplyEnv and DefaultRoot.
const (
	EnvHome        = "ARMTC_HOME"
	EnvConfig      = "ARMTC_CONFIG"
	EnvIndexURL    = "ARMTC_INDEX_URL"
	EnvIndexSource = "ARMTC_INDEX_SOURCE"
	EnvHTTPTimeout = "ARMTC_HTTP_TIMEOUT"
	EnvGitHubToken = "GITHUB_TOKEN"
)

// LoadOptions controls Load.
type LoadOptions struct {
	// Path is an explicit config file. When empty, DefaultPath is tried and
	// a missing file means defaults.
	Path        string
	DefaultPath string
	Detector    platform.Detector
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load reads the config file, if any, then applies environment overrides.
func Load(ctx context.Context, opts LoadOptions) (*Settings, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	path, explicit := opts.Path, true
	if path == "" {
		path = getenv(EnvConfig)
	}
	if path == "" {
		path, explicit = opts.DefaultPath, false
	}

	s := Defaults()
	if path != "" {
		parsed, err := NewParser(opts.Detector).ParseFile(ctx, path)
		switch {
		case err == nil:
			s = parsed
		case !explicit && errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := ApplyEnv(s, getenv); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ApplyEnv overrides s with any armtc environment variables that are set.
func ApplyEnv(s *Settings, getenv func(string) string) error {
	if v := getenv(EnvIndexURL); v != "" {
		s.Index.URL = v
	}
	if v := getenv(EnvIndexSource); v != "" {
		s.Index.Source = strings.ToLower(v)
	}
	if v := getenv(EnvGitHubToken); v != "" && s.Index.Token == "" {
		s.Index.Token = v
	}
	if v := getenv(EnvHTTPTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return zerr.With(zerr.Wrap(err, "parse "+EnvHTTPTimeout), "value", v)
		}
		s.HTTP.Timeout = d
	}
	return nil
}

// DefaultRoot returns the data root: $ARMTC_HOME, else the per-user data
// directory for the running OS joined with "armtc".
func DefaultRoot(getenv func(string) string) (string, error) {
	return defaultRoot(getenv, runtime.GOOS, os.UserHomeDir)
}

func defaultRoot(getenv func(string) string, goos string, home func() (string, error)) (string, error) {
	if v := getenv(EnvHome); v != "" {
		return v, nil
	}
	switch goos {
	case "windows":
		if v := getenv("LOCALAPPDATA"); v != "" {
			return filepath.Join(v, "armtc"), nil
		}
	case "darwin":
		h, err := home()
		if err != nil {
			return "", zerr.Wrap(err, "get home directory")
		}
		return filepath.Join(h, "Library", "Application Support", "armtc"), nil
	default:
		if v := getenv("XDG_DATA_HOME"); v != "" {
			return filepath.Join(v, "armtc"), nil
		}
	}
	h, err := home()
	if err != nil {
		return "", zerr.Wrap(err, "get home directory")
	}
	return filepath.Join(h, ".local", "share", "armtc"), nil
}
