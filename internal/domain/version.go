package domain

import (
	"slices"
	"strings"

	"go.trai.ch/zerr"
	"golang.org/x/mod/semver"
)

// Version identifies one toolchain release in canonical "v<semver>" form,
// e.g. "v21.1.1". The zero value is not a valid version.
type Version string

// Latest is the alias token that resolves to the newest published release.
const Latest = "latest"

// ParseVersion validates a user-supplied or index-supplied identifier and
// returns its canonical form. A missing leading "v" is added; anything that
// is not a semantic version is rejected.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", zerr.New("empty version")
	}
	if !strings.HasPrefix(s, "v") {
		s = "v" + s
	}
	if !semver.IsValid(s) {
		return "", zerr.With(zerr.New("invalid version"), "version", s)
	}
	if strings.Contains(s, "+") {
		// Build metadata is ignored by semver ordering, so two directories could
		// share a precedence. Reject it to keep Version a total order.
		return "", zerr.With(zerr.New("build metadata not supported"), "version", s)
	}
	return Version(s), nil
}

// IsAlias reports whether token is an alias rather than an explicit version.
func IsAlias(token string) bool {
	return strings.EqualFold(strings.TrimSpace(token), Latest)
}

// String returns the canonical form.
func (v Version) String() string {
	return string(v)
}

// Bare returns the version without its leading "v", as used in release tags.
func (v Version) Bare() string {
	return strings.TrimPrefix(string(v), "v")
}

// Valid reports whether v is in canonical form.
func (v Version) Valid() bool {
	return strings.HasPrefix(string(v), "v") && semver.IsValid(string(v)) && !strings.Contains(string(v), "+")
}

// Compare orders versions by semantic version precedence.
func (v Version) Compare(other Version) int {
	return semver.Compare(string(v), string(other))
}

// SortVersions sorts vs ascending in place.
func SortVersions(vs []Version) {
	slices.SortFunc(vs, func(a, b Version) int { return a.Compare(b) })
}
