package domain

import "strings"

// Target selects a toolchain for locate and run: either whatever is active
// or one explicit version.
type Target struct {
	version Version
}

// Active targets the active toolchain.
func Active() Target {
	return Target{}
}

// Explicit targets version v.
func Explicit(v Version) Target {
	return Target{version: v}
}

// IsActive reports whether t refers to the active toolchain.
func (t Target) IsActive() bool {
	return t.version == ""
}

// Version returns the explicit version, or "" for the active target.
func (t Target) Version() Version {
	return t.version
}

func (t Target) String() string {
	if t.IsActive() {
		return "active"
	}
	return t.version.String()
}

// ParseTarget accepts "active", "" or a version identifier.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "active") {
		return Active(), nil
	}
	v, err := ParseVersion(s)
	if err != nil {
		return Target{}, err
	}
	return Explicit(v), nil
}
