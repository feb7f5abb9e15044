// Package testutil provides fixtures for testing armtc in isolation: a
// private data root, generated toolchain archives, and a fake release index.
package testutil

import (
	"path/filepath"
	"testing"
)

// SetupTestEnv points every armtc environment variable at a fresh temporary
// directory and clears the ones that would reach the network or a user
// config. It returns the data root.
func SetupTestEnv(t *testing.T) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "armtc")
	t.Setenv("ARMTC_HOME", root)
	t.Setenv("ARMTC_CONFIG", "")
	t.Setenv("ARMTC_INDEX_URL", "")
	t.Setenv("ARMTC_INDEX_SOURCE", "")
	t.Setenv("ARMTC_HTTP_TIMEOUT", "")
	t.Setenv("GITHUB_TOKEN", "")
	return root
}
