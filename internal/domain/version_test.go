package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Version
		wantErr bool
	}{
		{name: "canonical", input: "v21.1.1", want: "v21.1.1"},
		{name: "bare", input: "21.1.1", want: "v21.1.1"},
		{name: "whitespace", input: "  19.1.5\n", want: "v19.1.5"},
		{name: "prerelease", input: "v21.0.0-rc1", want: "v21.0.0-rc1"},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "banana", wantErr: true},
		{name: "path traversal", input: "../../etc", wantErr: true},
		{name: "build metadata", input: "v1.0.0+abc", wantErr: true},
		{name: "alias is not a version", input: "latest", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestVersionOrdering(t *testing.T) {
	vs := []Version{"v21.1.1", "v19.1.5", "v21.0.0", "v21.1.0-rc1", "v20.1.0"}
	SortVersions(vs)
	assert.Equal(t, []Version{"v19.1.5", "v20.1.0", "v21.0.0", "v21.1.0-rc1", "v21.1.1"}, vs)
}

func TestVersionBare(t *testing.T) {
	assert.Equal(t, "21.1.1", Version("v21.1.1").Bare())
}

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("active")
	require.NoError(t, err)
	assert.True(t, target.IsActive())

	target, err = ParseTarget("")
	require.NoError(t, err)
	assert.True(t, target.IsActive())

	target, err = ParseTarget("21.1.1")
	require.NoError(t, err)
	assert.False(t, target.IsActive())
	assert.Equal(t, Version("v21.1.1"), target.Version())
	assert.Equal(t, "v21.1.1", target.String())

	_, err = ParseTarget("not-a-version")
	assert.Error(t, err)
}

func TestIsAlias(t *testing.T) {
	assert.True(t, IsAlias("latest"))
	assert.True(t, IsAlias(" LATEST "))
	assert.False(t, IsAlias("v21.1.1"))
}
