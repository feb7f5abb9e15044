package install

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/armtc/internal/testutil"
)

func writeArchive(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestExtractRejectsEscapes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink entries need privileges on windows")
	}

	tests := []struct {
		name  string
		files []testutil.File
	}{
		{
			name:  "parent traversal",
			files: []testutil.File{{Name: "../evil", Body: "x"}},
		},
		{
			name:  "nested traversal",
			files: []testutil.File{{Name: "top/../../evil", Body: "x"}},
		},
		{
			name:  "absolute path",
			files: []testutil.File{{Name: "/tmp/evil", Body: "x"}},
		},
		{
			name:  "absolute symlink",
			files: []testutil.File{{Name: "link", Link: "/etc/passwd"}},
		},
		{
			name:  "symlink climbing out",
			files: []testutil.File{{Name: "top/link", Link: "../../outside"}},
		},
		{
			name: "symlink chain through dot",
			files: []testutil.File{
				{Name: "a", Link: "."},
				{Name: "a/b", Link: ".."},
			},
		},
		{
			name: "write through earlier symlink",
			files: []testutil.File{
				{Name: "top/target", Body: "ok"},
				{Name: "top/alias", Link: "target"},
				{Name: "top/alias", Body: "overwrite"},
			},
		},
	}
	for _, tt := range tests {
		for _, kind := range []string{".tar.gz", ".zip"} {
			t.Run(tt.name+kind, func(t *testing.T) {
				var data []byte
				if kind == ".zip" {
					data = testutil.Zip(t, tt.files)
				} else {
					data = testutil.TarGz(t, tt.files)
				}
				archive := writeArchive(t, "evil"+kind, data)
				dest := filepath.Join(t.TempDir(), "dest")

				err := NewExtractor().Extract(context.Background(), archive, dest)
				require.Error(t, err)
				assert.ErrorIs(t, err, errUnsafePath)
				assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil"))
				assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "outside"))
			})
		}
	}
}

func TestExtractAllowsInternalSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink entries need privileges on windows")
	}
	data := testutil.TarGz(t, []testutil.File{
		{Name: "top/lib/libc++.so.1", Mode: 0o644, Body: "lib"},
		{Name: "top/lib/libc++.so", Link: "libc++.so.1"},
		{Name: "top/bin/ld.lld", Link: "../lib/libc++.so.1"},
	})
	dest := filepath.Join(t.TempDir(), "dest")
	require.NoError(t, NewExtractor().Extract(context.Background(), writeArchive(t, "ok.tar.gz", data), dest))

	got, err := os.ReadFile(filepath.Join(dest, "top", "bin", "ld.lld"))
	require.NoError(t, err)
	assert.Equal(t, "lib", string(got))
}

func TestExtractUnsupportedFormat(t *testing.T) {
	err := NewExtractor().Extract(context.Background(), writeArchive(t, "toolchain.rar", []byte("x")), t.TempDir())
	require.Error(t, err)
}

func TestExtractHonoursContext(t *testing.T) {
	data := testutil.Zip(t, testutil.ToolchainFiles("top"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewExtractor().Extract(ctx, writeArchive(t, "tc.zip", data), t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}

func TestContentRoot(t *testing.T) {
	single := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(single, "ATfE-21.1.1", "bin"), 0o755))
	root, err := contentRoot(single)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(single, "ATfE-21.1.1"), root)

	flat := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(flat, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(flat, "README"), nil, 0o644))
	root, err = contentRoot(flat)
	require.NoError(t, err)
	assert.Equal(t, flat, root)
}
