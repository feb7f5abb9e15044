package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"testing"

	"github.com/ulikunitz/xz"
)

// File is one entry of a generated archive.
type File struct {
	Name string
	Body string
	Mode int64
	// Link makes the entry a symlink to Link.
	Link string
	// Dir makes the entry a directory.
	Dir bool
}

// ToolchainFiles returns a small toolchain tree under a single top-level
// directory, the way Arm packages releases. bin/armtc-hello is a shell
// script that echoes its arguments and selected environment variables.
func ToolchainFiles(top string) []File {
	return []File{
		{Name: top + "/", Dir: true},
		{Name: top + "/bin/", Dir: true},
		{Name: top + "/bin/armtc-hello", Mode: 0o755, Body: "#!/bin/sh\necho \"hello $*\"\necho \"TARGET_CC=$TARGET_CC\"\necho \"ROOT=$ARMTC_TOOLCHAIN_ROOT\"\n"},
		{Name: top + "/bin/armtc-exit", Mode: 0o755, Body: "#!/bin/sh\nexit \"$1\"\n"},
		{Name: top + "/bin/armtc-kill", Mode: 0o755, Body: "#!/bin/sh\nkill -TERM $$\n"},
		{Name: top + "/bin/clang", Mode: 0o755, Body: "#!/bin/sh\necho clang version 21.1.1\n"},
		{Name: top + "/bin/clang++", Link: "clang"},
		{Name: top + "/lib/clang-runtimes/multilib.yaml", Mode: 0o644, Body: "MultilibVersion: 1.0\n"},
		{Name: top + "/README.md", Mode: 0o644, Body: "Arm Toolchain for Embedded\n"},
	}
}

// TarGz builds a .tar.gz archive.
func TarGz(t testing.TB, files []File) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	writeTar(t, gz, files)
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// TarXz builds a .tar.xz archive.
func TarXz(t testing.TB, files []File) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("create xz writer: %v", err)
	}
	writeTar(t, xw, files)
	if err := xw.Close(); err != nil {
		t.Fatalf("close xz: %v", err)
	}
	return buf.Bytes()
}

func writeTar(t testing.TB, w io.Writer, files []File) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, f := range files {
		hdr := &tar.Header{Name: f.Name, Mode: f.Mode}
		switch {
		case f.Dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case f.Link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = f.Link
			hdr.Mode = 0o777
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(f.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header %s: %v", f.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.WriteString(tw, f.Body); err != nil {
				t.Fatalf("write tar body %s: %v", f.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
}

// Zip builds a .zip archive. Symlinks are stored the way Info-ZIP does:
// mode bits carry the link type and the body is the target.
func Zip(t testing.TB, files []File) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.Name, Method: zip.Deflate}
		body := f.Body
		switch {
		case f.Dir:
			hdr.Method = zip.Store
		case f.Link != "":
			hdr.SetMode(0o777 | fs.ModeSymlink)
			body = f.Link
		default:
			hdr.SetMode(fsMode(f.Mode))
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", f.Name, err)
		}
		if !f.Dir {
			if _, err := io.WriteString(w, body); err != nil {
				t.Fatalf("write zip entry %s: %v", f.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// SHA256 returns the lowercase hex digest of data.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func fsMode(m int64) fs.FileMode {
	if m == 0 {
		return 0o644
	}
	return fs.FileMode(m)
}
