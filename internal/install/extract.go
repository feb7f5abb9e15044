package install

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/platform"
)

// errUnsafePath marks archive entries that would land outside the
// destination.
var errUnsafePath = zerr.New("archive entry escapes destination")

func unsafePath(entry, link string) error {
	err := zerr.With(zerr.Wrap(errUnsafePath, "refusing archive entry"), "entry", entry)
	if link != "" {
		err = zerr.With(err, "link", link)
	}
	return err
}

// Extractor unpacks release archives.
type Extractor struct{}

// NewExtractor creates a new extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract unpacks archivePath into destDir, choosing the format from the
// file name. ctx is checked between entries.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return domain.IOError(zerr.With(zerr.Wrap(err, "create destination"), "path", destDir))
	}

	// Work on the resolved path so containment checks compare like with like.
	resolved, err := filepath.EvalSymlinks(destDir)
	if err != nil {
		return domain.IOError(zerr.With(zerr.Wrap(err, "resolve destination"), "path", destDir))
	}
	destDir = resolved

	switch platform.ArchiveExtension(filepath.Base(archivePath)) {
	case ".tar.xz":
		err = e.withFile(archivePath, func(f *os.File) error {
			r, err := xz.NewReader(bufio.NewReader(f))
			if err != nil {
				return zerr.Wrap(err, "open xz stream")
			}
			return e.extractTar(ctx, r, destDir)
		})
	case ".tar.gz", ".tgz":
		err = e.withFile(archivePath, func(f *os.File) error {
			gz, err := gzip.NewReader(bufio.NewReader(f))
			if err != nil {
				return zerr.Wrap(err, "open gzip stream")
			}
			defer gz.Close()
			return e.extractTar(ctx, gz, destDir)
		})
	case ".zip":
		err = e.extractZip(ctx, archivePath, destDir)
	case ".dmg":
		err = extractDMG(ctx, archivePath, destDir)
	default:
		return zerr.With(zerr.New("unsupported archive format"), "path", archivePath)
	}
	if err != nil {
		return domain.IOError(zerr.With(zerr.Wrap(err, "extract archive"), "archive", filepath.Base(archivePath)))
	}
	return nil
}

func (e *Extractor) withFile(path string, fn func(f *os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		return zerr.Wrap(err, "open archive")
	}
	defer f.Close()
	return fn(f)
}

func (e *Extractor) extractTar(ctx context.Context, r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		// Insecure names are rejected by safeJoin below with more context.
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return zerr.Wrap(err, "read tar header")
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}
		if err := checkInside(destDir, target); err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return zerr.With(zerr.Wrap(err, "create directory"), "path", target)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, header.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := makeSymlink(destDir, target, header.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			source, err := safeJoin(destDir, header.Linkname)
			if err != nil {
				return err
			}
			if err := checkInside(destDir, source); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return zerr.With(zerr.Wrap(err, "create parent directory"), "path", target)
			}
			if err := os.Link(source, target); err != nil {
				return zerr.With(zerr.Wrap(err, "create hard link"), "path", target)
			}
		default:
			// Devices, fifos and PAX globals have no place in a toolchain.
			continue
		}
	}
}

func (e *Extractor) extractZip(ctx context.Context, archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return zerr.Wrap(err, "open zip")
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		if err := checkInside(destDir, target); err != nil {
			return err
		}
		mode := f.Mode()

		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return zerr.With(zerr.Wrap(err, "create directory"), "path", target)
			}
		case mode&os.ModeSymlink != 0:
			link, err := readZipEntry(f)
			if err != nil {
				return err
			}
			if err := makeSymlink(destDir, target, string(link)); err != nil {
				return err
			}
		default:
			rc, err := f.Open()
			if err != nil {
				return zerr.With(zerr.Wrap(err, "open zip entry"), "entry", f.Name)
			}
			err = writeFile(target, rc, mode)
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "open zip entry"), "entry", f.Name)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "read zip entry"), "entry", f.Name)
	}
	return data, nil
}

// safeJoin resolves name inside destDir, rejecting absolute paths and any
// ".." that would climb out.
func safeJoin(destDir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", unsafePath(name, "")
	}
	if clean == "." {
		return filepath.Clean(destDir), nil
	}
	return filepath.Join(destDir, clean), nil
}

// makeSymlink creates target pointing at link, which must stay inside
// destDir once resolved relative to target's real directory.
func makeSymlink(destDir, target, link string) error {
	if filepath.IsAbs(link) || filepath.VolumeName(link) != "" {
		return unsafePath(target, link)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, "create parent directory"), "path", target)
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(target))
	if err != nil {
		return zerr.With(zerr.Wrap(err, "resolve parent directory"), "path", target)
	}
	if !resolvesInside(destDir, parent, link) {
		return unsafePath(target, link)
	}
	if err := os.Symlink(link, target); err != nil {
		return zerr.With(zerr.Wrap(err, "create symlink"), "path", target)
	}
	return nil
}

// checkInside rejects path when it, or its nearest existing ancestor,
// resolves through symlinks extracted earlier to somewhere outside root.
func checkInside(root, path string) error {
	p := path
	for {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			if !within(root, real) {
				return unsafePath(path, real)
			}
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return zerr.With(zerr.Wrap(err, "resolve path"), "path", p)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return nil
		}
		p = parent
	}
}

// resolvesInside follows link from dir one component at a time, resolving
// symlinks as the kernel would, and reports whether every step stays inside
// root. Components that do not exist yet are joined lexically.
func resolvesInside(root, dir, link string) bool {
	cur := dir
	comps := strings.Split(filepath.ToSlash(link), "/")
	for i, c := range comps {
		switch c {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
		default:
			next := filepath.Join(cur, c)
			real, err := filepath.EvalSymlinks(next)
			if errors.Is(err, fs.ErrNotExist) {
				return within(root, filepath.Join(append([]string{next}, comps[i+1:]...)...))
			}
			if err != nil {
				return false
			}
			cur = real
		}
		if !within(root, cur) {
			return false
		}
	}
	return true
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, "create parent directory"), "path", target)
	}
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		// Writing would follow the link.
		return unsafePath(target, "")
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "create file"), "path", target)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return zerr.With(zerr.Wrap(err, "write file"), "path", target)
	}
	if err := out.Close(); err != nil {
		return zerr.With(zerr.Wrap(err, "close file"), "path", target)
	}
	return nil
}

// contentRoot returns the directory holding the toolchain inside dir: the
// single top-level directory when the archive wraps everything in one, dir
// itself otherwise.
func contentRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "read extracted tree"), "path", dir)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
