//go:build darwin

package install

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"
)

// extractDMG attaches the disk image read-only at a private mount point and
// copies its contents into destDir with ditto, which keeps symlinks, modes
// and extended attributes.
func extractDMG(ctx context.Context, archivePath, destDir string) error {
	mount, err := os.MkdirTemp("", "armtc-dmg-")
	if err != nil {
		return zerr.Wrap(err, "create mount point")
	}
	defer os.RemoveAll(mount)

	attach := exec.CommandContext(ctx, "hdiutil", "attach", "-nobrowse", "-readonly", "-noautoopen",
		"-mountpoint", mount, archivePath)
	if out, err := attach.CombinedOutput(); err != nil {
		return zerr.With(zerr.Wrap(err, "hdiutil attach"), "output", strings.TrimSpace(string(out)))
	}
	defer func() {
		// Detach even when ctx is already cancelled.
		_ = exec.Command("hdiutil", "detach", "-quiet", "-force", mount).Run()
	}()

	entries, err := os.ReadDir(mount)
	if err != nil {
		return zerr.Wrap(err, "read disk image")
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			// .Trashes, .fseventsd and friends.
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		src := filepath.Join(mount, e.Name())
		dst := filepath.Join(destDir, e.Name())
		cp := exec.CommandContext(ctx, "ditto", src, dst)
		if out, err := cp.CombinedOutput(); err != nil {
			return zerr.With(zerr.With(zerr.Wrap(err, "copy from disk image"), "entry", e.Name()),
				"output", strings.TrimSpace(string(out)))
		}
	}
	return nil
}
