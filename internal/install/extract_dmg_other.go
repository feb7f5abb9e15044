//go:build !darwin

package install

import (
	"context"

	"go.trai.ch/zerr"
)

func extractDMG(_ context.Context, archivePath, _ string) error {
	return zerr.With(zerr.New("disk images can only be installed on macOS"), "path", archivePath)
}
