//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package lockfile

import (
	"os"

	"go.trai.ch/zerr"
)

var errUnsupported = zerr.New("advisory file locks are not supported on this platform")

func tryLockFile(*os.File, bool) (bool, error) {
	return false, errUnsupported
}

func unlockFile(*os.File) error {
	return nil
}
