package cli

import (
	"errors"
	"fmt"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
)

// Exit codes. Each error kind has its own so scripts can react to, say, a
// busy lock differently from a checksum failure.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitResolutionFailed  = 10
	ExitVersionNotFound   = 11
	ExitChecksumMismatch  = 12
	ExitSignatureInvalid  = 13
	ExitBusy              = 14
	ExitNotInstalled      = 15
	ExitNoActiveToolchain = 16
	ExitCommandNotFound   = 17
	ExitCorruptState      = 18
	ExitIO                = 19
	ExitNetwork           = 20
	ExitTimeout           = 21
)

var exitCodes = map[error]int{
	domain.ErrResolutionFailed:  ExitResolutionFailed,
	domain.ErrVersionNotFound:   ExitVersionNotFound,
	domain.ErrChecksumMismatch:  ExitChecksumMismatch,
	domain.ErrSignatureInvalid:  ExitSignatureInvalid,
	domain.ErrBusy:              ExitBusy,
	domain.ErrNotInstalled:      ExitNotInstalled,
	domain.ErrNoActiveToolchain: ExitNoActiveToolchain,
	domain.ErrCommandNotFound:   ExitCommandNotFound,
	domain.ErrCorruptState:      ExitCorruptState,
	domain.ErrIO:                ExitIO,
	domain.ErrNetwork:           ExitNetwork,
	domain.ErrTimeout:           ExitTimeout,
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if code, ok := exitCodes[domain.KindOf(err)]; ok {
		return code
	}
	return ExitFailure
}

// exitError carries a child's exit status through cobra without being
// reported as a failure of armtc itself.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
