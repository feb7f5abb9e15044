package domain

import (
	"context"
	"errors"
	"net"

	"go.trai.ch/zerr"
)

// Error kinds. Every error returned by an armtc component matches exactly one
// of these with errors.Is, or none for programming errors. Attach metadata by
// wrapping first (zerr.With(zerr.Wrap(ErrX, msg), k, v)); calling zerr.With on
// the sentinel directly produces a copy that no longer matches.
var (
	ErrResolutionFailed  = zerr.New("resolution failed")
	ErrVersionNotFound   = zerr.New("version not found")
	ErrChecksumMismatch  = zerr.New("checksum mismatch")
	ErrSignatureInvalid  = zerr.New("signature verification failed")
	ErrBusy              = zerr.New("resource busy")
	ErrNotInstalled      = zerr.New("toolchain not installed")
	ErrNoActiveToolchain = zerr.New("no active toolchain")
	ErrCommandNotFound   = zerr.New("command not found")
	ErrCorruptState      = zerr.New("corrupt state")
	ErrIO                = zerr.New("i/o error")
	ErrNetwork           = zerr.New("network error")
	ErrTimeout           = zerr.New("timed out")
)

// kinds is ordered from most to least specific. KindOf walks it in order so a
// timed-out resolution reports ErrTimeout rather than ErrResolutionFailed.
var kinds = []error{
	ErrTimeout,
	ErrChecksumMismatch,
	ErrSignatureInvalid,
	ErrVersionNotFound,
	ErrBusy,
	ErrNotInstalled,
	ErrNoActiveToolchain,
	ErrCommandNotFound,
	ErrCorruptState,
	ErrResolutionFailed,
	ErrNetwork,
	ErrIO,
}

// kindError tags a cause with a kind without hiding the cause from errors.Is
// or errors.As.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// Classify returns an error that matches both kind and cause. A nil cause
// yields kind itself.
func Classify(kind, cause error) error {
	if cause == nil {
		return kind
	}
	if errors.Is(cause, kind) {
		return cause
	}
	return &kindError{kind: kind, cause: cause}
}

// KindOf reports the most specific error kind err matches, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// NetworkError classifies a transport failure as ErrTimeout or ErrNetwork.
// Context cancellation is passed through untouched so callers can tell an
// interrupted operation from a failed one.
func NetworkError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if IsTimeout(err) {
		return Classify(ErrTimeout, err)
	}
	return Classify(ErrNetwork, err)
}

// IOError classifies a filesystem failure as ErrIO, leaving cancellation and
// already-classified errors alone.
func IOError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || KindOf(err) != nil {
		return err
	}
	return Classify(ErrIO, err)
}
