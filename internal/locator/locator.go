// Package locator maps a toolchain target to paths inside its install.
package locator

import (
	"context"
	"path/filepath"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/install"
)

// Installs looks up committed installs.
type Installs interface {
	Lookup(ctx context.Context, v domain.Version) (*install.Record, error)
}

// Pointer reads the active version.
type Pointer interface {
	Get(ctx context.Context) (domain.Version, bool, error)
}

// Toolchain is a resolved, committed toolchain.
type Toolchain struct {
	Version domain.Version
	// Root is the absolute install directory.
	Root string
	// Bin holds the toolchain's executables.
	Bin string
}

// Locator resolves targets against the install registry and active pointer.
type Locator struct {
	installs Installs
	pointer  Pointer
}

// New returns a Locator.
func New(installs Installs, pointer Pointer) *Locator {
	return &Locator{installs: installs, pointer: pointer}
}

// Toolchain resolves target to a committed install. The active target fails
// with domain.ErrNoActiveToolchain when nothing is active; an explicit one
// fails with domain.ErrNotInstalled when it has no committed install.
func (l *Locator) Toolchain(ctx context.Context, target domain.Target) (Toolchain, error) {
	v := target.Version()
	if target.IsActive() {
		active, ok, err := l.pointer.Get(ctx)
		if err != nil {
			return Toolchain{}, err
		}
		if !ok {
			return Toolchain{}, zerr.Wrap(domain.ErrNoActiveToolchain, "no toolchain is active")
		}
		v = active
	}

	rec, err := l.installs.Lookup(ctx, v)
	if err != nil {
		return Toolchain{}, err
	}
	return Toolchain{Version: rec.Version, Root: rec.Root, Bin: rec.Bin()}, nil
}

// Locate returns subpath joined to the install root of target. Only the
// root is checked for existence.
func (l *Locator) Locate(ctx context.Context, target domain.Target, subpath string) (string, error) {
	tc, err := l.Toolchain(ctx, target)
	if err != nil {
		return "", err
	}
	if subpath == "" {
		return tc.Root, nil
	}
	return filepath.Join(tc.Root, filepath.FromSlash(subpath)), nil
}
