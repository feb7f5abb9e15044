package platform

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
	"go.trai.ch/zerr"
)

// RealDetector implements Detector for the running host.
type RealDetector struct{}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect reports the host OS and architecture. On Linux it also asks
// gopsutil for the distribution; if that fails for any reason other than
// cancellation, Distro stays nil and detection still succeeds.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	return detect(ctx, runtime.GOOS, runtime.GOARCH)
}

func detect(ctx context.Context, goos, goarch string) (*Info, error) {
	arch, err := normalizeArch(goarch)
	if err != nil {
		return nil, zerr.Wrap(err, "platform detection failed")
	}
	if _, err := releaseOS(goos); err != nil {
		return nil, zerr.Wrap(err, "platform detection failed")
	}

	info := &Info{OS: goos, Arch: arch, ArchRaw: goarch}
	if goos != "linux" {
		return info, nil
	}

	id, family, version, err := host.PlatformInformationWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, zerr.Wrap(ctx.Err(), "platform detection cancelled")
		}
		return info, nil
	}
	if id = normalizeID(id); id != "" {
		info.Distro = &Distro{ID: id, Family: mapFamily(family), Version: normalizeID(version)}
	}
	return info, nil
}
