// Package platform detects the host a toolchain will run on and maps it to
// the OS and architecture names used in Arm toolchain release assets.
//
// Detection uses runtime.GOOS/GOARCH for the parts that select an asset and
// gopsutil for Linux distribution details, which are only exposed to Lua
// configuration. Distribution detection failing is never fatal.
package platform

import "context"

// Release asset OS names.
const (
	ReleaseOSLinux   = "Linux"
	ReleaseOSDarwin  = "Darwin"
	ReleaseOSWindows = "Windows"
)

// Release asset architecture names.
const (
	ReleaseArchX86_64    = "x86_64"
	ReleaseArchAArch64   = "AArch64"
	ReleaseArchUniversal = "universal"
)

// Info contains platform detection information.
type Info struct {
	OS      string // "linux", "darwin", "windows"
	Arch    string // "amd64", "arm64" (normalized)
	ArchRaw string // original GOARCH
	Distro  *Distro
}

// Distro contains Linux distribution information.
// This is nil on non-Linux platforms or when detection failed.
type Distro struct {
	ID      string // e.g. "ubuntu"
	Family  string // e.g. "debian"
	Version string // e.g. "22.04"
}

func (i *Info) IsLinux() bool   { return i.OS == "linux" }
func (i *Info) IsMacOS() bool   { return i.OS == "darwin" }
func (i *Info) IsWindows() bool { return i.OS == "windows" }

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. It is used when the platform is
// forced by configuration and in tests.
type StaticDetector struct {
	Info Info
}

// Detect returns a copy of the configured Info.
func (s StaticDetector) Detect(context.Context) (*Info, error) {
	info := s.Info
	return &info, nil
}
