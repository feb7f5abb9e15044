package platform

import (
	"strings"

	"go.trai.ch/zerr"
)

var familyMap = map[string]string{
	"debian":   "debian",
	"ubuntu":   "debian",
	"rhel":     "rhel",
	"centos":   "rhel",
	"rocky":    "rhel",
	"fedora":   "fedora",
	"suse":     "suse",
	"opensuse": "suse",
	"arch":     "arch",
	"manjaro":  "arch",
	"alpine":   "alpine",
	"gentoo":   "gentoo",
}

// normalizeArch maps GOARCH-style names onto the two architectures Arm
// publishes host toolchains for.
func normalizeArch(arch string) (string, error) {
	switch strings.ToLower(arch) {
	case "amd64", "x86_64":
		return "amd64", nil
	case "arm64", "aarch64":
		return "arm64", nil
	default:
		return "", zerr.With(zerr.New("unsupported architecture"), "arch", arch)
	}
}

func normalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func mapFamily(family string) string {
	if canonical, ok := familyMap[normalizeID(family)]; ok {
		return canonical
	}
	return "unknown"
}
