package platform

import (
	"slices"
	"strings"

	"go.trai.ch/zerr"
)

// Archive extensions accepted per OS, most preferred first.
var releaseExtensions = map[string][]string{
	"linux":   {".tar.xz", ".tar.gz", ".zip"},
	"darwin":  {".dmg", ".tar.xz", ".tar.gz", ".zip"},
	"windows": {".zip", ".tar.xz", ".tar.gz"},
}

func releaseOS(goos string) (string, error) {
	switch goos {
	case "linux":
		return ReleaseOSLinux, nil
	case "darwin":
		return ReleaseOSDarwin, nil
	case "windows":
		return ReleaseOSWindows, nil
	default:
		return "", zerr.With(zerr.New("unsupported operating system"), "os", goos)
	}
}

// ReleaseOS returns the OS component used in asset names.
func (i *Info) ReleaseOS() string {
	name, _ := releaseOS(i.OS)
	return name
}

// ReleaseArches returns the acceptable architecture components in asset
// names, most preferred first. macOS hosts also accept universal builds.
func (i *Info) ReleaseArches() []string {
	var arches []string
	switch i.Arch {
	case "amd64":
		arches = append(arches, ReleaseArchX86_64)
	case "arm64":
		arches = append(arches, ReleaseArchAArch64)
	}
	if i.IsMacOS() {
		arches = append(arches, ReleaseArchUniversal)
	}
	return arches
}

// Key returns the preferred platform key, e.g. "Linux-x86_64".
func (i *Info) Key() string {
	arches := i.ReleaseArches()
	if len(arches) == 0 {
		return i.ReleaseOS()
	}
	return i.ReleaseOS() + "-" + arches[0]
}

// Keys returns every platform key this host can run, most preferred first.
func (i *Info) Keys() []string {
	keys := make([]string, 0, 2)
	for _, arch := range i.ReleaseArches() {
		keys = append(keys, i.ReleaseOS()+"-"+arch)
	}
	return keys
}

// ArchiveExtension returns the recognised archive extension of name, or "".
func ArchiveExtension(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.xz", ".tar.gz", ".tgz", ".zip", ".dmg"} {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return ""
}

// MatchAsset reports whether a release asset named name can be installed on
// this host, and the platform key it matched. Asset names are dash
// separated, e.g. "ATfE-21.1.1-Linux-x86_64.tar.xz"; the OS and one
// acceptable architecture must both appear as whole components.
func (i *Info) MatchAsset(name string) (key string, rank int, ok bool) {
	ext := ArchiveExtension(name)
	if ext == "" {
		return "", 0, false
	}
	extRank := slices.Index(releaseExtensions[i.OS], ext)
	if extRank < 0 {
		return "", 0, false
	}

	components := strings.Split(strings.TrimSuffix(name, name[len(name)-len(ext):]), "-")
	if !slices.Contains(components, i.ReleaseOS()) {
		return "", 0, false
	}
	for archRank, arch := range i.ReleaseArches() {
		if slices.Contains(components, arch) {
			return i.ReleaseOS() + "-" + arch, archRank*10 + extRank, true
		}
	}
	return "", 0, false
}

// BestAsset picks the most preferred installable asset from names. It
// returns the index into names, or -1.
func (i *Info) BestAsset(names []string) (index int, key string) {
	index, bestRank := -1, 0
	for n, name := range names {
		k, rank, ok := i.MatchAsset(name)
		if !ok {
			continue
		}
		if index < 0 || rank < bestRank {
			index, key, bestRank = n, k, rank
		}
	}
	return index, key
}
