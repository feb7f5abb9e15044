package runner

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
)

// lookPath finds command using the child's PATH rather than ours, so tools
// shipped in the toolchain win over same-named ones on the host. Empty and
// relative PATH elements are skipped, as exec.LookPath refuses results
// relative to the current directory.
func lookPath(command string, env *envList) (string, error) {
	if command == "" {
		return "", zerr.Wrap(domain.ErrCommandNotFound, "empty command")
	}
	exts := executableExts(env)

	if strings.ContainsAny(command, `/\`) {
		if p, ok := findExecutable(command, exts); ok {
			return p, nil
		}
		return "", zerr.With(zerr.Wrap(domain.ErrCommandNotFound, "command not found"), "command", command)
	}

	for _, dir := range filepath.SplitList(env.get(env.key("PATH"))) {
		if !filepath.IsAbs(dir) {
			continue
		}
		if p, ok := findExecutable(filepath.Join(dir, command), exts); ok {
			return p, nil
		}
	}
	return "", zerr.With(zerr.Wrap(domain.ErrCommandNotFound, "command not found in toolchain or PATH"), "command", command)
}

// executableExts returns the suffixes to try, from PATHEXT on Windows.
func executableExts(env *envList) []string {
	if runtime.GOOS != "windows" {
		return []string{""}
	}
	exts := []string{""}
	pathext := env.get(env.key("PATHEXT"))
	if pathext == "" {
		pathext = ".COM;.EXE;.BAT;.CMD"
	}
	for _, ext := range strings.Split(pathext, ";") {
		if ext = strings.TrimSpace(ext); ext != "" {
			exts = append(exts, strings.ToLower(ext))
		}
	}
	return exts
}

func findExecutable(base string, exts []string) (string, bool) {
	for _, ext := range exts {
		p := base + ext
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		if runtime.GOOS == "windows" {
			if ext != "" || hasExecutableExt(p, exts) {
				return p, true
			}
			continue
		}
		if info.Mode()&0o111 != 0 {
			return p, true
		}
	}
	return "", false
}

func hasExecutableExt(path string, exts []string) bool {
	lower := strings.ToLower(path)
	for _, ext := range exts {
		if ext != "" && strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
