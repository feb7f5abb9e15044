package runner

import (
	"os"
	"runtime"
	"sort"
	"strings"
)

// Variables set in every child environment.
const (
	EnvToolchainRoot    = "ARMTC_TOOLCHAIN_ROOT"
	EnvToolchainVersion = "ARMTC_TOOLCHAIN_VERSION"
)

// envList is an ordered KEY=VALUE list. Keys compare case-insensitively on
// Windows, where "Path" and "PATH" are the same variable.
type envList struct {
	entries []string
	fold    bool
}

func newEnvList(base []string) *envList {
	return &envList{entries: append([]string(nil), base...), fold: runtime.GOOS == "windows"}
}

func (e *envList) index(key string) int {
	for i, entry := range e.entries {
		k, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if k == key || (e.fold && strings.EqualFold(k, key)) {
			return i
		}
	}
	return -1
}

// key returns the spelling of key already present, or key itself.
func (e *envList) key(key string) string {
	if i := e.index(key); i >= 0 {
		k, _, _ := strings.Cut(e.entries[i], "=")
		return k
	}
	return key
}

func (e *envList) get(key string) string {
	if i := e.index(key); i >= 0 {
		_, v, _ := strings.Cut(e.entries[i], "=")
		return v
	}
	return ""
}

func (e *envList) set(key, value string) {
	if i := e.index(key); i >= 0 {
		e.entries[i] = e.key(key) + "=" + value
		return
	}
	e.entries = append(e.entries, key+"="+value)
}

// prependPath puts dir first on the search path.
func (e *envList) prependPath(dir string) {
	key := e.key("PATH")
	if cur := e.get(key); cur != "" {
		e.set(key, dir+string(os.PathListSeparator)+cur)
		return
	}
	e.set(key, dir)
}

// apply sets each extra variable in key order, expanding $VAR and ${VAR}
// against the environment built so far.
func (e *envList) apply(extra map[string]string) {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.set(k, os.Expand(extra[k], e.get))
	}
}

func (e *envList) list() []string {
	return e.entries
}
