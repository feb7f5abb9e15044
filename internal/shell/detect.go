package shell

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

var supportedShells = []ShellType{ShellBash, ShellZsh, ShellFish, ShellPowerShell}

// parentName reports the parent process's executable name. Replaced in tests.
var parentName = func() (string, error) {
	p, err := process.NewProcess(int32(os.Getppid()))
	if err != nil {
		return "", err
	}
	return p.Name()
}

// DetectShell detects the user's shell from $SHELL, falling back to the
// parent process.
func DetectShell(getenv func(string) string) *DetectionResult {
	if getenv == nil {
		getenv = os.Getenv
	}

	if shell := getenv("SHELL"); shell != "" {
		shellType := parseShellFromPath(shell)
		if shellType.IsValid() {
			return &DetectionResult{
				Shell:      shellType,
				Method:     "$SHELL environment variable",
				ShellPath:  shell,
				Confidence: "high",
			}
		}
	}

	if shellType, name := detectFromParentProcess(); shellType.IsValid() {
		return &DetectionResult{
			Shell:      shellType,
			Method:     "parent process",
			ShellPath:  name,
			Confidence: "medium",
		}
	}

	return &DetectionResult{
		Shell:      ShellUnknown,
		Method:     "detection failed",
		Confidence: "none",
	}
}

// ParseShell maps a user-supplied name such as "zsh" or "pwsh" to a ShellType.
func ParseShell(name string) (ShellType, error) {
	shellType := parseShellFromPath(name)
	if !shellType.IsValid() {
		return ShellUnknown, &UnsupportedShellError{Shell: name}
	}
	return shellType, nil
}

// parseShellFromPath extracts the shell type from a shell binary path
// Examples:
//   - /bin/bash -> bash
//   - /usr/local/bin/fish -> fish
//   - C:\Program Files\PowerShell\7\pwsh.exe -> powershell
func parseShellFromPath(shellPath string) ShellType {
	baseName := strings.ToLower(filepath.Base(filepath.FromSlash(shellPath)))
	if i := strings.LastIndexAny(baseName, `\`); i >= 0 {
		baseName = baseName[i+1:]
	}
	baseName = strings.TrimSuffix(baseName, ".exe")
	// Login shells show up as "-bash" in process listings.
	baseName = strings.TrimPrefix(baseName, "-")

	switch baseName {
	case "bash":
		return ShellBash
	case "zsh":
		return ShellZsh
	case "fish":
		return ShellFish
	case "powershell", "pwsh":
		return ShellPowerShell
	default:
		return ShellUnknown
	}
}

func detectFromParentProcess() (ShellType, string) {
	name, err := parentName()
	if err != nil || name == "" {
		return ShellUnknown, ""
	}
	return parseShellFromPath(name), name
}

// ValidateShell validates that a shell type is supported
func ValidateShell(shell ShellType) error {
	if !shell.IsValid() {
		return &UnsupportedShellError{Shell: shell.String()}
	}
	return nil
}
