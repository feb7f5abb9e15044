package shell

import (
	"fmt"
	"strings"
)

// ShellType represents a supported shell
type ShellType string

const (
	// ShellBash represents the Bash shell
	ShellBash ShellType = "bash"
	// ShellZsh represents the Z shell
	ShellZsh ShellType = "zsh"
	// ShellFish represents the Fish shell
	ShellFish ShellType = "fish"
	// ShellPowerShell represents PowerShell, both Windows PowerShell and pwsh
	ShellPowerShell ShellType = "powershell"
	// ShellUnknown represents an unknown or unsupported shell
	ShellUnknown ShellType = "unknown"
)

// String returns the string representation of the shell type
func (s ShellType) String() string {
	return string(s)
}

// IsValid returns true if the shell type is supported
func (s ShellType) IsValid() bool {
	switch s {
	case ShellBash, ShellZsh, ShellFish, ShellPowerShell:
		return true
	default:
		return false
	}
}

// DetectionResult contains the result of shell detection
type DetectionResult struct {
	// Shell is the detected shell type
	Shell ShellType
	// Method describes how the shell was detected
	Method string
	// ShellPath is the filesystem path or process name of the shell
	ShellPath string
	// Confidence is the confidence level (high, medium, none)
	Confidence string
}

// Var is one environment variable assignment.
type Var struct {
	Name  string
	Value string
}

// HookOptions holds options for installing the startup hook.
type HookOptions struct {
	// Home overrides the user's home directory.
	Home string
	// Backup copies the rc file aside before modifying it.
	Backup bool
	// DryRun reports what would be done without writing.
	DryRun bool
}

// HookResult contains the result of hook installation
type HookResult struct {
	Shell ShellType
	// RCFile is the path to the shell's startup file
	RCFile string
	// Added indicates if the hook line was (or would be) added
	Added bool
	// AlreadyPresent indicates the hook was configured before
	AlreadyPresent bool
	// BackupPath is the path to the backup file (if created)
	BackupPath string
	// Line is the hook line for the shell
	Line string
}

// UnsupportedShellError represents an unsupported shell error
type UnsupportedShellError struct {
	Shell string
}

func (e *UnsupportedShellError) Error() string {
	names := make([]string, 0, len(supportedShells))
	for _, s := range supportedShells {
		names = append(names, s.String())
	}
	return fmt.Sprintf("unsupported shell: %s (supported: %s)", e.Shell, strings.Join(names, ", "))
}
