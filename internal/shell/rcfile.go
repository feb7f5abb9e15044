package shell

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/atomicfile"
)

const backupSuffix = ".armtc-backup"

// GetRCFilePath returns the path to the shell's startup file under home.
func GetRCFilePath(shell ShellType, home string) (string, error) {
	if err := ValidateShell(shell); err != nil {
		return "", err
	}
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return "", zerr.Wrap(err, "get home directory")
		}
	}

	switch shell {
	case ShellBash:
		return filepath.Join(home, ".bashrc"), nil
	case ShellZsh:
		return filepath.Join(home, ".zshrc"), nil
	case ShellFish:
		return filepath.Join(home, ".config", "fish", "config.fish"), nil
	case ShellPowerShell:
		if runtime.GOOS == "windows" {
			return filepath.Join(home, "Documents", "PowerShell", "Microsoft.PowerShell_profile.ps1"), nil
		}
		return filepath.Join(home, ".config", "powershell", "Microsoft.PowerShell_profile.ps1"), nil
	default:
		return "", &UnsupportedShellError{Shell: shell.String()}
	}
}

// HasHook reports whether the file at rcPath already contains a hook line.
// A missing file has none.
func HasHook(rcPath string) (bool, error) {
	file, err := os.Open(rcPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, zerr.With(zerr.Wrap(err, "open rc file"), "path", rcPath)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, HookMarker) {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, zerr.With(zerr.Wrap(err, "read rc file"), "path", rcPath)
	}
	return false, nil
}

// InstallHook appends the hook line for shell to its startup file unless one
// is already there. The file is replaced atomically and is never followed
// through a symlink.
func InstallHook(shell ShellType, opts HookOptions) (*HookResult, error) {
	line, err := HookLine(shell)
	if err != nil {
		return nil, err
	}
	rcPath, err := GetRCFilePath(shell, opts.Home)
	if err != nil {
		return nil, err
	}
	result := &HookResult{Shell: shell, RCFile: rcPath, Line: line}

	perm := os.FileMode(0o644)
	info, err := os.Lstat(rcPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, zerr.With(zerr.Wrap(err, "stat rc file"), "path", rcPath)
	case info.Mode()&os.ModeSymlink != 0:
		return nil, zerr.With(zerr.New("refusing to modify rc file through a symlink"), "path", rcPath)
	case !info.Mode().IsRegular():
		return nil, zerr.With(zerr.New("rc file is not a regular file"), "path", rcPath)
	default:
		perm = info.Mode().Perm()
	}

	present, err := HasHook(rcPath)
	if err != nil {
		return nil, err
	}
	if present {
		result.AlreadyPresent = true
		return result, nil
	}
	result.Added = true
	if opts.DryRun {
		return result, nil
	}

	existing, err := os.ReadFile(rcPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, zerr.With(zerr.Wrap(err, "read rc file"), "path", rcPath)
	}
	if opts.Backup && existing != nil {
		result.BackupPath = rcPath + backupSuffix
		if err := atomicfile.WriteFile(result.BackupPath, existing, perm); err != nil {
			return nil, err
		}
	}

	var b strings.Builder
	b.Write(existing)
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# armtc - Arm toolchain environment\n")
	b.WriteString(line)
	b.WriteString("\n")

	if err := atomicfile.WriteFile(rcPath, []byte(b.String()), perm); err != nil {
		return nil, err
	}
	return result, nil
}
