// Package shell provides shell integration for armtc.
//
// This package handles:
//   - Detecting the user's shell (bash, zsh, fish, PowerShell)
//   - Rendering a toolchain environment as statements a shell can evaluate
//   - Installing a startup hook so new shells see the active toolchain
//
// # Shell Detection
//
// Shell detection tries, in order:
//  1. $SHELL environment variable (most reliable)
//  2. The parent process name, via gopsutil
//
// # Startup Hook
//
// The hook line calls back into armtc rather than embedding paths, so
// switching toolchains with `armtc use` takes effect in the next shell:
//
//	eval "$(armtc env --shell bash --if-active)"
//
// Startup files:
//   - bash: ~/.bashrc
//   - zsh: ~/.zshrc
//   - fish: ~/.config/fish/config.fish
//   - PowerShell: the CurrentUserCurrentHost profile
//
// Modifications are idempotent and atomic (temp file + rename).
package shell
