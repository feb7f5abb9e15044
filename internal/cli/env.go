package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/runner"
	"github.com/ZebulonRouseFrantzich/armtc/internal/shell"
)

func (c *CLI) newEnvCmd() *cobra.Command {
	var (
		version     string
		shellName   string
		noCrossEnv  bool
		ifActive    bool
		installHook bool
	)
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print shell statements that put a toolchain on PATH",
		Long: "Print shell statements that put a toolchain on PATH. Evaluate them in " +
			"your shell, or run with --install-hook to add them to your shell's startup file:\n\n" +
			"  eval \"$(armtc env)\"",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sh, err := c.pickShell(shellName, installHook)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if installHook {
				res, err := shell.InstallHook(sh, shell.HookOptions{Backup: true})
				if err != nil {
					return err
				}
				if res.AlreadyPresent {
					fmt.Fprintf(out, "%s already loads armtc\n", res.RCFile)
					return nil
				}
				fmt.Fprintf(out, "Added to %s:\n  %s\n", res.RCFile, res.Line)
				return nil
			}

			target, err := domain.ParseTarget(version)
			if err != nil {
				return err
			}
			client, err := c.client(cmd.Context())
			if err != nil {
				return err
			}
			env, err := client.Env(cmd.Context(), target, runner.EnvOptions{NoCrossEnv: noCrossEnv})
			if ifActive && target.IsActive() && errors.Is(err, domain.ErrNoActiveToolchain) {
				return nil
			}
			if err != nil {
				return err
			}
			script, err := shell.Script(sh, shell.Changes(c.opts.Environ(), env))
			if err != nil {
				return err
			}
			fmt.Fprint(out, script)
			return nil
		},
	}
	cmd.Flags().StringVarP(&version, "toolchain", "t", "", "Toolchain version (default: the active one)")
	cmd.Flags().StringVarP(&shellName, "shell", "s", "", "Shell syntax: bash, zsh, fish or powershell (default: detected)")
	cmd.Flags().BoolVar(&noCrossEnv, "no-cross-env", false, "Do not set TARGET_CC and the other configured variables")
	cmd.Flags().BoolVar(&ifActive, "if-active", false, "Print nothing instead of failing when no toolchain is active")
	cmd.Flags().BoolVar(&installHook, "install-hook", false, "Add armtc to the shell's startup file")
	return cmd
}

// pickShell honours an explicit --shell, else detects the user's shell.
// Printing falls back to POSIX syntax; installing a hook needs a real answer.
func (c *CLI) pickShell(name string, strict bool) (shell.ShellType, error) {
	if name != "" {
		return shell.ParseShell(name)
	}
	detected := shell.DetectShell(c.opts.Getenv)
	c.logger.Debug("detected shell", "shell", detected.Shell.String(), "method", detected.Method)
	if detected.Shell.IsValid() {
		return detected.Shell, nil
	}
	if strict {
		return shell.ShellUnknown, shell.ValidateShell(detected.Shell)
	}
	return shell.ShellBash, nil
}
