package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/runner"
)

type runFlags struct {
	version    string
	noCrossEnv bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.version, "toolchain", "t", "", "Toolchain version (default: the active one)")
	cmd.Flags().BoolVar(&f.noCrossEnv, "no-cross-env", false, "Do not set TARGET_CC and the other configured variables")
	// Everything after the command name belongs to the command.
	cmd.Flags().SetInterspersed(false)
}

func (c *CLI) newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [--toolchain V] [--no-cross-env] <command> [args...]",
		Short: "Run a command with a toolchain first on PATH",
		Long: "Run a command with the toolchain's bin directory first on PATH and " +
			"ARMTC_TOOLCHAIN_ROOT, ARMTC_TOOLCHAIN_VERSION and the cross-compilation " +
			"variables set. The command's exit status becomes armtc's.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCommand(cmd, flags, args)
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *CLI) runCommand(cmd *cobra.Command, flags runFlags, args []string) error {
	target, err := domain.ParseTarget(flags.version)
	if err != nil {
		return err
	}
	client, err := c.client(cmd.Context())
	if err != nil {
		return err
	}
	status, err := client.Run(cmd.Context(), target, args[0], args[1:], runner.RunOptions{
		EnvOptions: runner.EnvOptions{NoCrossEnv: flags.noCrossEnv},
		Stdin:      cmd.InOrStdin(),
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	if code := status.ShellCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// NewShim creates the armtc-run command line: the run subcommand as a
// program of its own, for build tools that want a compiler wrapper.
func NewShim(opts Options) *CLI {
	opts.defaults()
	c := &CLI{opts: opts}
	var flags runFlags
	cmd := &cobra.Command{
		Use:           "armtc-run [--toolchain V] [--no-cross-env] <command> [args...]",
		Short:         "Run a command inside an Arm toolchain environment",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		Args:          cobra.MinimumNArgs(1),
		PersistentPreRun: func(*cobra.Command, []string) {
			c.logger = NewLogger(c.opts.Stderr, debugEnv(c.opts.Getenv))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCommand(cmd, flags, args)
		},
	}
	cmd.SetIn(opts.Stdin)
	cmd.SetOut(opts.Stdout)
	cmd.SetErr(opts.Stderr)
	flags.register(cmd)
	c.rootCmd = cmd
	return c
}

// Main runs cli with args and returns the exit status.
func Main(ctx context.Context, cli *CLI, args []string) int {
	cli.SetArgs(args)
	return cli.Execute(ctx)
}
