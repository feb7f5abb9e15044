// Package cli implements the armtc and armtc-run command lines on top of
// the toolchain client.
package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/config"
	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/platform"
	"github.com/ZebulonRouseFrantzich/armtc/internal/toolchain"
)

// Version is set at build time via -ldflags.
var Version = "v0.1.0-dev"

// Options wires the CLI to its surroundings. Zero values use the real
// process's.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
	// Environ is the environment children would inherit.
	Environ  func() []string
	Detector platform.Detector
}

// CLI represents the command line interface for armtc.
type CLI struct {
	rootCmd *cobra.Command
	opts    Options
	logger  *slog.Logger

	rootDir    string
	configPath string
	noWait     bool
	verbose    bool
}

func (o *Options) defaults() {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.Environ == nil {
		o.Environ = os.Environ
	}
	if o.Detector == nil {
		o.Detector = platform.NewDetector()
	}
}

// New creates the armtc command tree.
func New(opts Options) *CLI {
	opts.defaults()
	c := &CLI{opts: opts}

	rootCmd := &cobra.Command{
		Use:           "armtc",
		Short:         "Install and switch Arm toolchains for embedded development",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		PersistentPreRun: func(*cobra.Command, []string) {
			c.logger = NewLogger(c.opts.Stderr, c.verbose || debugEnv(c.opts.Getenv))
		},
	}
	rootCmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
	rootCmd.SetIn(opts.Stdin)
	rootCmd.SetOut(opts.Stdout)
	rootCmd.SetErr(opts.Stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.rootDir, "root", "", "Data directory (default $ARMTC_HOME or the per-user data directory)")
	flags.StringVar(&c.configPath, "config", "", "Lua config file (default <root>/config.lua)")
	flags.BoolVar(&c.noWait, "no-wait", false, "Fail with a busy error instead of waiting for locks")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		c.newUseCmd(),
		c.newInstallCmd(),
		c.newListCmd(),
		c.newLocateCmd(),
		c.newRemoveCmd(),
		c.newPurgeCacheCmd(),
		c.newRunCmd(),
		c.newEnvCmd(),
	)
	c.rootCmd = rootCmd
	return c
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// Execute runs the command line and returns the process exit status. Errors
// are logged once here, with their metadata as structured fields.
func (c *CLI) Execute(ctx context.Context) int {
	err := c.rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	code := ExitCode(err)
	var child *exitError
	if errors.As(err, &child) {
		return code
	}
	logger := c.logger
	if logger == nil {
		// Flag parsing failed before any command ran.
		logger = NewLogger(c.opts.Stderr, false)
	}
	zerr.Log(ctx, logger, err)
	return code
}

// client opens the toolchain client for the selected root.
func (c *CLI) client(ctx context.Context) (*toolchain.Client, error) {
	root := c.rootDir
	if root == "" {
		var err error
		root, err = config.DefaultRoot(c.opts.Getenv)
		if err != nil {
			return nil, err
		}
	}
	layout, err := domain.NewLayout(root)
	if err != nil {
		return nil, err
	}
	settings, err := config.Load(ctx, config.LoadOptions{
		Path:        c.configPath,
		DefaultPath: layout.ConfigFile(),
		Detector:    c.opts.Detector,
		Getenv:      c.opts.Getenv,
	})
	if err != nil {
		return nil, err
	}
	return toolchain.New(ctx, toolchain.Options{
		Root:        layout.Root,
		Settings:    settings,
		Detector:    c.opts.Detector,
		NonBlocking: c.noWait,
		Logger:      c.logger,
	})
}

func debugEnv(getenv func(string) string) bool {
	v := getenv(EnvDebug)
	return v != "" && v != "0"
}
