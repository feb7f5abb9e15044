// Package runner executes commands inside a toolchain environment.
package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/locator"
)

// Resolver maps a target to a committed toolchain.
type Resolver interface {
	Toolchain(ctx context.Context, target domain.Target) (locator.Toolchain, error)
}

// Options configures a Runner.
type Options struct {
	// Env holds the cross-compilation variables applied on top of the
	// toolchain environment. Values may reference other variables.
	Env    map[string]string
	Logger domain.Logger
}

// EnvOptions controls how the child environment is computed.
type EnvOptions struct {
	// NoCrossEnv leaves out Options.Env.
	NoCrossEnv bool
}

// RunOptions controls a single Run. Nil streams inherit the current
// process's.
type RunOptions struct {
	EnvOptions
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Status is how a child exited.
type Status struct {
	ExitCode int
	Signaled bool
	// Signal is the terminating signal's name, e.g. "SIGTERM".
	Signal       string
	SignalNumber int
}

// ShellCode returns the exit status a POSIX shell would report.
func (s Status) ShellCode() int {
	if s.Signaled {
		return 128 + s.SignalNumber
	}
	return s.ExitCode
}

// Runner spawns commands with a toolchain's bin directory first on PATH.
type Runner struct {
	resolver Resolver
	env      map[string]string
	logger   domain.Logger
}

// New returns a Runner.
func New(resolver Resolver, opts Options) *Runner {
	return &Runner{
		resolver: resolver,
		env:      opts.Env,
		logger:   domain.LoggerOrNop(opts.Logger),
	}
}

// Env returns the environment a child of target would see.
func (r *Runner) Env(ctx context.Context, target domain.Target, opts EnvOptions) ([]string, error) {
	tc, err := r.resolver.Toolchain(ctx, target)
	if err != nil {
		return nil, err
	}
	return r.childEnv(tc, opts).list(), nil
}

func (r *Runner) childEnv(tc locator.Toolchain, opts EnvOptions) *envList {
	env := newEnvList(os.Environ())
	env.prependPath(tc.Bin)
	env.set(EnvToolchainRoot, tc.Root)
	env.set(EnvToolchainVersion, tc.Version.String())
	if !opts.NoCrossEnv {
		env.apply(r.env)
	}
	return env
}

// Run executes command in target's environment and waits for it. A non-zero
// exit is reported in Status, not as an error. The child is not killed when
// ctx ends; ctx only bounds the work before the spawn.
func (r *Runner) Run(ctx context.Context, target domain.Target, command string, args []string, opts RunOptions) (Status, error) {
	tc, err := r.resolver.Toolchain(ctx, target)
	if err != nil {
		return Status{}, err
	}
	env := r.childEnv(tc, opts.EnvOptions)

	path, err := lookPath(command, env)
	if err != nil {
		return Status{}, zerr.With(err, "version", tc.Version.String())
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	cmd := exec.Command(path, args...)
	cmd.Args[0] = command
	cmd.Env = env.list()
	cmd.Dir = opts.Dir
	cmd.Stdin = orReader(opts.Stdin, os.Stdin)
	cmd.Stdout = orWriter(opts.Stdout, os.Stdout)
	cmd.Stderr = orWriter(opts.Stderr, os.Stderr)

	r.logger.Debug("running command", "command", command, "path", path, "version", tc.Version.String())

	err = cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return Status{}, nil
	case errors.As(err, &exitErr):
		status := statusOf(exitErr.ProcessState)
		r.logger.Debug("command exited", "command", command, "exit_code", status.ExitCode, "signal", status.Signal)
		return status, nil
	default:
		return Status{}, domain.IOError(zerr.With(zerr.Wrap(err, "start command"), "command", command))
	}
}

func orReader(r io.Reader, def *os.File) io.Reader {
	if r != nil {
		return r
	}
	return def
}

func orWriter(w io.Writer, def *os.File) io.Writer {
	if w != nil {
		return w
	}
	return def
}
