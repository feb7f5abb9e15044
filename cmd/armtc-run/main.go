// Command armtc-run runs a command inside the active, or a named, Arm
// toolchain environment. Build tools can use it as a compiler launcher:
//
//	armtc-run clang --target=thumbv7em-none-eabi -c main.c
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZebulonRouseFrantzich/armtc/internal/cli"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	// The child handles interrupts itself; armtc-run only waits for it.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return cli.Main(ctx, cli.NewShim(cli.Options{}), args)
}
