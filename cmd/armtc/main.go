// Command armtc installs, switches and runs Arm toolchains for embedded
// development.
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
	// Interrupts cancel in-flight downloads. A child started by "armtc run"
	// receives them from the terminal directly, and armtc keeps waiting for it.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return cli.Main(ctx, cli.New(cli.Options{}), args)
}
