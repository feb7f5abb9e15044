//go:build unix

package runner

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func statusOf(ps *os.ProcessState) Status {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if ok && ws.Signaled() {
		sig := ws.Signal()
		return Status{
			ExitCode:     -1,
			Signaled:     true,
			Signal:       unix.SignalName(sig),
			SignalNumber: int(sig),
		}
	}
	return Status{ExitCode: ps.ExitCode()}
}
