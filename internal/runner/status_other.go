//go:build !unix

package runner

import "os"

func statusOf(ps *os.ProcessState) Status {
	return Status{ExitCode: ps.ExitCode()}
}
