package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/ZebulonRouseFrantzich/armtc/internal/cache"
)

// progressPrinter reports download progress in 10% steps, or every 16 MiB
// when the size is unknown.
func progressPrinter(w io.Writer, label string) cache.ProgressFunc {
	var (
		mu   sync.Mutex
		last int64 = -1
	)
	return func(done, total int64) {
		mu.Lock()
		defer mu.Unlock()
		if total > 0 {
			step := done * 10 / total
			if step == last {
				return
			}
			last = step
			fmt.Fprintf(w, "%s: %d%%\n", label, step*10)
			return
		}
		step := done >> 24
		if step == last {
			return
		}
		last = step
		fmt.Fprintf(w, "%s: %d MiB\n", label, done>>20)
	}
}
