// Command qdbp-example is a minimal fixture program for internal/e2e:
// it arms a trap over a package-level counter and writes to it a fixed
// number of times, printing one line per callback invocation so a test
// driving it under qdbp-driver can assert on stdout.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/vicencb/qdbp/pkg/qdbp"
)

var counter int32

func main() {
	writes := 3
	if v, ok := os.LookupEnv("QDBP_EXAMPLE_WRITES"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			writes = n
		}
	}

	fired := 0
	_, err := qdbp.Trap(&counter, func(any) {
		fired++
		fmt.Printf("fired %d\n", fired)
	}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qdbp.Trap: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < writes; i++ {
		counter++
		// The notify signal's callback runs on a separate goroutine
		// from this one (see pkg/qdbp's dispatch loop); a short pause
		// gives it a chance to run before the next write, since
		// nothing else in this program otherwise orders the two.
		time.Sleep(5 * time.Millisecond)
	}
	fmt.Printf("done %d\n", counter)
}
