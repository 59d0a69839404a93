//go:build linux

// Package e2e exercises the driver and pkg/qdbp together the way
// qdbp-driver and a real instrumented program would run in production:
// build the fixture binary, run it under internal/driver, and check
// the trap fired the expected number of times (scenarios 1 and 2 of
// the design's testable-properties section).
package e2e

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vicencb/qdbp/internal/driver"
)

var exampleBinary string

func TestMain(m *testing.M) {
	if runtime.GOOS != "linux" {
		os.Exit(0)
	}
	dir, err := os.MkdirTemp("", "qdbp-e2e")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	exampleBinary = filepath.Join(dir, "qdbp-example")
	build := exec.Command("go", "build", "-o", exampleBinary, "github.com/vicencb/qdbp/cmd/qdbp-example")
	build.Stdout = os.Stderr
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		panic(err)
	}

	os.Exit(m.Run())
}

// requirePtrace skips tests when QDBP_E2E_SKIP is set, which is how an
// environment that does not allow ptrace (unprivileged containers with
// yama lockdown, etc.) opts out; it does not probe for ptrace itself.
func requirePtrace(t *testing.T) {
	t.Helper()
	if os.Getenv("QDBP_E2E_SKIP") != "" {
		t.Skip("QDBP_E2E_SKIP set")
	}
}

// runExample runs the fixture binary under a driver, capturing its
// stdout, after telling it how many times to write via an env var.
func runExample(t *testing.T, writes int) string {
	t.Helper()
	requirePtrace(t)
	require.NoError(t, os.Setenv("QDBP_EXAMPLE_WRITES", strconv.Itoa(writes)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	origStdout := os.Stdout
	os.Stdout = w

	d := driver.New(driver.DefaultSignals(), 8, nil)
	result, runErr := d.Run(ctx, exampleBinary, nil)

	os.Stdout = origStdout
	require.NoError(t, w.Close())

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, runErr)
	require.Equal(t, 0, result.ExitCode)
	return string(out)
}

// Scenario 1: a single write fires exactly once.
func TestSingleWriteFiresOnce(t *testing.T) {
	out := runExample(t, 1)
	assert.Equal(t, 1, strings.Count(out, "fired "))
}

// Scenario 2: multiple writes to the same watched range each fire the
// callback once, in order.
func TestMultipleWritesFireMultipleTimes(t *testing.T) {
	out := runExample(t, 3)
	assert.Equal(t, 3, strings.Count(out, "fired "))
	assert.Contains(t, out, "done 3")
}
