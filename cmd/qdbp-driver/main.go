// Command qdbp-driver is the external process every qdbp-instrumented
// program must run under: it ptrace-attaches to the program, single
// steps it across each trapped write, and signals the tracee's own
// pkg/qdbp runtime so the right callback fires.
//
// Its cobra-based CLI layout mirrors containerd-nydus-snapshotter's
// cmd/rootfs-persister: a root command carrying global flags plus one
// subcommand, run, that does the actual work.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vicencb/qdbp/internal/config"
	"github.com/vicencb/qdbp/internal/driver"
	"github.com/vicencb/qdbp/internal/logging"
	"github.com/vicencb/qdbp/internal/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("qdbp-driver failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		faultSignal  int
		notifySignal int
		capacity     int
		logLevel     string
		logToStdout  bool
		logDir       string
		metricsAddr  string
		configPath   string
	)

	runCmd := &cobra.Command{
		Use:   "run [flags] -- <program> [args...]",
		Short: "Run a program under a qdbp ptrace driver",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlagOverrides(cfg, cmd.Flags(), faultSignal, notifySignal, capacity, logLevel, logToStdout, logDir, metricsAddr)
			cfg.FillDefaults()

			if err := logging.SetUp(cfg.LogLevel, cfg.LogToStdout, cfg.LogDir, cfg.RotateArgs()); err != nil {
				return errors.Wrap(err, "set up logging")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var rec *metrics.Recorder
			if cfg.MetricsAddr != "" {
				rec = metrics.NewRecorder()
				metrics.Serve(ctx, cfg.MetricsAddr, rec)
			}

			d := driver.New(driver.Signals{
				Fault:  syscall.Signal(cfg.FaultSignal),
				Notify: syscall.Signal(cfg.NotifySignal),
			}, cfg.Capacity, rec)

			result, err := d.Run(ctx, args[0], args[1:])
			if err != nil {
				return errors.Wrap(err, "run tracee")
			}
			if result.Signaled {
				fmt.Printf("Target killed by %d\n", int(result.Signal))
				os.Exit(1)
			}
			os.Exit(result.ExitCode)
			return nil
		},
	}
	runCmd.Flags().IntVar(&faultSignal, "fault-signal", 0, "signal number qdbp uses for write faults (default SIGSEGV)")
	runCmd.Flags().IntVar(&notifySignal, "notify-signal", 0, "signal number qdbp uses for trap notifications (default SIGUSR1)")
	runCmd.Flags().IntVar(&capacity, "capacity", 0, "maximum number of simultaneous traps (default 8)")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	runCmd.Flags().BoolVar(&logToStdout, "log-to-stdout", true, "write logs to stdout instead of a rotating file")
	runCmd.Flags().StringVar(&logDir, "log-dir", "", "directory for rotating log files when --log-to-stdout=false")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. 127.0.0.1:9090 (disabled if empty)")
	runCmd.Flags().StringVar(&configPath, "config", "", "path to a qdbp-driver TOML config file")

	root := &cobra.Command{
		Use:     "qdbp-driver",
		Short:   "Ptrace driver for qdbp memory watchpoints",
		Version: "0.1.0",
	}
	root.AddCommand(runCmd)
	return root
}

func applyFlagOverrides(cfg *config.Config, flags *pflag.FlagSet, faultSignal, notifySignal, capacity int, logLevel string, logToStdout bool, logDir, metricsAddr string) {
	if flags.Changed("fault-signal") {
		cfg.FaultSignal = faultSignal
	}
	if flags.Changed("notify-signal") {
		cfg.NotifySignal = notifySignal
	}
	if flags.Changed("capacity") {
		cfg.Capacity = capacity
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-to-stdout") {
		cfg.LogToStdout = logToStdout
	}
	if flags.Changed("log-dir") {
		cfg.LogDir = logDir
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
}
