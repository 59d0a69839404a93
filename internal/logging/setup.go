// Package logging wires up logrus the way
// containerd-nydus-snapshotter's internal/logging package does: a
// parsed level, an optional rotating file sink via lumberjack, and a
// fixed text formatter, so every qdbp-driver run produces consistent,
// greppable log lines.
package logging

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultLogDirName is used when a caller wants file logging but
	// doesn't otherwise care where.
	DefaultLogDirName  = "logs"
	defaultLogFileName = "qdbp-driver.log"

	rfc3339NanoFixed = "2006-01-02T15:04:05.000000000Z07:00"
)

// RotateArgs configures lumberjack's rotation policy.
type RotateArgs struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	LocalTime  bool
	Compress   bool
}

// SetUp configures the global logrus logger. When logToStdout is
// false, rotate must be non-nil and logDir must be writable.
func SetUp(logLevel string, logToStdout bool, logDir string, rotate *RotateArgs) error {
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrapf(err, "parse log level %q", logLevel)
	}
	logrus.SetLevel(lvl)

	if logToStdout {
		logrus.SetOutput(os.Stdout)
	} else {
		if rotate == nil {
			return errors.New("rotate args required when logToStdout is false")
		}
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return errors.Wrapf(err, "create log dir %s", logDir)
		}
		logrus.SetOutput(&lumberjack.Logger{
			Filename:   filepath.Join(logDir, defaultLogFileName),
			MaxSize:    rotate.MaxSizeMB,
			MaxBackups: rotate.MaxBackups,
			MaxAge:     rotate.MaxAgeDays,
			LocalTime:  rotate.LocalTime,
			Compress:   rotate.Compress,
		})
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: rfc3339NanoFixed,
		FullTimestamp:   true,
	})
	return nil
}
