// Package config loads the qdbp-driver TOML configuration file,
// grounded in containerd-nydus-snapshotter's config package: a plain
// struct with toml tags, loaded with github.com/pelletier/go-toml and
// defaulted afterwards.
package config

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/vicencb/qdbp/internal/logging"
)

const (
	DefaultLogLevel     = "info"
	DefaultFaultSignal  = 11 // SIGSEGV
	DefaultNotifySignal = 10 // SIGUSR1
	DefaultCapacity     = 8
	DefaultMetricsAddr  = ""
)

// Config is the on-disk shape of a qdbp-driver config file. Every
// field except the RotateLog* ones has a corresponding CLI flag in
// cmd/qdbp-driver that overrides it; flags win when both are set (see
// cmd/qdbp-driver/main.go). The RotateLog* fields are set only here.
type Config struct {
	FaultSignal  int    `toml:"fault_signal"`
	NotifySignal int    `toml:"notify_signal"`
	Capacity     int    `toml:"capacity"`
	LogLevel     string `toml:"log_level"`
	LogToStdout  bool   `toml:"log_to_stdout"`
	LogDir       string `toml:"log_dir"`
	MetricsAddr  string `toml:"metrics_addr"`

	RotateLogMaxSizeMB  int  `toml:"log_rotate_max_size"`
	RotateLogMaxBackups int  `toml:"log_rotate_max_backups"`
	RotateLogMaxAgeDays int  `toml:"log_rotate_max_age"`
	RotateLogLocalTime  bool `toml:"log_rotate_local_time"`
	RotateLogCompress   bool `toml:"log_rotate_compress"`
}

// Load reads path as TOML into a zero Config. A missing file is not an
// error: it yields a zero Config for FillDefaults to fill in, matching
// the teacher's tolerance of an absent config file.
func Load(path string) (*Config, error) {
	var c Config
	if path == "" {
		return &c, nil
	}
	tree, err := toml.LoadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &c, nil
		}
		return nil, errors.Wrapf(err, "load config file %q", path)
	}
	if err := tree.Unmarshal(&c); err != nil {
		return nil, errors.Wrapf(err, "unmarshal config file %q", path)
	}
	return &c, nil
}

// FillDefaults replaces zero-valued fields with their defaults.
func (c *Config) FillDefaults() {
	if c.FaultSignal == 0 {
		c.FaultSignal = DefaultFaultSignal
	}
	if c.NotifySignal == 0 {
		c.NotifySignal = DefaultNotifySignal
	}
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogDir == "" {
		c.LogDir = logging.DefaultLogDirName
	}
}

// RotateArgs adapts the config's rotation fields to logging.RotateArgs.
func (c *Config) RotateArgs() *logging.RotateArgs {
	return &logging.RotateArgs{
		MaxSizeMB:  c.RotateLogMaxSizeMB,
		MaxBackups: c.RotateLogMaxBackups,
		MaxAgeDays: c.RotateLogMaxAgeDays,
		LocalTime:  c.RotateLogLocalTime,
		Compress:   c.RotateLogCompress,
	}
}
