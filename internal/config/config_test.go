package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadTOMLConfig(t *testing.T) {
	A := assert.New(t)

	cfg, err := Load("testdata/config.toml")
	A.NoError(err)

	A.Equal(11, cfg.FaultSignal)
	A.Equal(10, cfg.NotifySignal)
	A.Equal(16, cfg.Capacity)
	A.Equal("debug", cfg.LogLevel)
	A.True(cfg.LogToStdout)
	A.Equal("127.0.0.1:9090", cfg.MetricsAddr)
}

func TestLoadMissingConfigIsNotAnError(t *testing.T) {
	A := assert.New(t)

	cfg, err := Load("testdata/does-not-exist.toml")
	A.NoError(err)
	A.Equal(0, cfg.Capacity)
}

func TestFillDefaults(t *testing.T) {
	A := assert.New(t)

	var cfg Config
	cfg.FillDefaults()

	A.Equal(DefaultFaultSignal, cfg.FaultSignal)
	A.Equal(DefaultNotifySignal, cfg.NotifySignal)
	A.Equal(DefaultCapacity, cfg.Capacity)
	A.Equal(DefaultLogLevel, cfg.LogLevel)
	A.NotEmpty(cfg.LogDir)
}

func TestFillDefaultsPreservesExplicitValues(t *testing.T) {
	A := assert.New(t)

	cfg := Config{FaultSignal: 5, Capacity: 99, LogLevel: "warn"}
	cfg.FillDefaults()

	A.Equal(5, cfg.FaultSignal)
	A.Equal(99, cfg.Capacity)
	A.Equal("warn", cfg.LogLevel)
}
