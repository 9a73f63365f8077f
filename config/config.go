// Package config loads runtime settings from a YAML file with environment
// overrides.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvPoolSize    = "BRIDGE_POOL_SIZE"
	EnvPoolBacklog = "BRIDGE_POOL_BACKLOG"
	EnvSyncTimeout = "BRIDGE_SYNC_TIMEOUT"
	EnvMaxFrame    = "BRIDGE_MAX_FRAME"
	EnvLogRPS      = "BRIDGE_LOG_RPS"
	EnvLogBurst    = "BRIDGE_LOG_BURST"
)

// DefaultSyncTimeout bounds how long a synchronous call waits for its result.
const DefaultSyncTimeout = 500 * time.Millisecond

// Config is the complete runtime configuration.
type Config struct {
	Executor Executor
	Bridge   Bridge
	Link     Link
}

// Executor sizes the worker pool and main loop.
type Executor struct {
	PoolSize    int
	PoolBacklog int
	MainBacklog int
}

// Bridge tunes method dispatch.
type Bridge struct {
	SyncTimeout time.Duration
	// Unavailable-bridge warnings are throttled per bridge name.
	LogRPS   float64
	LogBurst int
}

// Link configures the framed peer connection.
type Link struct {
	MaxFrame          int
	HeartbeatInterval time.Duration
}

type fileConfig struct {
	Executor struct {
		PoolSize    int `yaml:"poolSize"`
		PoolBacklog int `yaml:"poolBacklog"`
		MainBacklog int `yaml:"mainBacklog"`
	} `yaml:"executor"`
	Bridge struct {
		SyncTimeout time.Duration `yaml:"syncTimeout"`
		LogRPS      float64       `yaml:"logRPS"`
		LogBurst    int           `yaml:"logBurst"`
	} `yaml:"bridge"`
	Link struct {
		MaxFrame          int           `yaml:"maxFrame"`
		HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	} `yaml:"link"`
}

// Default returns the built-in configuration: a pool of two workers per core
// plus one, a backlog of 128, a 500ms sync timeout.
func Default() Config {
	return Config{
		Executor: Executor{
			PoolSize:    runtime.NumCPU()*2 + 1,
			PoolBacklog: 128,
			MainBacklog: 64,
		},
		Bridge: Bridge{
			SyncTimeout: DefaultSyncTimeout,
			LogRPS:      1,
			LogBurst:    5,
		},
		Link: Link{
			MaxFrame:          3_670_016,
			HeartbeatInterval: 0,
		},
	}
}

// LoadFromPath reads a YAML file over the defaults and applies environment
// overrides. An empty path, an unreadable file or invalid YAML all fall back
// to the defaults.
func LoadFromPath(path string) Config {
	cfg := Default()
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var parsed fileConfig
			if err := yaml.Unmarshal(data, &parsed); err == nil {
				merge(&cfg, parsed)
			}
		}
	}
	ApplyEnvOverrides(&cfg)
	return cfg
}

// Parse decodes YAML text over the defaults without consulting the
// environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	var parsed fileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return cfg, err
	}
	merge(&cfg, parsed)
	return cfg, nil
}

// merge copies every non-zero field of src into dst.
func merge(dst *Config, src fileConfig) {
	if src.Executor.PoolSize > 0 {
		dst.Executor.PoolSize = src.Executor.PoolSize
	}
	if src.Executor.PoolBacklog > 0 {
		dst.Executor.PoolBacklog = src.Executor.PoolBacklog
	}
	if src.Executor.MainBacklog > 0 {
		dst.Executor.MainBacklog = src.Executor.MainBacklog
	}
	if src.Bridge.SyncTimeout > 0 {
		dst.Bridge.SyncTimeout = src.Bridge.SyncTimeout
	}
	if src.Bridge.LogRPS > 0 {
		dst.Bridge.LogRPS = src.Bridge.LogRPS
	}
	if src.Bridge.LogBurst > 0 {
		dst.Bridge.LogBurst = src.Bridge.LogBurst
	}
	if src.Link.MaxFrame > 0 {
		dst.Link.MaxFrame = src.Link.MaxFrame
	}
	if src.Link.HeartbeatInterval > 0 {
		dst.Link.HeartbeatInterval = src.Link.HeartbeatInterval
	}
}

// ApplyEnvOverrides overwrites fields from BRIDGE_* environment variables.
// Unparseable or non-positive values are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v, ok := positiveIntEnv(EnvPoolSize); ok {
		cfg.Executor.PoolSize = v
	}
	if v, ok := positiveIntEnv(EnvPoolBacklog); ok {
		cfg.Executor.PoolBacklog = v
	}
	if raw := strings.TrimSpace(os.Getenv(EnvSyncTimeout)); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.Bridge.SyncTimeout = d
		}
	}
	if v, ok := positiveIntEnv(EnvMaxFrame); ok {
		cfg.Link.MaxFrame = v
	}
	if raw := strings.TrimSpace(os.Getenv(EnvLogRPS)); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
			cfg.Bridge.LogRPS = f
		}
	}
	if v, ok := positiveIntEnv(EnvLogBurst); ok {
		cfg.Bridge.LogBurst = v
	}
}

func positiveIntEnv(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
