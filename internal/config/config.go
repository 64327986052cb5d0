// Package config loads kernel configuration from mycelia.yaml (or an
// explicit path) with MYCELIA_-prefixed environment overrides.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the loadable kernel configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Router   RouterConfig   `mapstructure:"router"`
	Response ResponseConfig `mapstructure:"response"`
	Trace    TraceConfig    `mapstructure:"trace"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Path       string `mapstructure:"path"`
	BufferSize int    `mapstructure:"buffer_size"`
	Debug      bool   `mapstructure:"debug"`
}

// RouterConfig configures per-subsystem routers.
type RouterConfig struct {
	CacheCapacity int `mapstructure:"cache_capacity"`
}

// ResponseConfig configures the kernel response manager.
type ResponseConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	DedupWindow   time.Duration `mapstructure:"dedup_window"`
}

// TraceConfig configures otel tracing.
type TraceConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DefaultConfig returns the defaults used when no file is present.
func DefaultConfig() Config {
	return Config{
		Log:      LogConfig{Path: "mycelia.log", BufferSize: 256},
		Router:   RouterConfig{CacheCapacity: 256},
		Response: ResponseConfig{SweepInterval: 50 * time.Millisecond, DedupWindow: 30 * time.Second},
	}
}

// Load reads configuration from path. An empty path searches the
// working directory for mycelia.yaml. A missing file yields defaults;
// a malformed file is an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MYCELIA")
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("log.path", defaults.Log.Path)
	v.SetDefault("log.buffer_size", defaults.Log.BufferSize)
	v.SetDefault("log.debug", defaults.Log.Debug)
	v.SetDefault("router.cache_capacity", defaults.Router.CacheCapacity)
	v.SetDefault("response.sweep_interval", defaults.Response.SweepInterval)
	v.SetDefault("response.dedup_window", defaults.Response.DedupWindow)
	v.SetDefault("trace.enabled", defaults.Trace.Enabled)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mycelia")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			// No file is fine; defaults apply.
		} else {
			return Config{}, fmt.Errorf("reading config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads from the working directory.
func LoadDefault() (Config, error) {
	return Load("")
}
