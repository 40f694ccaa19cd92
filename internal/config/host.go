package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/woxQAQ/wasm-bridge/internal/transport"
)

// EnvPrefix prefixes environment overrides, e.g. WASM_BRIDGE_UI_LISTEN.
const EnvPrefix = "WASM_BRIDGE"

type HostConfig struct {
	LogLevel       string           `mapstructure:"log_level"`
	BundleDir      string           `mapstructure:"bundle_dir"`
	MetricsEnabled bool             `mapstructure:"metrics_enabled"`
	Module         ModuleConfig     `mapstructure:"module"`
	Transport      transport.Config `mapstructure:"transport"`
	UI             UIConfig         `mapstructure:"ui"`
}

// ModuleConfig describes where the guest module comes from and how it runs.
type ModuleConfig struct {
	// Network location, tried first when set.
	URL string `mapstructure:"url"`
	// Local file, used when URL is empty or fails.
	Path string `mapstructure:"path"`
	// Retries for transient fetch failures.
	FetchRetries int `mapstructure:"fetch_retries"`
	// Memory limit (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Enable debug logging.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory. Empty disables the on-disk cache.
	CacheDir string `mapstructure:"cache_dir"`
	// Per-call deadline. Zero disables it. A call that hits it closes the
	// module for good.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type UIConfig struct {
	Listen string `mapstructure:"listen"`
	RootID string `mapstructure:"root_id"`
	Title  string `mapstructure:"title"`

	AllowOrigins    []string `mapstructure:"allow_origins"`
	EventsPerSecond int      `mapstructure:"events_per_second"`
	EventBurst      int      `mapstructure:"event_burst"`
}

// LoadHostConfig reads configPath (any format viper understands) over the
// defaults. Environment variables prefixed with EnvPrefix win over both.
func LoadHostConfig(configPath string) (*HostConfig, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("bundle_dir", "")
	v.SetDefault("metrics_enabled", true)

	// Module defaults
	v.SetDefault("module.url", "")
	v.SetDefault("module.path", "./app.wasm")
	v.SetDefault("module.fetch_retries", 3)
	v.SetDefault("module.memory_pages", 256) // 16MB
	v.SetDefault("module.debug", false)
	v.SetDefault("module.cache_dir", "")
	v.SetDefault("module.call_timeout", "0s")

	// Transport defaults
	td := transport.DefaultConfig()
	v.SetDefault("transport.endpoint", td.Endpoint)
	v.SetDefault("transport.reconnect_interval", td.ReconnectInterval)
	v.SetDefault("transport.max_reconnect_attempts", td.MaxReconnectAttempts)
	v.SetDefault("transport.buffer_size", td.BufferSize)
	v.SetDefault("transport.backoff_factor", td.BackoffFactor)
	v.SetDefault("transport.max_reconnect_interval", td.MaxReconnectInterval)
	v.SetDefault("transport.handshake_timeout", td.HandshakeTimeout)
	v.SetDefault("transport.write_timeout", td.WriteTimeout)

	// UI defaults
	v.SetDefault("ui.listen", "127.0.0.1:3000")
	v.SetDefault("ui.root_id", "root")
	v.SetDefault("ui.title", "wasm-bridge")
	v.SetDefault("ui.allow_origins", []string{})
	v.SetDefault("ui.events_per_second", 50)
	v.SetDefault("ui.event_burst", 100)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg HostConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports every setting that cannot work.
func (c *HostConfig) Validate() error {
	var errs []error

	if c.Module.URL == "" && c.Module.Path == "" && c.BundleDir == "" {
		errs = append(errs, errors.New("module: one of url, path or bundle_dir is required"))
	}
	if c.Module.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("module.call_timeout must not be negative, got %s", c.Module.CallTimeout))
	}
	if c.Transport.Endpoint == "" {
		errs = append(errs, errors.New("transport.endpoint is required"))
	}
	if c.Transport.ReconnectInterval <= 0 {
		errs = append(errs, fmt.Errorf("transport.reconnect_interval must be positive, got %s", c.Transport.ReconnectInterval))
	}
	if c.Transport.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("transport.max_reconnect_attempts must not be negative, got %d", c.Transport.MaxReconnectAttempts))
	}
	if c.Transport.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("transport.buffer_size must be positive, got %d", c.Transport.BufferSize))
	}
	if c.Transport.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("transport.backoff_factor must be at least 1, got %g", c.Transport.BackoffFactor))
	}
	if c.UI.Listen == "" {
		errs = append(errs, errors.New("ui.listen is required"))
	}
	if c.UI.EventsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("ui.events_per_second must not be negative, got %d", c.UI.EventsPerSecond))
	}

	return errors.Join(errs...)
}
