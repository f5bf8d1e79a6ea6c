// Package config provides YAML-based configuration loading for whisper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the node
	AppName string `mapstructure:"app_name"`

	// StoragePath base directory for persistent chat state and identity
	StoragePath string `mapstructure:"storage_path"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Swarm holds peer discovery and transport options
	Swarm SwarmConfig `mapstructure:"swarm"`

	// RPC holds the host-boundary listener options
	RPC RPCConfig `mapstructure:"rpc"`

	// Metrics holds the Prometheus endpoint options
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SwarmConfig holds discovery and transport settings.
type SwarmConfig struct {
	// Listen is the QUIC address to accept peer sessions on
	Listen string `mapstructure:"listen"`
	// Announce is the externally reachable address written to the directory;
	// empty means the listener address
	Announce string `mapstructure:"announce"`
	// Bootstrap lists rendezvous server addresses
	Bootstrap []string `mapstructure:"bootstrap"`
	// AnnounceIntervalS is the topic refresh period in seconds
	AnnounceIntervalS int `mapstructure:"announce_interval_s"`
	// AnnounceTTLS is the directory registration lifetime in seconds
	AnnounceTTLS int `mapstructure:"announce_ttl_s"`
	// DialTimeoutS bounds one dial to a discovered peer, in seconds
	DialTimeoutS int `mapstructure:"dial_timeout_s"`
}

// RPCConfig holds the host-boundary listener settings.
type RPCConfig struct {
	// Listen is the TCP address the command socket binds to
	Listen string `mapstructure:"listen"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Listen string `mapstructure:"listen"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName:     "whisper-node",
		StoragePath: "./data",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/whisper.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Swarm: SwarmConfig{
			Listen:            ":7341",
			Bootstrap:         []string{},
			AnnounceIntervalS: 30,
			AnnounceTTLS:      90,
			DialTimeoutS:      10,
		},
		RPC:     RPCConfig{Listen: "127.0.0.1:7342"},
		Metrics: MetricsConfig{Enable: false, Listen: "127.0.0.1:7343"},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix WHISPER and `.`/`-` are replaced with `_`.
// Example: WHISPER_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("WHISPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("storage_path", cfg.StoragePath)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("swarm.listen", cfg.Swarm.Listen)
	v.SetDefault("swarm.announce", cfg.Swarm.Announce)
	v.SetDefault("swarm.bootstrap", cfg.Swarm.Bootstrap)
	v.SetDefault("swarm.announce_interval_s", cfg.Swarm.AnnounceIntervalS)
	v.SetDefault("swarm.announce_ttl_s", cfg.Swarm.AnnounceTTLS)
	v.SetDefault("swarm.dial_timeout_s", cfg.Swarm.DialTimeoutS)
	v.SetDefault("rpc.listen", cfg.RPC.Listen)
	v.SetDefault("metrics.enable", cfg.Metrics.Enable)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("WHISPER_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `whisper`
		v.SetConfigName("whisper")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".whisper"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.StoragePath) == "" {
		return errors.New("storage_path must not be empty")
	}
	if c.Swarm.AnnounceIntervalS <= 0 {
		c.Swarm.AnnounceIntervalS = 30
	}
	if c.Swarm.AnnounceTTLS <= 0 {
		c.Swarm.AnnounceTTLS = 90
	}
	if c.Swarm.DialTimeoutS <= 0 {
		c.Swarm.DialTimeoutS = 10
	}
	return nil
}
