package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete lanmedia configuration.
//
// Sources, highest precedence first:
//  1. CLI flags (applied by the caller through Load's overrides)
//  2. Environment variables (LANMEDIA_*, e.g. LANMEDIA_SERVER_MAX_CONNECTIONS)
//  3. Configuration file (YAML)
//  4. Defaults
type Config struct {
	// Root is the directory served. It is created if absent and fixed for the
	// lifetime of the process.
	Root string `mapstructure:"root" yaml:"root" validate:"required"`

	// StateDir stores upload staging files and thumbnails.
	// Default: <root>/.lanmedia
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`

	// Addr is the listen address.
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required"`

	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	CORS       CORSConfig       `mapstructure:"cors" yaml:"cors"`
	Thumbnails ThumbnailsConfig `mapstructure:"thumbnails" yaml:"thumbnails"`
}

type LoggingConfig struct {
	// Level is the minimum level written (DEBUG, INFO, WARN, ERROR).
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`

	// BufferSize is how many recent lines /api/logs retains.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" validate:"gte=1,lte=100000"`
}

type ServerConfig struct {
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gt=0"`

	// MaxConnections bounds concurrently accepted connections; 0 is unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"gte=0"`

	// MaxUploadBytes bounds a single upload; 0 is unlimited.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gte=0"`

	// UploadSessionTTL is how long an unfinished resumable upload survives a
	// restart; 0 keeps sessions forever.
	UploadSessionTTL time.Duration `mapstructure:"upload_session_ttl" yaml:"upload_session_ttl" validate:"gte=0"`
}

type CORSConfig struct {
	// AllowedOrigins lists origins allowed cross-origin access; "*" allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" validate:"dive,required"`
}

type ThumbnailsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	MaxSize int  `mapstructure:"max_size" yaml:"max_size" validate:"gte=16,lte=2048"`
}

// Load reads configuration from configPath (optional), the environment and
// defaults, applies overrides in order, then fills derived defaults and
// validates the result.
func Load(configPath string, overrides ...func(*Config)) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for _, o := range overrides {
		o(&cfg)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Every key needs a default for AutomaticEnv to pick it up in Unmarshal.
	setDefaults(v)

	v.SetEnvPrefix("LANMEDIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the file if one was given. A missing file is not an
// error: the environment and defaults still apply.
func readConfigFile(v *viper.Viper, configPath string) error {
	if configPath == "" {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || isNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
