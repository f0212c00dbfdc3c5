package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultAddr              = "0.0.0.0:5000"
	DefaultStateDirName      = ".lanmedia"
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultUploadSessionTTL  = 24 * time.Hour
	DefaultLogBufferSize     = 100
	DefaultThumbSize         = 256
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", "")
	v.SetDefault("state_dir", "")
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.buffer_size", DefaultLogBufferSize)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("server.read_header_timeout", DefaultReadHeaderTimeout)
	v.SetDefault("server.max_connections", 0)
	v.SetDefault("server.max_upload_bytes", 0)
	v.SetDefault("server.upload_session_ttl", DefaultUploadSessionTTL)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("thumbnails.enabled", true)
	v.SetDefault("thumbnails.max_size", DefaultThumbSize)
}

// ApplyDefaults fills zero values and normalizes the rest. Explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.Root != "" {
		if abs, err := filepath.Abs(cfg.Root); err == nil {
			cfg.Root = abs
		}
	}
	if cfg.StateDir == "" && cfg.Root != "" {
		cfg.StateDir = filepath.Join(cfg.Root, DefaultStateDirName)
	} else if cfg.StateDir != "" {
		if abs, err := filepath.Abs(cfg.StateDir); err == nil {
			cfg.StateDir = abs
		}
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	cfg.Logging.Level = strings.ToUpper(strings.TrimSpace(cfg.Logging.Level))
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.BufferSize == 0 {
		cfg.Logging.BufferSize = DefaultLogBufferSize
	}

	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}

	if cfg.Thumbnails.MaxSize == 0 {
		cfg.Thumbnails.MaxSize = DefaultThumbSize
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
