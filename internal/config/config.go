package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/img2kvm/img2kvm/pkg/decompress"
	"github.com/img2kvm/img2kvm/pkg/hypervisor"
)

// Config holds all application configuration
type Config struct {
	// Working directory for decompressed images and the converted disk
	WorkDir string `mapstructure:"work-dir"`

	// Proxmox VE tooling
	Storage     string `mapstructure:"storage"`
	QemuImgPath string `mapstructure:"qemu-img-path"`
	QmPath      string `mapstructure:"qm-path"`

	// Decompression limits
	LzmaMemLimitKiB     int64   `mapstructure:"lzma-mem-limit-kib"`
	MaxOutputSize       int64   `mapstructure:"max-output-size"`
	MaxCompressionRatio float64 `mapstructure:"max-compression-ratio"`

	// Database paths
	HistoryDB string `mapstructure:"history-db"`
	FSMDBPath string `mapstructure:"fsm-db-path"`

	// S3 sources
	S3Region    string `mapstructure:"s3-region"`
	S3Anonymous bool   `mapstructure:"s3-anonymous"`

	LogLevel string `mapstructure:"log-level"`
}

var (
	startDir     string
	startDirOnce sync.Once
)

// StartDir returns the process working directory, captured on first use.
func StartDir() string {
	startDirOnce.Do(func() {
		dir, err := os.Getwd()
		if err != nil {
			slog.Warn("getwd_failed", "error", err)
			dir = "."
		}
		startDir = dir
	})
	return startDir
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("work-dir", StartDir())
	viper.SetDefault("storage", hypervisor.DefaultStorage)
	viper.SetDefault("qemu-img-path", hypervisor.DefaultQemuImgPath)
	viper.SetDefault("qm-path", hypervisor.DefaultQmPath)
	viper.SetDefault("lzma-mem-limit-kib", decompress.DefaultLzmaMemLimitKiB)
	viper.SetDefault("max-output-size", 0)
	viper.SetDefault("max-compression-ratio", 0.0)
	viper.SetDefault("history-db", "")
	viper.SetDefault("fsm-db-path", "")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("s3-anonymous", false)
	viper.SetDefault("log-level", "warn")

	// Environment variables (will be IMG2KVM_WORK_DIR, etc.)
	viper.SetEnvPrefix("IMG2KVM")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.img2kvm")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.Storage == "" {
		return fmt.Errorf("storage cannot be empty")
	}
	if c.QemuImgPath == "" {
		return fmt.Errorf("qemu-img-path cannot be empty")
	}
	if c.QmPath == "" {
		return fmt.Errorf("qm-path cannot be empty")
	}
	if c.LzmaMemLimitKiB <= 0 {
		return fmt.Errorf("lzma-mem-limit-kib must be positive")
	}
	if c.MaxOutputSize < 0 {
		return fmt.Errorf("max-output-size must be non-negative")
	}
	if c.MaxCompressionRatio < 0 {
		return fmt.Errorf("max-compression-ratio must be non-negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps a level name such as "warn" to its slog level.
func ParseLogLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q", name)
	}
	return level, nil
}
