// Package config loads the agent's configuration: ambient settings
// (logging, metrics, the restore-side HTTP API) plus a map of backup
// sites (spec.md §3's "named configuration": key prefix, data directory,
// connection info, encryption key id, compression, schedule).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pgbasebackup/agent/internal/bytesize"
)

// Config is the agent's top-level configuration.
//
// Sources, in order of precedence (highest to lowest):
//  1. CLI flags (applied by the caller after Load returns)
//  2. Environment variables (PGBASEBACKUP_*)
//  3. Configuration file (YAML)
//  4. Default values
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`

	// Sites maps a site name to its backup configuration. At least one
	// site is required for the agent to have anything to schedule.
	Sites map[string]SiteConfig `mapstructure:"sites" yaml:"sites"`

	// EncryptionKeys is the keyring a site's encryption_key_id selects
	// from: key id to base64-encoded 32-byte secretbox key. Kept
	// alongside the rest of the config tree (rather than requiring a
	// separate secrets file). The value of an id already listed in the
	// config file can be overridden by the
	// PGBASEBACKUP_ENCRYPTION_KEYS_<ID> environment variable; ids that
	// appear only in the environment are not picked up.
	EncryptionKeys map[string]string `mapstructure:"encryption_keys" yaml:"encryption_keys,omitempty"`
}

// LoggingConfig controls internal/logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// HTTPConfig controls the restore-side basebackup enumeration API
// (spec.md §6: GET /{site}/basebackup).
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// ObjectStoreConfig selects and configures the backend pkg/objectstore
// gateway a site writes through.
type ObjectStoreConfig struct {
	// Type selects the backend: "s3" or "fs".
	Type string `mapstructure:"type" validate:"required,oneof=s3 fs" yaml:"type"`

	S3 S3Config `mapstructure:"s3" yaml:"s3,omitempty"`
	FS FSConfig `mapstructure:"fs" yaml:"fs,omitempty"`
}

// S3Config configures pkg/objectstore/s3.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
	KeyPrefix       string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`
}

// FSConfig configures pkg/objectstore/fs.
type FSConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// CompressionConfig mirrors chunkwriter.CompressionConfig for config
// loading; the agent converts it at wiring time.
type CompressionConfig struct {
	Algorithm string `mapstructure:"algorithm" validate:"omitempty,oneof=none gzip zstd" yaml:"algorithm"`
	Level     int    `mapstructure:"level" yaml:"level,omitempty"`
}

// EncryptionConfig selects an encryption key by id out of the keyring in
// Config.EncryptionKeys.
type EncryptionConfig struct {
	KeyID string `mapstructure:"key_id" yaml:"key_id,omitempty"`
}

// SiteConfig is one backup site (spec.md §3, configuration table in §6).
type SiteConfig struct {
	// Prefix is the object-store key prefix this site's backups live
	// under. Defaults to the site name if empty.
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`

	// PGData is the PostgreSQL data directory to back up.
	PGData string `mapstructure:"pgdata" validate:"required" yaml:"pgdata"`

	// ConnString is used for liveness probing and basic/pipe streaming.
	ConnString string `mapstructure:"connection_string" yaml:"connection_string,omitempty"`

	// BasebackupMode selects the executor mode: basic, pipe, local_tar,
	// local_tar_delta_stats, or delta.
	BasebackupMode string `mapstructure:"basebackup_mode" validate:"required,oneof=basic pipe local_tar local_tar_delta_stats delta" yaml:"basebackup_mode"`

	// ActiveBackupMode is archive_command or standalone_hot_backup.
	ActiveBackupMode string `mapstructure:"active_backup_mode" validate:"required,oneof=archive_command standalone_hot_backup" yaml:"active_backup_mode"`

	// BasebackupIntervalHours is the minimum gap between scheduled
	// backups; BasebackupHour/BasebackupMinute anchor the normalized
	// schedule window. Set BasebackupHour to -1 to run without a
	// normalized window (normalized-backup-time stays null); the scheduler
	// still starts a first backup for a site that has none. The zero value
	// anchors the schedule at midnight, matching scheduler.ScheduleConfig.
	BasebackupIntervalHours float64 `mapstructure:"basebackup_interval_hours" validate:"gt=0" yaml:"basebackup_interval_hours"`
	BasebackupHour          int     `mapstructure:"basebackup_hour" yaml:"basebackup_hour"`
	BasebackupMinute        int     `mapstructure:"basebackup_minute" yaml:"basebackup_minute"`

	// DeltaModeChunkSize is the target chunk byte size in delta mode.
	DeltaModeChunkSize bytesize.ByteSize `mapstructure:"basebackup_delta_mode_chunk_size" yaml:"basebackup_delta_mode_chunk_size,omitempty"`

	// DeltaModeMinFileSize: below this size a file is inlined rather
	// than delta-uploaded.
	DeltaModeMinFileSize bytesize.ByteSize `mapstructure:"basebackup_delta_mode_min_delta_file_size" yaml:"basebackup_delta_mode_min_delta_file_size,omitempty"`

	// DeltaModeMaxRetries is the failure budget before the scheduler
	// cools delta-mode backups down for this site.
	DeltaModeMaxRetries int `mapstructure:"basebackup_delta_mode_max_retries" yaml:"basebackup_delta_mode_max_retries,omitempty"`

	// TargetChunkSize is the chunk byte size for non-delta modes.
	TargetChunkSize bytesize.ByteSize `mapstructure:"target_chunk_size" yaml:"target_chunk_size,omitempty"`

	// MaxParallel bounds concurrent chunk-writer workers for this site's
	// backup attempts.
	MaxParallel int `mapstructure:"max_parallel" validate:"omitempty,min=1" yaml:"max_parallel,omitempty"`

	Compression CompressionConfig `mapstructure:"compression" yaml:"compression,omitempty"`
	Encryption  EncryptionConfig  `mapstructure:"encryption" yaml:"encryption,omitempty"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" validate:"required" yaml:"object_store"`
}

// Load reads configuration from configPath (or the default location if
// empty), overlays environment variables, applies defaults for anything
// left unset, and validates the result. When no config file is found it
// returns DefaultConfig with defaults applied, without validating it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := DefaultConfig()
		ApplyDefaults(cfg)
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration, turning a missing file into an
// instruction to run the init subcommand rather than a bare stat error.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"create one first:\n  pgbasebackup-agent init\n\n"+
				"or point at an existing file:\n  pgbasebackup-agent --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, restricting permissions since
// site configs may carry object-store credentials.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("PGBASEBACKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pgbasebackup")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "pgbasebackup")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir exposes the configuration directory for the init command.
func GetConfigDir() string {
	return getConfigDir()
}
