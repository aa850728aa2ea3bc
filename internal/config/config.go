// Package config loads backupd's on-disk configuration: where the chunk
// and manifest stores live, default chunking/concurrency parameters, and
// restore defaults.
package config

import (
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v2"

	"github.com/vaultkeep/backupd/internal/errs"
)

// Config holds backupd's runtime configuration.
type Config struct {
	// StoreRoot is the directory under which chunks/ and manifests/ live.
	StoreRoot string `yaml:"store_root"`

	// ChunkSize is the default fixed chunk size for new backups, in bytes.
	ChunkSize int64 `yaml:"chunk_size"`

	// Workers bounds the backup engine's concurrent file workers. Restore
	// runs its actions one at a time and does not read this field.
	Workers int `yaml:"workers"`

	// PreservePermissions restores POSIX mode bits on restore by default.
	PreservePermissions bool `yaml:"preserve_permissions"`

	// VerifyIntegrity enables rolling-digest/Merkle verification during
	// restore by default.
	VerifyIntegrity bool `yaml:"verify_integrity"`

	// StaleTempAgeHours is how old a .tmp-* chunk or manifest file must be
	// before recovery's sweep considers it abandoned, in hours.
	StaleTempAgeHours int `yaml:"stale_temp_age_hours"`

	// SchedulesDir is where Schedule records are persisted; defaults to
	// <StoreRoot>/schedules if empty.
	SchedulesDir string `yaml:"schedules_dir"`

	// SigningKeyPath, if set, points at a base64-encoded Ed25519 private
	// key file used to sign `recover validate` reports. Left empty by
	// default: most installations have no need for a keypair.
	SigningKeyPath string `yaml:"signing_key_path"`
}

// DefaultConfig returns backupd's built-in defaults, used when no config
// file is present or a field is left unset.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		StoreRoot:           filepath.Join(home, ".local", "share", "backupd"),
		ChunkSize:           2 << 20, // 2 MiB, per spec §3
		Workers:             4,
		PreservePermissions: true,
		VerifyIntegrity:     true,
		StaleTempAgeHours:   24,
	}
}

// LoadConfig reads and parses a YAML config file at configPath, filling in
// DefaultConfig for any field the file leaves unset. A missing file is not
// an error — it yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return finalize(cfg), nil
	}

	b, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return finalize(cfg), nil
		}
		return nil, errs.Wrap(errs.KindConfig, "config.LoadConfig", "read config file", err).WithKey(configPath)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errs.Wrap(errs.KindConfig, "config.LoadConfig", "parse config YAML", err).WithKey(configPath)
	}
	if cfg.ChunkSize <= 0 {
		return nil, errs.New(errs.KindConfig, "config.LoadConfig", "chunk_size must be positive").WithKey(configPath)
	}
	if cfg.StoreRoot == "" {
		return nil, errs.New(errs.KindConfig, "config.LoadConfig", "store_root must not be empty").WithKey(configPath)
	}
	return finalize(cfg), nil
}

func finalize(cfg *Config) *Config {
	if cfg.SchedulesDir == "" {
		cfg.SchedulesDir = filepath.Join(cfg.StoreRoot, "schedules")
	}
	if cfg.StaleTempAgeHours <= 0 {
		cfg.StaleTempAgeHours = 24
	}
	return cfg
}
