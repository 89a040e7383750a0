package utils

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	// Network
	ListenAddr string `yaml:"listen_addr"`
	TLSCert    string `yaml:"tls_cert"`
	TLSKey     string `yaml:"tls_key"`
	// AllowedOrigins are origin hosts accepted on the websocket handshake
	// when TLS is enabled. Loopback peers bypass the check.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Persistence
	SnapshotPath string `yaml:"snapshot_path"`
	// BackupDir receives timestamped gzip snapshot backups. Defaults to the
	// snapshot's directory.
	BackupDir  string `yaml:"backup_dir"`
	MaxBackups int    `yaml:"max_backups"`
	// AutosaveSpec is a cron expression for periodic backup snapshots.
	// Empty disables autosave.
	AutosaveSpec string `yaml:"autosave_spec"`

	// Intervals, in frames. Zero means the package default.
	HashSyncInterval    int64 `yaml:"hash_sync_interval"`
	FrameNoticeInterval int64 `yaml:"frame_notice_interval"`

	// SelfServeRate limits self-serve account creations per minute.
	SelfServeRate int `yaml:"self_serve_rate"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:          ":3001",
		SnapshotPath:        "lockstep.json",
		MaxBackups:          10,
		AutosaveSpec:        "",
		HashSyncInterval:    HashSyncInterval,
		FrameNoticeInterval: FrameNoticeInterval,
		SelfServeRate:       6,
	}
}

// LoadConfig reads a yaml config file and overlays it on the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.HashSyncInterval <= 0 {
		cfg.HashSyncInterval = HashSyncInterval
	}
	if cfg.FrameNoticeInterval <= 0 {
		cfg.FrameNoticeInterval = FrameNoticeInterval
	}
	return cfg, nil
}
