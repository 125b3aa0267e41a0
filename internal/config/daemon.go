package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	CurrentSchemaVersion = 1
	DefaultDaemonConfig  = "~/.sparc/sparcd.toml"
	DefaultBind          = "127.0.0.1:32790"
)

// DaemonConfig is the root configuration structure for sparcd
type DaemonConfig struct {
	Meta     MetaConfig     `toml:"meta"`
	Server   ServerConfig   `toml:"server"`
	Client   ClientConfig   `toml:"client"`
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
}

// MetaConfig contains schema versioning info
type MetaConfig struct {
	SchemaVersion int `toml:"schema_version"`
}

// ServerConfig contains HTTP gateway settings
type ServerConfig struct {
	Bind                  string   `toml:"bind"`
	AuthToken             string   `toml:"auth_token"`
	CORSOrigins           []string `toml:"cors_origins"`
	ShutdownTimeout       Duration `toml:"shutdown_timeout"`
	MaxConcurrentRequests int      `toml:"max_concurrent_requests"`
	QueueTimeout          Duration `toml:"queue_timeout"`
}

// ClientConfig controls how the gateway builds its SPARC client
type ClientConfig struct {
	ConfigFile         string `toml:"config_file"`
	Connect            bool   `toml:"connect"`
	ConnectConcurrency int    `toml:"connect_concurrency"`
}

// DatabaseConfig points at the sqlite job ledger
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LogConfig selects level, format and optional rotated log file
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	JSON       bool   `toml:"json"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadDaemon loads the daemon configuration from path, applying defaults.
// A missing file yields the defaults.
func LoadDaemon(path string) (*DaemonConfig, error) {
	path = ExpandPath(path)

	cfg := &DaemonConfig{}
	cfg.ApplyDefaults()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Meta.SchemaVersion < CurrentSchemaVersion {
		cfg.Meta.SchemaVersion = CurrentSchemaVersion
	}

	return cfg, nil
}

// ApplyDefaults sets default values for all config fields
func (c *DaemonConfig) ApplyDefaults() {
	c.Meta.SchemaVersion = CurrentSchemaVersion

	c.Server.Bind = DefaultBind
	c.Server.CORSOrigins = []string{"http://localhost:5173"}
	c.Server.ShutdownTimeout = Duration{10 * time.Second}
	c.Server.MaxConcurrentRequests = 8
	c.Server.QueueTimeout = Duration{30 * time.Second}

	c.Client.ConfigFile = DefaultConfigFile
	c.Client.Connect = true
	c.Client.ConnectConcurrency = 1

	c.Database.Path = "~/.sparc/sparcd.db"

	c.Log.Level = "info"
	c.Log.MaxSizeMB = 50
	c.Log.MaxBackups = 3
	c.Log.MaxAgeDays = 28
}

// Save writes the configuration to the given path
func (c *DaemonConfig) Save(path string) error {
	path = ExpandPath(path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// WriteDefaultDaemon writes a default daemon config if one doesn't exist
func WriteDefaultDaemon(path string) error {
	path = ExpandPath(path)

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	cfg := &DaemonConfig{}
	cfg.ApplyDefaults()
	cfg.Server.AuthToken = GenerateToken()

	return cfg.Save(path)
}

// GenerateToken generates a random bearer token for the gateway
func GenerateToken() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("sparc_%d", time.Now().UnixNano())
	}
	return "sparc_" + hex.EncodeToString(bytes)
}
