package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	SchemaVersion       = 1
	DefaultPath         = "/etc/gohome/config.toml"
	DefaultGRPCAddr     = "0.0.0.0:9000"
	DefaultHTTPAddr     = "0.0.0.0:8080"
	DefaultDashboardDir = "/var/lib/gohome/dashboards"
	DefaultDatabasePath = "/var/lib/gohome/entries.db"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultBlobPrefix   = "gohome/entries"
	DefaultMQTTClientID = "gohome"
	DefaultTopicPrefix  = "gohome"
	DefaultService      = "_fppd._udp.local."
	DefaultBrowseSecs   = 60
	DefaultRetrySecs    = 30

	DefaultDeviceURL      = "http://fpp.local"
	DefaultDeviceUser     = "admin"
	DefaultDevicePassword = "falcon"
)

// Config is the on-disk hub configuration.
type Config struct {
	SchemaVersion  int                   `toml:"schema_version"`
	Core           *CoreConfig           `toml:"core"`
	Blob           *BlobConfig           `toml:"blob"`
	MQTT           *MQTTConfig           `toml:"mqtt"`
	Discovery      *DiscoveryConfig      `toml:"discovery"`
	FalconPiPlayer *FalconPiPlayerConfig `toml:"falcon_pi_player"`
}

type CoreConfig struct {
	GRPCAddr     string `toml:"grpc_addr"`
	HTTPAddr     string `toml:"http_addr"`
	DashboardDir string `toml:"dashboard_dir"`
	DatabasePath string `toml:"database_path"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
}

// BlobConfig points at S3-compatible storage mirroring config entries.
type BlobConfig struct {
	Endpoint      string `toml:"endpoint"`
	Bucket        string `toml:"bucket"`
	Prefix        string `toml:"prefix"`
	Region        string `toml:"region"`
	AccessKeyFile string `toml:"access_key_file"`
	SecretKeyFile string `toml:"secret_key_file"`
}

type MQTTConfig struct {
	Broker       string `toml:"broker"`
	Username     string `toml:"username"`
	PasswordFile string `toml:"password_file"`
	ClientID     string `toml:"client_id"`
	TopicPrefix  string `toml:"topic_prefix"`
}

type DiscoveryConfig struct {
	Enabled               *bool  `toml:"enabled"`
	Service               string `toml:"service"`
	BrowseIntervalSeconds int    `toml:"browse_interval_seconds"`
	AutoConfirm           bool   `toml:"auto_confirm"`
}

// On reports whether discovery runs. It defaults to true.
func (d *DiscoveryConfig) On() bool {
	return d != nil && (d.Enabled == nil || *d.Enabled)
}

type FalconPiPlayerConfig struct {
	SetupRetrySeconds int            `toml:"setup_retry_seconds"`
	Devices           []DeviceConfig `toml:"devices"`
}

// DeviceConfig declares a device imported as a config entry at startup.
type DeviceConfig struct {
	URL          string `toml:"url"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	PasswordFile string `toml:"password_file"`
	VerifySSL    bool   `toml:"verify_ssl"`
}

// ResolvePassword returns the inline password or the password file contents.
func (d DeviceConfig) ResolvePassword() (string, error) {
	if d.PasswordFile == "" {
		return d.Password, nil
	}
	return ReadSecretFile(d.PasswordFile)
}

// Load parses the TOML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns Default when path does not exist.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return Default(), false, nil
	}
	return nil, false, err
}

// Default is the config used when no file exists: the FPP plugin with
// discovery on and no imported devices.
func Default() *Config {
	cfg := &Config{
		SchemaVersion:  SchemaVersion,
		Discovery:      &DiscoveryConfig{},
		FalconPiPlayer: &FalconPiPlayerConfig{},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}
	if cfg.Core.DatabasePath == "" {
		cfg.Core.DatabasePath = DefaultDatabasePath
	}
	cfg.Core.DatabasePath = expandPath(cfg.Core.DatabasePath)
	if cfg.Core.LogLevel == "" {
		cfg.Core.LogLevel = DefaultLogLevel
	}
	if cfg.Core.LogFormat == "" {
		cfg.Core.LogFormat = DefaultLogFormat
	}

	if cfg.Blob != nil && cfg.Blob.Prefix == "" {
		cfg.Blob.Prefix = DefaultBlobPrefix
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = DefaultMQTTClientID
		}
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = DefaultTopicPrefix
		}
	}

	if cfg.Discovery != nil {
		if cfg.Discovery.Service == "" {
			cfg.Discovery.Service = DefaultService
		}
		if cfg.Discovery.BrowseIntervalSeconds == 0 {
			cfg.Discovery.BrowseIntervalSeconds = DefaultBrowseSecs
		}
	}

	if cfg.FalconPiPlayer != nil {
		if cfg.FalconPiPlayer.SetupRetrySeconds == 0 {
			cfg.FalconPiPlayer.SetupRetrySeconds = DefaultRetrySecs
		}
		for i := range cfg.FalconPiPlayer.Devices {
			dev := &cfg.FalconPiPlayer.Devices[i]
			if strings.TrimSpace(dev.URL) == "" {
				dev.URL = DefaultDeviceURL
			}
		}
	}
}

// Validate enforces required invariants beyond TOML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core == nil {
		return fmt.Errorf("core config is required")
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}
	switch cfg.Core.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("core.log_format must be text or json")
	}

	if cfg.Blob != nil {
		if cfg.Blob.Endpoint == "" {
			return fmt.Errorf("blob.endpoint is required")
		}
		if cfg.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required")
		}
		if cfg.Blob.AccessKeyFile == "" {
			return fmt.Errorf("blob.access_key_file is required")
		}
		if cfg.Blob.SecretKeyFile == "" {
			return fmt.Errorf("blob.secret_key_file is required")
		}
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	if cfg.Discovery != nil && cfg.Discovery.BrowseIntervalSeconds < 0 {
		return fmt.Errorf("discovery.browse_interval_seconds must be positive")
	}

	if cfg.FalconPiPlayer != nil {
		if cfg.FalconPiPlayer.SetupRetrySeconds < 0 {
			return fmt.Errorf("falcon_pi_player.setup_retry_seconds must be positive")
		}
		for i, dev := range cfg.FalconPiPlayer.Devices {
			if dev.Password != "" && dev.PasswordFile != "" {
				return fmt.Errorf("falcon_pi_player.devices[%d]: set password or password_file, not both", i)
			}
		}
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.FalconPiPlayer != nil {
		enabled["falcon_pi_player"] = true
	}
	return enabled
}

// ReadSecretFile reads a secret and trims surrounding whitespace.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
