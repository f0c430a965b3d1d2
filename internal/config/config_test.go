package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
schema_version = 1

[falcon_pi_player]

[[falcon_pi_player.devices]]
username = "admin"
password = "falcon"

[discovery]
auto_confirm = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Core.GRPCAddr != DefaultGRPCAddr || cfg.Core.HTTPAddr != DefaultHTTPAddr {
		t.Fatalf("unexpected core defaults: %+v", cfg.Core)
	}
	if cfg.FalconPiPlayer.SetupRetrySeconds != DefaultRetrySecs {
		t.Fatalf("unexpected retry default: %d", cfg.FalconPiPlayer.SetupRetrySeconds)
	}
	if len(cfg.FalconPiPlayer.Devices) != 1 || cfg.FalconPiPlayer.Devices[0].URL != DefaultDeviceURL {
		t.Fatalf("unexpected devices: %+v", cfg.FalconPiPlayer.Devices)
	}
	if !cfg.Discovery.On() || !cfg.Discovery.AutoConfirm || cfg.Discovery.Service != DefaultService {
		t.Fatalf("unexpected discovery: %+v", cfg.Discovery)
	}
	if cfg.MQTT != nil || cfg.Blob != nil {
		t.Fatalf("optional sections must stay nil")
	}
	if !EnabledPlugins(cfg)["falcon_pi_player"] {
		t.Fatalf("expected falcon_pi_player enabled")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"schema":  `schema_version = 2`,
		"blob":    "schema_version = 1\n[blob]\nendpoint = \"http://minio:9000\"\n",
		"mqtt":    "schema_version = 1\n[mqtt]\nusername = \"x\"\n",
		"logfmt":  "schema_version = 1\n[core]\nlog_format = \"xml\"\n",
		"secrets": "schema_version = 1\n[falcon_pi_player]\n[[falcon_pi_player.devices]]\npassword = \"a\"\npassword_file = \"/tmp/b\"\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, found, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if found {
		t.Fatalf("expected found=false")
	}
	if cfg.FalconPiPlayer == nil || !cfg.Discovery.On() {
		t.Fatalf("unexpected default config: %+v", cfg)
	}
}

func TestResolvePasswordFile(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "fpp")
	if err := os.WriteFile(secret, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	got, err := DeviceConfig{PasswordFile: secret}.ResolvePassword()
	if err != nil || got != "s3cret" {
		t.Fatalf("ResolvePassword = %q, %v", got, err)
	}
}
