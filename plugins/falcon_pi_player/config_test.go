package falcon_pi_player

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joshp123/gohome-fpp/internal/config"
)

func TestConfigFromFile(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "fpp-password")
	if err := os.WriteFile(secret, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	cfg := config.Default()
	cfg.Discovery.AutoConfirm = true
	cfg.FalconPiPlayer.Devices = []config.DeviceConfig{
		{URL: " http://fpp.local "},
		{URL: "http://10.0.0.5", Username: "show", PasswordFile: secret, VerifySSL: true},
	}

	got, err := ConfigFromFile(cfg)
	if err != nil {
		t.Fatalf("ConfigFromFile: %v", err)
	}
	if !got.AutoConfirm || len(got.Devices) != 2 {
		t.Fatalf("unexpected config: %+v", got)
	}
	first := got.Devices[0]
	if first.URL != "http://fpp.local" || first.Username != config.DefaultDeviceUser || first.Password != config.DefaultDevicePassword {
		t.Fatalf("expected default credentials, got %+v", first)
	}
	second := got.Devices[1]
	if second.Username != "show" || second.Password != "s3cret" || !second.VerifySSL {
		t.Fatalf("unexpected second device: %+v", second)
	}
}

func TestConfigFromFileMissingSecret(t *testing.T) {
	cfg := config.Default()
	cfg.FalconPiPlayer.Devices = []config.DeviceConfig{{URL: "http://fpp.local", PasswordFile: filepath.Join(t.TempDir(), "missing")}}
	if _, err := ConfigFromFile(cfg); err == nil {
		t.Fatalf("expected error for unreadable password file")
	}
}

func TestFactorySkipsUnconfiguredPlugin(t *testing.T) {
	cfg := config.Default()
	cfg.FalconPiPlayer = nil
	if _, ok := Factory(cfg, hostForTest(t)); ok {
		t.Fatalf("plugin should be disabled without a falcon_pi_player table")
	}
}
