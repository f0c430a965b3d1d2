package falcon_pi_player

import (
	"fmt"
	"strings"

	"github.com/joshp123/gohome-fpp/internal/config"
)

// Device is a device imported from the config file.
type Device struct {
	URL       string
	Username  string
	Password  string
	VerifySSL bool
}

// Config defines runtime configuration for the FPP plugin.
type Config struct {
	AutoConfirm bool
	Devices     []Device
}

func ConfigFromFile(cfg *config.Config) (Config, error) {
	if cfg == nil || cfg.FalconPiPlayer == nil {
		return Config{}, fmt.Errorf("falcon_pi_player config is required")
	}

	var out Config
	if cfg.Discovery != nil {
		out.AutoConfirm = cfg.Discovery.AutoConfirm
	}

	for i, dev := range cfg.FalconPiPlayer.Devices {
		password, err := dev.ResolvePassword()
		if err != nil {
			return Config{}, fmt.Errorf("falcon_pi_player.devices[%d] password: %w", i, err)
		}
		username := strings.TrimSpace(dev.Username)
		if username == "" && password == "" {
			username = config.DefaultDeviceUser
			password = config.DefaultDevicePassword
		}
		out.Devices = append(out.Devices, Device{
			URL:       strings.TrimSpace(dev.URL),
			Username:  username,
			Password:  password,
			VerifySSL: dev.VerifySSL,
		})
	}
	return out, nil
}
