package entity

import (
	"strings"
	"time"
)

// Media player states.
const (
	StateOff     = "off"
	StateOn      = "on"
	StateIdle    = "idle"
	StatePlaying = "playing"
	StatePaused  = "paused"
	StateUnknown = "unknown"
)

// DeviceInfo groups entities under one physical device.
type DeviceInfo struct {
	Identifiers      [][2]string `json:"identifiers"`
	Name             string      `json:"name"`
	Manufacturer     string      `json:"manufacturer"`
	Model            string      `json:"model"`
	ConfigurationURL string      `json:"configuration_url,omitempty"`
}

// State is the published view of one entity.
type State struct {
	EntityID   string         `json:"entity_id"`
	UniqueID   string         `json:"unique_id"`
	EntryID    string         `json:"entry_id"`
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Device     *DeviceInfo    `json:"device,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Domain is the entity_id prefix, e.g. "light".
func (s State) Domain() string {
	domain, _, _ := strings.Cut(s.EntityID, ".")
	return domain
}

// Slug lowercases name and joins words with underscores for use in
// entity ids and topics.
func Slug(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return "unnamed"
	}
	return out
}
