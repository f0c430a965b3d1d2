package fppclient

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Status is the raw /api/system/status document. Fields are read
// defensively since firmware versions disagree on types.
type Status map[string]any

// FPPD is the daemon state, "running" when the player is up.
func (s Status) FPPD() string {
	return s.String("fppd")
}

func (s Status) StatusName() string {
	return s.String("status_name")
}

func (s Status) CurrentSequence() string {
	return s.String("current_sequence")
}

func (s Status) CurrentSong() string {
	return s.String("current_song")
}

// Playlist is current_playlist.playlist.
func (s Status) Playlist() string {
	nested, ok := s["current_playlist"].(map[string]any)
	if !ok {
		return ""
	}
	return Status(nested).String("playlist")
}

// Volume is the device volume in percent.
func (s Status) Volume() float64 {
	return s.Number("volume")
}

func (s Status) SecondsPlayed() float64 {
	return s.Number("seconds_played")
}

func (s Status) SecondsRemaining() float64 {
	return s.Number("seconds_remaining")
}

func (s Status) HostName() string {
	return s.String("host_name")
}

// InterfaceAddresses lists interfaces[].address in device order.
func (s Status) InterfaceAddresses() []string {
	raw, ok := s["interfaces"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		iface, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if addr := Status(iface).String("address"); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// String returns key as a string, "" when absent.
func (s Status) String(key string) string {
	switch v := s[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Number returns key as a float, accepting numeric strings. Missing or
// malformed values read as 0.
func (s Status) Number(key string) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
