package falcon_pi_player

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-fpp/internal/coordinator"
	"github.com/joshp123/gohome-fpp/internal/entity"
	"github.com/joshp123/gohome-fpp/plugins/falcon_pi_player/fppclient"
)

const imageProbeTimeout = 10 * time.Second

// Media player features, published as the supported_features attribute.
var mediaFeatures = []string{
	"next_track",
	"pause",
	"play",
	"previous_track",
	"select_source",
	"stop",
	"turn_off",
	"turn_on",
	"volume_set",
	"volume_step",
}

// MediaPlayer exposes playlist playback as a media player entity.
type MediaPlayer struct {
	client    *fppclient.Client
	status    *coordinator.Coordinator[fppclient.Status]
	playlists *coordinator.Coordinator[[]string]
	registry  *entity.Registry
	log       logrus.FieldLogger
	now       func() time.Time

	entryID  string
	name     string
	entityID string
	uniqueID string
	device   *entity.DeviceInfo

	mu         sync.Mutex
	imageTitle string
	imageURL   string
}

func NewMediaPlayer(client *fppclient.Client, status *coordinator.Coordinator[fppclient.Status], playlists *coordinator.Coordinator[[]string], registry *entity.Registry, entryID, title string, logger logrus.FieldLogger) *MediaPlayer {
	name := title
	if name == "" {
		name = "FPP"
	}
	return &MediaPlayer{
		client:    client,
		status:    status,
		playlists: playlists,
		registry:  registry,
		log:       logger.WithField("entity", "media_player"),
		now:       time.Now,
		entryID:   entryID,
		name:      name,
		entityID:  "media_player." + entity.Slug(name),
		uniqueID:  "media_player_" + name,
		device:    deviceInfo(client, name),
	}
}

func deviceInfo(client *fppclient.Client, name string) *entity.DeviceInfo {
	host := client.Host()
	scheme, _, _ := strings.Cut(client.BaseURL(), "://")
	return &entity.DeviceInfo{
		Identifiers:      [][2]string{{"fpp", host}},
		Name:             name,
		Manufacturer:     "Falcon Player",
		Model:            fmt.Sprintf("FPP [%s]", host),
		ConfigurationURL: scheme + "://" + host,
	}
}

func (m *MediaPlayer) EntityID() string {
	return m.entityID
}

func (m *MediaPlayer) UniqueID() string {
	return m.uniqueID
}

// mediaInput is everything the state mapping reads.
type mediaInput struct {
	Status      fppclient.Status
	LastSuccess bool
	Playlists   []string
	ImageURL    string
	Now         time.Time
}

// mapMediaState turns a status snapshot into entity state and attributes.
func mapMediaState(in mediaInput) (string, bool, map[string]any) {
	attrs := map[string]any{
		"supported_features": mediaFeatures,
	}
	if !in.LastSuccess || in.Status.FPPD() != "running" {
		return entity.StateOff, false, attrs
	}

	state := mapStatusName(in.Status.StatusName())
	attrs["volume_level"] = in.Status.Volume() / 100
	attrs["source_list"] = append([]string{}, in.Playlists...)

	if state != entity.StatePlaying {
		return state, true, attrs
	}

	played := in.Status.SecondsPlayed()
	playlist := in.Status.Playlist()
	attrs["media_content_type"] = "music"
	attrs["media_title"] = mediaTitle(in.Status)
	attrs["media_playlist"] = playlist
	attrs["source"] = playlist
	attrs["media_duration"] = played + in.Status.SecondsRemaining()
	attrs["media_position"] = played
	attrs["media_position_updated_at"] = in.Now.UTC().Format(time.RFC3339)
	if in.ImageURL != "" {
		attrs["media_image_url"] = in.ImageURL
	}
	return state, true, attrs
}

func mapStatusName(name string) string {
	switch strings.ToLower(name) {
	case "", "off", "stopped":
		return entity.StateOff
	case "idle":
		return entity.StateIdle
	case "playing":
		return entity.StatePlaying
	case "paused":
		return entity.StatePaused
	default:
		return entity.StateIdle
	}
}

// mediaTitle prefers the sequence name and falls back to the song.
func mediaTitle(status fppclient.Status) string {
	if seq := status.CurrentSequence(); seq != "" {
		return strings.TrimSuffix(seq, ".fseq")
	}
	song := status.CurrentSong()
	song = strings.TrimSuffix(song, ".mp3")
	return strings.TrimSuffix(song, ".mp4")
}

// Update recomputes state from the coordinators and writes it to the
// registry. It runs as a coordinator listener.
func (m *MediaPlayer) Update() {
	status, _ := m.status.Data()
	playlists, _ := m.playlists.Data()
	in := mediaInput{
		Status:      status,
		LastSuccess: m.status.LastUpdateSuccess(),
		Playlists:   playlists,
		Now:         m.now(),
	}
	if in.LastSuccess && status.FPPD() == "running" && mapStatusName(status.StatusName()) == entity.StatePlaying {
		in.ImageURL = m.image(mediaTitle(status))
	}

	state, available, attrs := mapMediaState(in)
	m.registry.Set(entity.State{
		EntityID:   m.entityID,
		UniqueID:   m.uniqueID,
		EntryID:    m.entryID,
		Name:       m.name,
		State:      state,
		Available:  available,
		Attributes: attrs,
		Device:     m.device,
	})
}

// image probes for cover art only when the title changes. A failed probe
// is not cached and is retried on the next update.
func (m *MediaPlayer) image(title string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if title == m.imageTitle {
		return m.imageURL
	}
	ctx, cancel := context.WithTimeout(context.Background(), imageProbeTimeout)
	defer cancel()
	url, err := m.client.ImageURL(ctx, title)
	if err != nil {
		m.log.WithError(err).WithField("title", title).Debug("image probe failed")
		return ""
	}
	m.imageTitle = title
	m.imageURL = url
	return url
}

// HandleCommand implements entity.Handler.
func (m *MediaPlayer) HandleCommand(ctx context.Context, cmd entity.Command) error {
	if err := m.run(ctx, cmd); err != nil {
		m.log.WithError(err).WithField("action", cmd.Action).Warn("media player command failed")
		return err
	}
	m.status.RequestRefresh()
	return nil
}

func (m *MediaPlayer) run(ctx context.Context, cmd entity.Command) error {
	switch cmd.Action {
	case "turn_on":
		return m.client.StartDaemon(ctx)
	case "turn_off":
		return m.client.StopDaemon(ctx)
	case "select_source":
		source, ok := stringArg(cmd.Data, "source")
		if !ok {
			return fmt.Errorf("select_source: %w: source is required", ErrInvalidArgument)
		}
		return m.client.StartPlaylist(ctx, source)
	case "volume_set":
		level, ok, err := floatArg(cmd.Data, "volume_level")
		if err != nil {
			return fmt.Errorf("volume_set: %w", err)
		}
		if !ok {
			return fmt.Errorf("volume_set: %w: volume_level is required", ErrInvalidArgument)
		}
		return m.client.Command(ctx, "Volume Set", volumeArg(level))
	case "volume_up":
		return m.client.Command(ctx, "Volume Increase", "1")
	case "volume_down":
		return m.client.Command(ctx, "Volume Decrease", "1")
	case "media_stop":
		return m.client.StopPlaylists(ctx)
	case "media_play":
		return m.client.ResumePlaylist(ctx)
	case "media_pause":
		return m.client.PausePlaylist(ctx)
	case "media_next_track":
		return m.client.NamedCommand(ctx, "Next Playlist Item")
	case "media_previous_track":
		return m.client.NamedCommand(ctx, "Prev Playlist Item")
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, cmd.Action)
	}
}

// volumeArg converts a 0..1 level to the integer percent FPP expects.
func volumeArg(level float64) int {
	return int(math.Round(min(max(level, 0), 1) * 100))
}
