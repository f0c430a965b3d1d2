package falcon_pi_player

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-fpp/internal/coordinator"
	"github.com/joshp123/gohome-fpp/internal/entity"
	"github.com/joshp123/gohome-fpp/internal/entries"
	"github.com/joshp123/gohome-fpp/internal/httpsession"
	"github.com/joshp123/gohome-fpp/plugins/falcon_pi_player/fppclient"
)

// Integration sets up FPP config entries: one client, three coordinators,
// a media player and a light per entry.
type Integration struct {
	entities *entity.Registry
	sessions *httpsession.Pool
	log      logrus.FieldLogger
}

func NewIntegration(entities *entity.Registry, sessions *httpsession.Pool, logger logrus.FieldLogger) *Integration {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Integration{entities: entities, sessions: sessions, log: logger}
}

func (i *Integration) Domain() string {
	return PluginID
}

// NewClient builds a device client for stored entry data. Pooled sessions
// are borrowed; without a pool the client owns its session.
func (i *Integration) NewClient(data entries.Data) (*fppclient.Client, error) {
	opts := fppclient.Options{
		Username:  data.Username,
		Password:  data.Password,
		VerifySSL: data.VerifySSL,
		Logger:    i.log,
	}
	if i.sessions != nil {
		opts.Session = i.sessions.Get(data.VerifySSL)
	}
	return fppclient.New(data.URL, opts)
}

// Setup implements entries.Integration.
func (i *Integration) Setup(ctx context.Context, entry entries.Entry, hooks entries.Hooks) (entries.Runtime, error) {
	logger := i.log.WithFields(logrus.Fields{"entry_id": entry.ID, "title": entry.Title})
	client, err := i.NewClient(entry.Data)
	if err != nil {
		return nil, fmt.Errorf("build client: %w", err)
	}

	var reauthOnce sync.Once
	onAuth := func(err error) {
		reauthOnce.Do(func() {
			if hooks.ReauthRequired != nil {
				hooks.ReauthRequired(err)
			}
		})
	}

	rt := &Runtime{
		entry:      entry,
		client:     client,
		registry:   i.entities,
		status:     NewSystemStatusCoordinator(client, entry.ID, logger, onAuth),
		playlists:  NewPlaylistsCoordinator(client, entry.ID, logger, onAuth),
		brightness: NewBrightnessCoordinator(client, entry.ID, logger, onAuth),
		log:        logger,
	}

	if err := rt.status.FirstRefresh(ctx); err != nil {
		client.Close()
		return nil, err
	}
	// Playlists and brightness are optional: a device without the
	// brightness plugin still loads. Bad credentials are not optional.
	for _, refresh := range []func(context.Context) error{rt.playlists.FirstRefresh, rt.brightness.FirstRefresh} {
		if err := refresh(ctx); errors.Is(err, coordinator.ErrAuthFailed) {
			client.Close()
			return nil, err
		} else if err != nil {
			logger.WithError(err).Warn("optional refresh failed")
		}
	}

	rt.media = NewMediaPlayer(client, rt.status, rt.playlists, i.entities, entry.ID, entry.Title, logger)
	rt.light = NewLight(client, rt.brightness, i.entities, entry.ID, entry.Title, logger)
	if err := i.entities.Register(rt.media.EntityID(), rt.media); err != nil {
		client.Close()
		return nil, err
	}
	if err := i.entities.Register(rt.light.EntityID(), rt.light); err != nil {
		i.entities.Remove(rt.media.EntityID())
		client.Close()
		return nil, err
	}

	rt.unsubscribe = []func(){
		rt.status.AddListener(rt.media.Update),
		rt.playlists.AddListener(rt.media.Update),
		rt.brightness.AddListener(rt.light.Update),
	}
	rt.media.Update()
	rt.light.Update()

	runCtx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	rt.status.Start(runCtx)
	rt.playlists.Start(runCtx)
	rt.brightness.Start(runCtx)

	logger.WithFields(logrus.Fields{
		"media_player": rt.media.EntityID(),
		"light":        rt.light.EntityID(),
	}).Info("fpp entry set up")
	return rt, nil
}

// Runtime is the live state of one loaded entry.
type Runtime struct {
	entry      entries.Entry
	client     *fppclient.Client
	registry   *entity.Registry
	status     *coordinator.Coordinator[fppclient.Status]
	playlists  *coordinator.Coordinator[[]string]
	brightness *coordinator.Coordinator[int]
	media      *MediaPlayer
	light      *Light
	log        logrus.FieldLogger

	cancel      context.CancelFunc
	unsubscribe []func()
	unloadOnce  sync.Once
}

func (r *Runtime) Entry() entries.Entry {
	return r.entry
}

func (r *Runtime) Client() *fppclient.Client {
	return r.client
}

func (r *Runtime) MediaPlayer() *MediaPlayer {
	return r.media
}

func (r *Runtime) Light() *Light {
	return r.light
}

// Status returns the cached status snapshot and whether the last refresh
// succeeded.
func (r *Runtime) Status() (fppclient.Status, bool) {
	status, _ := r.status.Data()
	return status, r.status.LastUpdateSuccess()
}

func (r *Runtime) Playlists() []string {
	playlists, _ := r.playlists.Data()
	return playlists
}

// Brightness returns the cached brightness percent and whether it is fresh.
func (r *Runtime) Brightness() (int, bool) {
	percent, _ := r.brightness.Data()
	return percent, r.brightness.LastUpdateSuccess()
}

// Unload implements entries.Runtime.
func (r *Runtime) Unload(context.Context) error {
	r.unloadOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		for _, fn := range r.unsubscribe {
			fn()
		}
		r.status.Stop()
		r.playlists.Stop()
		r.brightness.Stop()
		r.light.Stop()
		r.registry.Remove(r.media.EntityID())
		r.registry.Remove(r.light.EntityID())
		r.client.Close()
		r.log.Info("fpp entry unloaded")
	})
	return nil
}
