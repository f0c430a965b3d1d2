package falcon_pi_player

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-fpp/internal/coordinator"
	"github.com/joshp123/gohome-fpp/plugins/falcon_pi_player/fppclient"
)

// classify turns client error kinds into coordinator signals: bad
// credentials stop polling, everything else is retried on the next tick.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fppclient.ErrAuthentication) {
		return coordinator.AuthFailed(err)
	}
	return coordinator.UpdateFailed(err)
}

func fetcher[T any](fetch func(context.Context) (T, error)) coordinator.FetchFunc[T] {
	return func(ctx context.Context) (T, error) {
		value, err := fetch(ctx)
		return value, classify(err)
	}
}

func coordinatorName(kind, entryID string) string {
	return PluginID + "." + kind + "." + entryID
}

func coordinatorOptions(kind, entryID string, logger logrus.FieldLogger, onAuth func(error)) coordinator.Options {
	return coordinator.Options{
		Name:         coordinatorName(kind, entryID),
		Interval:     coordinator.DefaultInterval,
		Logger:       logger,
		OnAuthFailed: onAuth,
	}
}

// NewSystemStatusCoordinator polls /api/system/status.
func NewSystemStatusCoordinator(client *fppclient.Client, entryID string, logger logrus.FieldLogger, onAuth func(error)) *coordinator.Coordinator[fppclient.Status] {
	return coordinator.New(fetcher(client.SystemStatus), coordinatorOptions("system_status", entryID, logger, onAuth))
}

// NewPlaylistsCoordinator polls the playable playlist names.
func NewPlaylistsCoordinator(client *fppclient.Client, entryID string, logger logrus.FieldLogger, onAuth func(error)) *coordinator.Coordinator[[]string] {
	return coordinator.New(fetcher(client.PlayablePlaylists), coordinatorOptions("playlists", entryID, logger, onAuth))
}

// NewBrightnessCoordinator polls the brightness plugin level in percent.
func NewBrightnessCoordinator(client *fppclient.Client, entryID string, logger logrus.FieldLogger, onAuth func(error)) *coordinator.Coordinator[int] {
	return coordinator.New(fetcher(client.Brightness), coordinatorOptions("brightness", entryID, logger, onAuth))
}
