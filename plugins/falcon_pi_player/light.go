package falcon_pi_player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-fpp/internal/coordinator"
	"github.com/joshp123/gohome-fpp/internal/entity"
	"github.com/joshp123/gohome-fpp/plugins/falcon_pi_player/fppclient"
)

const (
	defaultTransition = 2 * time.Second
	fadePollInterval  = 500 * time.Millisecond
	fadeFinalTimeout  = 10 * time.Second
	fadeCommand       = "Brightness Fade"
)

// Light exposes the brightness plugin as a dimmable light.
type Light struct {
	client     *fppclient.Client
	brightness *coordinator.Coordinator[int]
	registry   *entity.Registry
	log        logrus.FieldLogger

	entryID  string
	name     string
	entityID string
	uniqueID string
	device   *entity.DeviceInfo

	pollInterval time.Duration

	mu      sync.Mutex
	percent int

	fadeMu      sync.Mutex
	fade        *fadeMonitor
	activeFades atomic.Int32
}

type fadeMonitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLight(client *fppclient.Client, brightness *coordinator.Coordinator[int], registry *entity.Registry, entryID, title string, logger logrus.FieldLogger) *Light {
	name := title
	if name == "" {
		name = "FPP"
	}
	host := client.Host()
	return &Light{
		client:       client,
		brightness:   brightness,
		registry:     registry,
		log:          logger.WithField("entity", "light"),
		entryID:      entryID,
		name:         name + " Brightness",
		entityID:     "light." + entity.Slug(name) + "_brightness",
		uniqueID:     "light_fpp_brightness_" + host,
		device:       deviceInfo(client, name),
		pollInterval: fadePollInterval,
	}
}

func (l *Light) EntityID() string {
	return l.entityID
}

func (l *Light) UniqueID() string {
	return l.uniqueID
}

// percentToLevel maps device percent to the 0-255 brightness scale.
func percentToLevel(percent int) int {
	percent = min(max(percent, 0), 100)
	return int(math.Round(float64(percent) * 255 / 100))
}

// levelToPercent maps 0-255 brightness to device percent.
func levelToPercent(level int) int {
	level = min(max(level, 0), 255)
	return int(math.Round(float64(level) * 100 / 255))
}

// Update writes state from the brightness coordinator. It runs as a
// coordinator listener.
func (l *Light) Update() {
	percent, _ := l.brightness.Data()
	l.write(percent, l.brightness.LastUpdateSuccess())
}

func (l *Light) write(percent int, available bool) {
	l.mu.Lock()
	l.percent = percent
	l.mu.Unlock()

	level := percentToLevel(percent)
	state := entity.StateOff
	if level > 0 {
		state = entity.StateOn
	}
	l.registry.Set(entity.State{
		EntityID:  l.entityID,
		UniqueID:  l.uniqueID,
		EntryID:   l.entryID,
		Name:      l.name,
		State:     state,
		Available: available,
		Attributes: map[string]any{
			"brightness":            level,
			"color_mode":            "brightness",
			"supported_color_modes": []string{"brightness"},
		},
		Device: l.device,
	})
}

func (l *Light) current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.percent
}

// TurnOn fades to brightness (0-255) over transition seconds. A nil
// brightness means full.
func (l *Light) TurnOn(ctx context.Context, brightness *int, transition *float64) error {
	target := 100
	if brightness != nil {
		target = levelToPercent(*brightness)
	}
	return l.fadeTo(ctx, target, transition)
}

// TurnOff fades to zero.
func (l *Light) TurnOff(ctx context.Context, transition *float64) error {
	return l.fadeTo(ctx, 0, transition)
}

func (l *Light) fadeTo(ctx context.Context, target int, transition *float64) error {
	duration := defaultTransition
	if transition != nil {
		duration = time.Duration(max(*transition, 0) * float64(time.Second))
	}

	previous := l.current()
	l.write(target, true)
	seconds := strconv.FormatFloat(duration.Seconds(), 'f', -1, 64)
	if err := l.client.Command(ctx, fadeCommand, strconv.Itoa(target), seconds); err != nil {
		l.write(previous, false)
		l.log.WithError(err).WithField("target", target).Error("brightness fade failed")
		return err
	}
	l.startFade(duration)
	return nil
}

// startFade replaces any running monitor. The previous monitor has fully
// exited before the new one starts, and each monitor carries its own
// deadline.
func (l *Light) startFade(duration time.Duration) {
	l.fadeMu.Lock()
	defer l.fadeMu.Unlock()

	if l.fade != nil {
		l.fade.cancel()
		<-l.fade.done
	}
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	mon := &fadeMonitor{cancel: cancel, done: make(chan struct{})}
	l.fade = mon
	l.activeFades.Add(1)
	go l.monitor(ctx, mon)
}

func (l *Light) monitor(ctx context.Context, mon *fadeMonitor) {
	defer close(mon.done)
	defer l.activeFades.Add(-1)
	defer mon.cancel()

	l.poll(ctx)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				final, cancel := context.WithTimeout(context.Background(), fadeFinalTimeout)
				l.poll(final)
				cancel()
			}
			return
		case <-ticker.C:
			l.poll(ctx)
		}
	}
}

func (l *Light) poll(ctx context.Context) {
	percent, err := l.client.Brightness(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.log.WithError(err).Debug("brightness poll failed")
		}
		return
	}
	l.write(percent, true)
}

// ActiveFades reports how many fade monitors are running.
func (l *Light) ActiveFades() int {
	return int(l.activeFades.Load())
}

// Stop cancels the running fade monitor and waits for it.
func (l *Light) Stop() {
	l.fadeMu.Lock()
	defer l.fadeMu.Unlock()
	if l.fade != nil {
		l.fade.cancel()
		<-l.fade.done
		l.fade = nil
	}
}

// HandleCommand implements entity.Handler.
func (l *Light) HandleCommand(ctx context.Context, cmd entity.Command) error {
	transition, err := optionalFloat(cmd.Data, "transition")
	if err != nil {
		return err
	}
	switch cmd.Action {
	case "turn_on":
		level, err := optionalFloat(cmd.Data, "brightness")
		if err != nil {
			return err
		}
		var brightness *int
		if level != nil {
			b := int(math.Round(*level))
			brightness = &b
		}
		return l.TurnOn(ctx, brightness, transition)
	case "turn_off":
		return l.TurnOff(ctx, transition)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, cmd.Action)
	}
}

func optionalFloat(data map[string]any, key string) (*float64, error) {
	v, ok, err := floatArg(data, key)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}
