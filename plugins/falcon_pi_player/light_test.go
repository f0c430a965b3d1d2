package falcon_pi_player

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joshp123/gohome-fpp/internal/entity"
	"github.com/joshp123/gohome-fpp/plugins/falcon_pi_player/fppclient"
)

func newTestLight(t *testing.T, fake *fakeFPP) (*Light, *entity.Registry) {
	t.Helper()
	client, err := fppclient.New(fake.URL(), fppclient.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	registry := entity.NewRegistry()
	logger := quietLogger()
	brightness := NewBrightnessCoordinator(client, "entry", logger, nil)
	light := NewLight(client, brightness, registry, "entry", "Garage Show", logger)
	t.Cleanup(light.Stop)
	return light, registry
}

func ptr[T any](v T) *T {
	return &v
}

func TestBrightnessConversions(t *testing.T) {
	toLevel := map[int]int{0: 0, 50: 128, 100: 255, 120: 255, -5: 0}
	for in, want := range toLevel {
		if got := percentToLevel(in); got != want {
			t.Fatalf("percentToLevel(%d) = %d, want %d", in, got, want)
		}
	}
	toPercent := map[int]int{0: 0, 128: 50, 255: 100, 300: 100, 1: 0, 3: 1}
	for in, want := range toPercent {
		if got := levelToPercent(in); got != want {
			t.Fatalf("levelToPercent(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestLightUpdateFromCoordinator(t *testing.T) {
	fake := newFakeFPP(t)
	fake.set(func(f *fakeFPP) { f.brightness = 40 })
	light, registry := newTestLight(t, fake)
	if err := light.brightness.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	light.Update()

	state, ok := registry.Get("light.garage_show_brightness")
	if !ok {
		t.Fatalf("light state not published")
	}
	if state.State != entity.StateOn || !state.Available || state.Attributes["brightness"] != 102 {
		t.Fatalf("unexpected light state: %+v", state)
	}
	if state.UniqueID != "light_fpp_brightness_"+light.client.Host() {
		t.Fatalf("unexpected unique id: %q", state.UniqueID)
	}
}

func TestLightTurnOnSendsFadeAndWritesOptimisticState(t *testing.T) {
	fake := newFakeFPP(t)
	light, registry := newTestLight(t, fake)

	if err := light.TurnOn(context.Background(), ptr(128), ptr(1.5)); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}

	call, ok := fake.lastCommand()
	if !ok || call.Command != "Brightness Fade" || len(call.Args) != 2 || call.Args[0] != "50" || call.Args[1] != "1.5" {
		t.Fatalf("unexpected fade command: %+v", call)
	}
	state, _ := registry.Get(light.EntityID())
	if state.State != entity.StateOn || state.Attributes["brightness"] != 128 {
		t.Fatalf("unexpected optimistic state: %+v", state)
	}
}

func TestLightDefaults(t *testing.T) {
	fake := newFakeFPP(t)
	light, _ := newTestLight(t, fake)
	ctx := context.Background()

	if err := light.HandleCommand(ctx, entity.Command{Action: "turn_on"}); err != nil {
		t.Fatalf("turn_on: %v", err)
	}
	call, _ := fake.lastCommand()
	if call.Args[0] != "100" || call.Args[1] != "2" {
		t.Fatalf("unexpected turn_on args: %v", call.Args)
	}

	if err := light.HandleCommand(ctx, entity.Command{Action: "turn_off", Data: map[string]any{"transition": float64(0.5)}}); err != nil {
		t.Fatalf("turn_off: %v", err)
	}
	call, _ = fake.lastCommand()
	if call.Args[0] != "0" || call.Args[1] != "0.5" {
		t.Fatalf("unexpected turn_off args: %v", call.Args)
	}

	if err := light.HandleCommand(ctx, entity.Command{Action: "toggle"}); !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("expected unsupported action, got %v", err)
	}
}

func TestLightFadeRestartKeepsOneMonitor(t *testing.T) {
	fake := newFakeFPP(t)
	light, _ := newTestLight(t, fake)
	ctx := context.Background()

	if err := light.TurnOn(ctx, ptr(255), ptr(30.0)); err != nil {
		t.Fatalf("first TurnOn: %v", err)
	}
	first := light.fade
	if err := light.TurnOn(ctx, ptr(64), ptr(30.0)); err != nil {
		t.Fatalf("second TurnOn: %v", err)
	}

	select {
	case <-first.done:
	default:
		t.Fatalf("previous monitor still running")
	}
	if got := light.ActiveFades(); got != 1 {
		t.Fatalf("expected exactly one active monitor, got %d", got)
	}

	light.Stop()
	if got := light.ActiveFades(); got != 0 {
		t.Fatalf("expected no monitors after Stop, got %d", got)
	}
}

func TestLightFadeMonitorFinishesWithFinalUpdate(t *testing.T) {
	fake := newFakeFPP(t)
	fake.set(func(f *fakeFPP) { f.brightness = 0 })
	light, registry := newTestLight(t, fake)
	light.pollInterval = 10 * time.Millisecond

	if err := light.TurnOn(context.Background(), ptr(255), ptr(0.05)); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}
	waitFor(t, "fade monitor to finish", func() bool { return light.ActiveFades() == 0 })

	state, _ := registry.Get(light.EntityID())
	if state.State != entity.StateOn || state.Attributes["brightness"] != 255 || !state.Available {
		t.Fatalf("unexpected state after fade: %+v", state)
	}
}

func TestLightCommandFailureMarksUnavailable(t *testing.T) {
	fake := newFakeFPP(t)
	fake.set(func(f *fakeFPP) { f.failCommands = true })
	light, registry := newTestLight(t, fake)

	err := light.TurnOn(context.Background(), ptr(255), nil)
	if !errors.Is(err, fppclient.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	state, _ := registry.Get(light.EntityID())
	if state.Available {
		t.Fatalf("expected light unavailable after failed command: %+v", state)
	}
	if light.ActiveFades() != 0 {
		t.Fatalf("failed command should not start a monitor")
	}
}

func TestLightCommandFailureRestoresPreviousBrightness(t *testing.T) {
	fake := newFakeFPP(t)
	fake.set(func(f *fakeFPP) { f.failCommands = true })
	light, registry := newTestLight(t, fake)
	light.write(40, true)

	if err := light.TurnOn(context.Background(), ptr(255), nil); err == nil {
		t.Fatalf("expected fade failure")
	}
	if got := light.current(); got != 40 {
		t.Fatalf("expected brightness restored to 40%%, got %d%%", got)
	}
	state, _ := registry.Get(light.EntityID())
	if state.Attributes["brightness"] != percentToLevel(40) {
		t.Fatalf("unexpected brightness after failed fade: %+v", state.Attributes)
	}
}

func TestLightFadeMonitorPollsImmediately(t *testing.T) {
	fake := newFakeFPP(t)
	light, _ := newTestLight(t, fake)
	light.pollInterval = time.Hour

	if err := light.TurnOn(context.Background(), ptr(128), ptr(30.0)); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}
	waitFor(t, "first brightness poll", func() bool { return fake.sawPath("/api/plugin-apis/Brightness") })
}
