package falcon_pi_player

import (
	"context"
	"testing"

	"github.com/joshp123/gohome-fpp/internal/entity"
	"github.com/joshp123/gohome-fpp/internal/entries"
)

func addEntry(t *testing.T, hub *testHub, title, rawURL, user, pass string) entries.Entry {
	t.Helper()
	entry, err := hub.manager.Add(context.Background(), entries.Entry{
		Domain:   PluginID,
		Title:    title,
		UniqueID: title,
		Data:     entries.Data{URL: rawURL, Username: user, Password: pass},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return entry
}

func TestSetupRegistersEntitiesAndUnloadRemovesThem(t *testing.T) {
	fake := newFakeFPP(t)
	hub := newTestHub(t)

	entry := addEntry(t, hub, "Garage Show", fake.URL(), "", "")
	if entry.State != entries.StateLoaded {
		t.Fatalf("expected loaded entry, got %s (%s)", entry.State, entry.Reason)
	}

	media, ok := hub.registry.Get("media_player.garage_show")
	if !ok || media.State != entity.StateIdle || !media.Available {
		t.Fatalf("unexpected media player state: %+v", media)
	}
	light, ok := hub.registry.Get("light.garage_show_brightness")
	if !ok || light.State != entity.StateOn {
		t.Fatalf("unexpected light state: %+v", light)
	}
	sources, _ := media.Attributes["source_list"].([]string)
	if len(sources) != 2 {
		t.Fatalf("expected playlists as sources, got %v", media.Attributes["source_list"])
	}

	if err := hub.registry.Call(context.Background(), entity.Command{EntityID: "media_player.garage_show", Action: "media_stop"}); err != nil {
		t.Fatalf("routed command: %v", err)
	}
	if !fake.sawPath("/api/playlists/stop") {
		t.Fatalf("expected stop request")
	}

	if err := hub.manager.Unload(context.Background(), entry.ID); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if len(hub.registry.List()) != 0 {
		t.Fatalf("expected entities removed on unload, got %+v", hub.registry.List())
	}
}

func TestSetupWithoutBrightnessPluginStillLoads(t *testing.T) {
	fake := newFakeFPP(t)
	hub := newTestHub(t)
	fake.set(func(f *fakeFPP) { f.noBrightness = true })

	entry := addEntry(t, hub, "No Dimmer", fake.URL(), "", "")
	if entry.State != entries.StateLoaded {
		t.Fatalf("expected loaded entry, got %s (%s)", entry.State, entry.Reason)
	}
}

func TestSetupAuthFailureRequiresReauth(t *testing.T) {
	fake := newFakeFPP(t)
	fake.set(func(f *fakeFPP) { f.requireAuth = true })
	hub := newTestHub(t)

	entry := addEntry(t, hub, "Locked", fake.URL(), testUser, "wrong")
	if entry.State != entries.StateReauthRequired {
		t.Fatalf("expected reauth_required, got %s", entry.State)
	}
	if len(hub.registry.List()) != 0 {
		t.Fatalf("no entities expected for a failed setup")
	}
}

func TestSetupUnreachableSchedulesRetry(t *testing.T) {
	fake := newFakeFPP(t)
	url := fake.URL()
	fake.server.Close()
	hub := newTestHub(t)

	entry := addEntry(t, hub, "Offline", url, "", "")
	if entry.State != entries.StateSetupRetry {
		t.Fatalf("expected setup_retry, got %s", entry.State)
	}
}

func TestAuthFailureWhileRunningUnloadsEntry(t *testing.T) {
	fake := newFakeFPP(t)
	fake.set(func(f *fakeFPP) { f.requireAuth = true })
	hub := newTestHub(t)

	entry := addEntry(t, hub, "Garage Show", fake.URL(), testUser, testPassword)
	if entry.State != entries.StateLoaded {
		t.Fatalf("expected loaded entry, got %s (%s)", entry.State, entry.Reason)
	}
	raw, ok := hub.manager.Runtime(entry.ID)
	if !ok {
		t.Fatalf("runtime missing")
	}
	rt := raw.(*Runtime)

	// Credentials rotated on the device.
	fake.set(func(f *fakeFPP) { f.password = "rotated" })
	rt.status.RequestRefresh()

	waitFor(t, "entry to require reauth", func() bool {
		got, err := hub.manager.Get(context.Background(), entry.ID)
		return err == nil && got.State == entries.StateReauthRequired
	})
	if _, ok := hub.manager.Runtime(entry.ID); ok {
		t.Fatalf("runtime should be unloaded after auth failure")
	}
	waitFor(t, "entities to be removed", func() bool { return len(hub.registry.List()) == 0 })
}
