package entity

import (
	"context"
	"errors"
	"testing"
)

type recordingHandler struct {
	cmds []Command
}

func (h *recordingHandler) HandleCommand(_ context.Context, cmd Command) error {
	h.cmds = append(h.cmds, cmd)
	return nil
}

func TestRegistrySetListAndSubscribe(t *testing.T) {
	reg := NewRegistry()
	events, cancel := reg.Subscribe(4)
	defer cancel()

	reg.Set(State{EntityID: "media_player.fpp", State: StatePlaying, Available: true})
	reg.Set(State{EntityID: "light.fpp_brightness", State: StateOn, Available: true})

	states := reg.List()
	if len(states) != 2 || states[0].EntityID != "light.fpp_brightness" {
		t.Fatalf("unexpected states: %+v", states)
	}
	if states[0].UpdatedAt.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}

	first := <-events
	if first.Type != EventStateChanged || first.State.EntityID != "media_player.fpp" {
		t.Fatalf("unexpected event: %+v", first)
	}

	reg.Remove("media_player.fpp")
	<-events
	removed := <-events
	if removed.Type != EventRemoved {
		t.Fatalf("expected removal event, got %+v", removed)
	}
	if _, ok := reg.Get("media_player.fpp"); ok {
		t.Fatalf("expected entity to be removed")
	}
}

func TestRegistryCallRoutesToHandler(t *testing.T) {
	reg := NewRegistry()
	handler := &recordingHandler{}
	if err := reg.Register("light.fpp_brightness", handler); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("light.fpp_brightness", &recordingHandler{}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}

	cmd := Command{EntityID: "light.fpp_brightness", Action: "turn_on"}
	if err := reg.Call(context.Background(), cmd); err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(handler.cmds) != 1 || handler.cmds[0].Action != "turn_on" {
		t.Fatalf("unexpected commands: %+v", handler.cmds)
	}

	err := reg.Call(context.Background(), Command{EntityID: "light.missing"})
	if !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected unknown entity, got %v", err)
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"FPP":                  "fpp",
		"Garage FPP - 10.0.0.5": "garage_fpp_10_0_0_5",
		"  ":                   "unnamed",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}
