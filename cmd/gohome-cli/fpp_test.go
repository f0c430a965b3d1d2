package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/joshp123/gohome-fpp/internal/entity"
	fpp "github.com/joshp123/gohome-fpp/plugins/falcon_pi_player"
)

func TestParseData(t *testing.T) {
	data, err := parseData([]string{"volume_level=0.4", "source=Christmas Show"})
	if err != nil {
		t.Fatalf("parseData: %v", err)
	}
	if data["volume_level"] != 0.4 || data["source"] != "Christmas Show" {
		t.Fatalf("unexpected data: %v", data)
	}

	if data, err := parseData(nil); err != nil || data != nil {
		t.Fatalf("expected nil data, got %v %v", data, err)
	}
	if _, err := parseData([]string{"brightness"}); err == nil {
		t.Fatalf("expected error for missing value")
	}
	if _, err := parseData([]string{"=5"}); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestResolveNamedID(t *testing.T) {
	options := map[string]string{"Garage FPP": "entry-1", "Front Yard": "entry-2"}
	id, err := resolveNamedID("entry", "garage-fpp", options)
	if err != nil || id != "entry-1" {
		t.Fatalf("unexpected resolve: %q %v", id, err)
	}
	if id, err := resolveNamedID("entry", "entry-2", options); err != nil || id != "entry-2" {
		t.Fatalf("expected raw id to resolve, got %q %v", id, err)
	}
	if id, err := resolveNamedID("entry", "front", options); err != nil || id != "entry-2" {
		t.Fatalf("expected unique prefix to resolve, got %q %v", id, err)
	}
	_, err = resolveNamedID("entry", "attic", options)
	if err == nil || !strings.Contains(err.Error(), "Front Yard, Garage FPP") {
		t.Fatalf("expected sorted options in error, got %v", err)
	}

	options["Garage Lights"] = "entry-3"
	_, err = resolveNamedID("entry", "garage", options)
	if err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Fatalf("expected ambiguous prefix error, got %v", err)
	}
}

func TestOutputRender(t *testing.T) {
	var buf bytes.Buffer
	out := outputMode{w: &buf}
	out.render(nil, func() [][]string {
		return [][]string{{"TITLE", "STATE"}, {"Garage", "loaded"}}
	})
	if got := buf.String(); got != "TITLE   STATE\nGarage  loaded\n" {
		t.Fatalf("unexpected table: %q", got)
	}

	buf.Reset()
	out.json = true
	out.render(map[string]int{"count": 2}, func() [][]string {
		t.Fatalf("rows should not be built for json output")
		return nil
	})
	if got := buf.String(); got != "{\n  \"count\": 2\n}\n" {
		t.Fatalf("unexpected json: %q", got)
	}
}

func TestEntityDetail(t *testing.T) {
	got := entityDetail(map[string]any{
		"media_title":  "Wizards",
		"volume_level": 0.5,
		"source_list":  []any{"b", "a"},
	})
	if got != "media_title=Wizards volume_level=0.5" {
		t.Fatalf("unexpected detail: %q", got)
	}
	if formatValue([]any{"b", "a"}) != "a, b" {
		t.Fatalf("unexpected list format")
	}
}

func TestWatchModelRows(t *testing.T) {
	m := newWatchModel(nil, "", 0)
	next, _ := m.Update(watchSnapshotMsg{
		entries: []fpp.EntryView{{EntryID: "e1", Title: "Garage", State: "loaded"}},
		entities: []entity.State{
			{EntityID: "media_player.garage", EntryID: "e1", State: entity.StatePlaying, Available: true, Attributes: map[string]any{
				"media_title":    "Wizards",
				"media_position": 65.0,
				"media_duration": 180.0,
				"volume_level":   0.5,
			}},
			{EntityID: "light.garage_brightness", EntryID: "e1", State: entity.StateOn, Available: false},
		},
	})
	m = next.(watchModel)

	rows := m.table.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][2] != "Garage" || rows[0][3] != "Wizards 1:05/3:00 vol 50%" {
		t.Fatalf("unexpected media row: %v", rows[0])
	}
	if rows[1][1] != "unavailable" {
		t.Fatalf("unexpected light row: %v", rows[1])
	}
	if m.toggleAction() != "media_pause" {
		t.Fatalf("expected pause for playing selection")
	}
	if !strings.Contains(m.View(), "Garage") {
		t.Fatalf("expected entry summary in view")
	}
}

func TestWatchModelFilter(t *testing.T) {
	m := newWatchModel(nil, "e2", 0)
	next, _ := m.Update(watchSnapshotMsg{
		entities: []entity.State{
			{EntityID: "media_player.a", EntryID: "e1"},
			{EntityID: "media_player.b", EntryID: "e2"},
		},
	})
	rows := next.(watchModel).table.Rows()
	if len(rows) != 1 || rows[0][0] != "media_player.b" {
		t.Fatalf("unexpected filtered rows: %v", rows)
	}
}
