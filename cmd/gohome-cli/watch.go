package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-fpp/internal/entity"
	"github.com/joshp123/gohome-fpp/internal/rpcdesc"
	fpp "github.com/joshp123/gohome-fpp/plugins/falcon_pi_player"
)

const watchRequestTimeout = 5 * time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#BD93F9"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C"))
)

type watchTickMsg time.Time

type watchSnapshotMsg struct {
	entries  []fpp.EntryView
	entities []entity.State
	err      error
}

type watchActionMsg struct {
	action string
	err    error
}

// watchModel is a live view of FPP entries and their entities.
type watchModel struct {
	conn     grpc.ClientConnInterface
	filter   string
	interval time.Duration

	table    table.Model
	entries  []fpp.EntryView
	entities []entity.State
	status   string
	err      error
	updated  time.Time
}

func watchCmd(conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("fpp watch", flag.ExitOnError)
	interval := flags.Duration("interval", 2*time.Second, "refresh interval")
	_ = flags.Parse(args)

	filter := ""
	if flags.NArg() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), watchRequestTimeout)
		filter = resolveEntry(ctx, conn, flags.Arg(0))
		cancel()
	}

	p := tea.NewProgram(newWatchModel(conn, filter, *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fatal("fpp watch", err)
	}
}

func newWatchModel(conn grpc.ClientConnInterface, filter string, interval time.Duration) watchModel {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Entity", Width: 34},
			{Title: "State", Width: 10},
			{Title: "Entry", Width: 18},
			{Title: "Detail", Width: 48},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	return watchModel{conn: conn, filter: filter, interval: interval, table: t}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(watchFetchCmd(m.conn), watchTickCmd(m.interval))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, watchFetchCmd(m.conn)
		case "p", " ":
			return m, m.mediaAction(m.toggleAction())
		case "s":
			return m, m.mediaAction("media_stop")
		case "n":
			return m, m.mediaAction("media_next_track")
		}
	case tea.WindowSizeMsg:
		m.table.SetHeight(max(msg.Height-6, 3))
		return m, nil
	case watchTickMsg:
		return m, tea.Batch(watchFetchCmd(m.conn), watchTickCmd(m.interval))
	case watchSnapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.entries = msg.entries
			m.entities = msg.entities
			m.updated = time.Now()
			m.table.SetRows(m.rows())
		}
		return m, nil
	case watchActionMsg:
		if msg.err != nil {
			m.status = errorStyle.Render(msg.action + ": " + msg.err.Error())
		} else {
			m.status = okStyle.Render(msg.action + " sent")
		}
		return m, watchFetchCmd(m.conn)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Falcon Pi Player"))
	if !m.updated.IsZero() {
		b.WriteString(mutedStyle.Render("  updated " + m.updated.Format("15:04:05")))
	}
	b.WriteString("\n")
	b.WriteString(m.entrySummary())
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render("refresh failed: "+m.err.Error()) + "\n")
	} else if m.status != "" {
		b.WriteString(m.status + "\n")
	}
	b.WriteString(mutedStyle.Render("p play/pause  s stop  n next  r refresh  q quit"))
	return b.String()
}

func (m watchModel) entrySummary() string {
	if len(m.entries) == 0 {
		return mutedStyle.Render("no entries")
	}
	parts := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		if m.filter != "" && e.EntryID != m.filter {
			continue
		}
		style := okStyle
		if e.State != "loaded" {
			style = warnStyle
		}
		parts = append(parts, e.Title+" "+style.Render(e.State))
	}
	return strings.Join(parts, "  ")
}

func (m watchModel) rows() []table.Row {
	titles := make(map[string]string, len(m.entries))
	for _, e := range m.entries {
		titles[e.EntryID] = e.Title
	}
	rows := make([]table.Row, 0, len(m.entities))
	for _, e := range m.entities {
		if m.filter != "" && e.EntryID != m.filter {
			continue
		}
		state := e.State
		if !e.Available {
			state = "unavailable"
		}
		rows = append(rows, table.Row{e.EntityID, state, titles[e.EntryID], watchDetail(e)})
	}
	return rows
}

func watchDetail(e entity.State) string {
	switch e.Domain() {
	case "media_player":
		title, _ := e.Attributes["media_title"].(string)
		detail := title
		if position, ok := e.Attributes["media_position"].(float64); ok {
			if duration, ok := e.Attributes["media_duration"].(float64); ok {
				detail += fmt.Sprintf(" %s/%s", clock(position), clock(duration))
			}
		}
		if volume, ok := e.Attributes["volume_level"].(float64); ok {
			detail += " vol " + strconv.Itoa(int(volume*100)) + "%"
		}
		return strings.TrimSpace(detail)
	case "light":
		if level, ok := e.Attributes["brightness"].(float64); ok {
			return "brightness " + strconv.Itoa(int(level))
		}
	}
	return ""
}

func clock(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// selected returns the media player entity on the highlighted row.
func (m watchModel) selected() (entity.State, bool) {
	row := m.table.SelectedRow()
	if row == nil {
		return entity.State{}, false
	}
	for _, e := range m.entities {
		if e.EntityID == row[0] && e.Domain() == "media_player" {
			return e, true
		}
	}
	return entity.State{}, false
}

func (m watchModel) toggleAction() string {
	if e, ok := m.selected(); ok && e.State == entity.StatePlaying {
		return "media_pause"
	}
	return "media_play"
}

func (m watchModel) mediaAction(action string) tea.Cmd {
	target, ok := m.selected()
	if !ok {
		return nil
	}
	conn := m.conn
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), watchRequestTimeout)
		defer cancel()
		req := fpp.MediaCommandRequest{EntryID: target.EntryID, Action: action}
		_, err := rpcdesc.Invoke(ctx, conn, fpp.ServiceFullName, "MediaCommand", req)
		return watchActionMsg{action: action, err: err}
	}
}

func watchTickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func watchFetchCmd(conn grpc.ClientConnInterface) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), watchRequestTimeout)
		defer cancel()

		var snapshot watchSnapshotMsg
		var entries fpp.ListEntriesResponse
		if snapshot.err = call(ctx, conn, "ListEntries", &entries); snapshot.err != nil {
			return snapshot
		}
		var entities fpp.ListEntitiesResponse
		if snapshot.err = call(ctx, conn, "ListEntities", &entities); snapshot.err != nil {
			return snapshot
		}
		snapshot.entries = entries.Entries
		snapshot.entities = entities.Entities
		return snapshot
	}
}

func call(ctx context.Context, conn grpc.ClientConnInterface, method string, out any) error {
	resp, err := rpcdesc.Invoke(ctx, conn, fpp.ServiceFullName, method, nil)
	if err != nil {
		return err
	}
	return rpcdesc.Decode(resp, out)
}
