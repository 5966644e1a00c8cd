// Package ui renders live entrypoint snapshots in the terminal.
package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"routekit/internal/wire"
)

type entrypointsModel struct {
	title   string
	updates <-chan wire.Update
	spinner spinner.Model
	width   int

	seq      uint64
	snapshot *wire.Entrypoints
	err      *wire.ErrorPayload
	done     bool
}

type updateMsg wire.Update
type doneMsg struct{}

// NewEntrypointsModel returns a Bubble Tea model that shows the latest
// snapshot received on updates. The program quits when updates is closed or
// the user presses q.
func NewEntrypointsModel(title string, updates <-chan wire.Update) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	return &entrypointsModel{
		title:   title,
		updates: updates,
		spinner: sp,
		width:   80,
	}
}

func (m *entrypointsModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForUpdate())
}

func (m *entrypointsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m.apply(wire.Update(msg))
		return m, m.listenForUpdate()
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.done = true
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
		return m, nil
	}
	return m, nil
}

// apply keeps the last good snapshot visible while an error is shown.
func (m *entrypointsModel) apply(u wire.Update) {
	m.seq = u.Seq
	if u.Error != nil {
		m.err = u.Error
		return
	}
	m.err = nil
	m.snapshot = u.Payload
}

func (m *entrypointsModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.seq > 0 {
		header = fmt.Sprintf("%s (update %d)", header, m.seq)
	}
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("%s error: %s", m.err.Kind, m.err.Message)))
		b.WriteString("\n\n")
	}
	if m.snapshot == nil {
		if m.err == nil {
			b.WriteString("  resolving entrypoints...\n")
		}
		return b.String()
	}
	writeSnapshot(&b, m.snapshot, m.width)
	return b.String()
}

func (m *entrypointsModel) listenForUpdate() tea.Cmd {
	return func() tea.Msg {
		u, ok := <-m.updates
		if !ok {
			return doneMsg{}
		}
		return updateMsg(u)
	}
}

var (
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

const typeWidth = 10

func writeSnapshot(b *strings.Builder, e *wire.Entrypoints, width int) {
	nameWidth := width - typeWidth - 24
	if nameWidth < 20 {
		nameWidth = 20
	}
	if len(e.Routes) == 0 {
		b.WriteString(dimStyle.Render("  no routes"))
		b.WriteString("\n")
	}
	for _, r := range e.Routes {
		typ := styleType(r.Type).Render(fmt.Sprintf("%-*s", typeWidth, r.Type))
		name := runewidth.FillRight(truncate(r.Pathname, nameWidth), nameWidth)
		fmt.Fprintf(b, "  %s %s %s\n", typ, name, dimStyle.Render(endpointList(r)))
	}

	if mw := e.Middleware; mw != nil {
		matcher := "all paths"
		if mw.Matcher != nil {
			matcher = strings.Join(mw.Matcher, ", ")
		}
		fmt.Fprintf(b, "\n  middleware #%d (%s): %s\n", mw.Endpoint, mw.Runtime, truncate(matcher, nameWidth))
	}

	if len(e.Diagnostics) > 0 {
		fmt.Fprintf(b, "\n  %d diagnostic(s)\n", len(e.Diagnostics))
		for _, d := range e.Diagnostics {
			line := fmt.Sprintf("%s/%s %s", d.Category, d.Name, formatPayload(d.Payload))
			fmt.Fprintf(b, "    %s\n", truncate(line, width-4))
		}
	}
}

func endpointList(r wire.Route) string {
	var parts []string
	add := func(label string, id *uint64) {
		if id != nil {
			parts = append(parts, label+"#"+strconv.FormatUint(*id, 10))
		}
	}
	add("", r.Endpoint)
	add("html", r.HTMLEndpoint)
	add("data", r.DataEndpoint)
	add("rsc", r.RSCEndpoint)
	return strings.Join(parts, " ")
}

func formatPayload(payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+payload[k])
	}
	return strings.Join(parts, " ")
}

func styleType(t string) lipgloss.Style {
	switch t {
	case "conflict":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "page", "app-page":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "page-api", "app-route":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
