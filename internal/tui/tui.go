// Package tui renders live ingestion progress in the terminal.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mailbrief/internal/ingest"
)

const maxRecentLines = 8

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	phaseStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	frameStyle   = lipgloss.NewStyle().Margin(1, 2)
)

// model consumes the ingest event stream and shows phase, per-item
// outcomes, and the final summary.
type model struct {
	events <-chan ingest.Event

	phase      ingest.Phase
	current    int
	total      int
	counts     map[ingest.ItemStatus]int
	recent     []string
	summary    *ingest.Summary
	discovered int
	errText    string
	done       bool
	quitting   bool
	width      int
}

type eventMsg ingest.Event

type streamClosedMsg struct{}

// New builds a progress model over an event channel. The channel must
// be closed once the run finishes.
func New(events <-chan ingest.Event) tea.Model {
	return model{
		events: events,
		phase:  ingest.PhaseFetching,
		counts: make(map[ingest.ItemStatus]int),
	}
}

// Run drives the progress display until the event stream closes.
func Run(events <-chan ingest.Event) error {
	_, err := tea.NewProgram(New(events)).Run()
	return err
}

func waitForEvent(events <-chan ingest.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(event)
	}
}

func (m model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case eventMsg:
		m = m.apply(ingest.Event(msg))
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		return m, tea.Quit
	}

	return m, nil
}

// apply folds one progress event into the display state.
func (m model) apply(event ingest.Event) model {
	if event.Phase != "" {
		m.phase = event.Phase
	}

	switch event.Type {
	case ingest.EventComplete:
		m.done = true
		m.summary = event.Summary
		m.discovered = len(event.DiscoveredSenders)

	case ingest.EventError:
		m.counts[ingest.StatusError]++
		m.errText = event.Detail
		m.recent = appendRecent(m.recent, errorStyle.Render("✗ "+event.Detail))

	case ingest.EventNewsletter, ingest.EventArticle, ingest.EventEmailNote:
		m.current = event.Current
		m.total = event.Total
		m.counts[event.Status]++
		m.recent = appendRecent(m.recent, itemLine(event))

	case ingest.EventUnfetchedEmails:
		m.recent = appendRecent(m.recent, skipStyle.Render(fmt.Sprintf("! %d senders needed individual queries", event.Total)))
	}

	return m
}

func appendRecent(lines []string, line string) []string {
	lines = append(lines, line)
	if len(lines) > maxRecentLines {
		lines = lines[len(lines)-maxRecentLines:]
	}
	return lines
}

func itemLine(event ingest.Event) string {
	label := event.Title
	if label == "" {
		label = event.Detail
	}
	switch event.Status {
	case ingest.StatusSuccess:
		return successStyle.Render("✓ " + label)
	case ingest.StatusSkipped:
		return skipStyle.Render("- " + label)
	case ingest.StatusError:
		return errorStyle.Render("✗ " + label)
	default:
		return "… " + label
	}
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("mailbrief ingest"))
	b.WriteString("\n\n")

	if m.done {
		b.WriteString(successStyle.Render("done"))
		if m.summary != nil {
			fmt.Fprintf(&b, "\n\nnewsletters %d  articles %d  notes %d  errors %d  characters %d",
				m.summary.Newsletters, m.summary.Articles, m.summary.Notes, m.summary.Errors, m.summary.TotalCharacters)
		}
		if m.discovered > 0 {
			fmt.Fprintf(&b, "\n%d unregistered senders discovered (see sources list)", m.discovered)
		}
		b.WriteString("\n\npress q to quit\n")
		return frameStyle.Render(b.String())
	}

	b.WriteString(phaseStyle.Render(string(m.phase)))
	if m.total > 0 {
		fmt.Fprintf(&b, "  %d/%d", m.current, m.total)
	}
	b.WriteString("\n\n")
	b.WriteString(strings.Join(m.recent, "\n"))
	b.WriteString("\n")

	return frameStyle.Render(b.String())
}
