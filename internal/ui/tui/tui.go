// Package tui renders a session's memory in an interactive viewer: the
// digest on top, the verbatim tail below, scrollable with the usual keys.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/recall/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	digestStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Italic(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5FAFFF")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#767676"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#767676"))
)

// Model is the bubbletea model for the session viewer.
type Model struct {
	SessionID string
	Digest    *store.Digest
	Turns     []store.Turn

	Viewport viewport.Model
	Ready    bool
	Quitting bool
	Width    int
	Height   int
}

// NewModel builds a viewer over a session snapshot.
func NewModel(sessionID string, digest *store.Digest, turns []store.Turn) Model {
	return Model{
		SessionID: sessionID,
		Digest:    digest,
		Turns:     turns,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			m.Quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		if !m.Ready {
			m.Viewport = viewport.New(msg.Width, msg.Height-4)
			m.Viewport.SetContent(m.renderHistory())
			m.Ready = true
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = msg.Height - 4
		}
	}

	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.Ready {
		return "\n  Loading session..."
	}

	header := titleStyle.Render(fmt.Sprintf(" recall: %s ", m.SessionID))
	footer := footerStyle.Render(fmt.Sprintf(" %d turns%s  (q to quit, arrows to scroll) ",
		len(m.Turns), m.digestNote()))

	view := fmt.Sprintf("%s\n%s\n%s", header, m.Viewport.View(), footer)
	if m.Quitting {
		return view + "\n"
	}
	return view
}

func (m Model) digestNote() string {
	if m.Digest == nil {
		return ", no digest"
	}
	return fmt.Sprintf(", digest through #%d", m.Digest.CoversThrough)
}

func (m Model) renderHistory() string {
	var b strings.Builder

	if m.Digest != nil {
		b.WriteString(digestStyle.Render(fmt.Sprintf("[digest through #%d] %s", m.Digest.CoversThrough, m.Digest.Content)))
		b.WriteString("\n\n")
	}

	for _, turn := range m.Turns {
		label := fmt.Sprintf("#%d %s", turn.Seq, turn.Role)
		switch turn.Role {
		case store.RoleUser:
			b.WriteString(userStyle.Render(label))
		case store.RoleSystem:
			b.WriteString(systemStyle.Render(label))
		default:
			b.WriteString(assistantStyle.Render(label))
		}
		b.WriteString("\n")
		b.WriteString(turn.Content)
		b.WriteString("\n\n")
	}

	if m.Digest == nil && len(m.Turns) == 0 {
		b.WriteString(systemStyle.Render("(empty session)"))
	}
	return b.String()
}

// Run opens the viewer in the alternate screen and blocks until quit.
func Run(sessionID string, digest *store.Digest, turns []store.Turn) error {
	p := tea.NewProgram(NewModel(sessionID, digest, turns), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
