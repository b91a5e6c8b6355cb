// Package ui renders progress for the operator commands.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	titleStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).PaddingLeft(2)
)

// ErrInterrupted is returned when the operator cancels with ctrl+c.
var ErrInterrupted = errors.New("interrupted")

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title       string
	frame       int
	started     time.Time
	done        bool
	interrupted bool
	details     []string
	err         error
	cancel      context.CancelFunc
}

func tick() tea.Cmd {
	return tea.Tick(90*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(frames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.interrupted = true
			m.cancel()
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	if !m.done {
		if m.interrupted {
			return failStyle.Render("✗ ") + titleStyle.Render(m.title) + " interrupted\n"
		}
		elapsed := time.Since(m.started).Round(time.Second)
		return fmt.Sprintf("%s %s %s\n", spinnerStyle.Render(frames[m.frame]), titleStyle.Render(m.title), detailStyle.Render(elapsed.String()))
	}
	return Summary(m.title, m.details, m.err)
}

// Summary renders a finished step the same way Run does.
func Summary(title string, details []string, err error) string {
	var b strings.Builder
	if err != nil {
		b.WriteString(failStyle.Render("✗ ") + titleStyle.Render(title) + "\n")
	} else {
		b.WriteString(okStyle.Render("✓ ") + titleStyle.Render(title) + "\n")
	}
	for _, d := range details {
		b.WriteString(detailStyle.Render(d) + "\n")
	}
	if err != nil {
		b.WriteString(detailStyle.Render("error: "+err.Error()) + "\n")
	}
	return b.String()
}

// Run executes fn behind a spinner. When no terminal is available the spinner
// is skipped and fn still runs to completion.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := make(chan doneMsg, 1)
	p := tea.NewProgram(model{title: title, started: time.Now(), cancel: cancel})
	go func() {
		details, err := fn(ctx)
		result <- doneMsg{details: details, err: err}
		p.Send(doneMsg{details: details, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		res := <-result
		fmt.Print(Summary(title, res.details, res.err))
		return res.details, res.err
	}
	if m, ok := final.(model); ok && m.interrupted {
		res := <-result
		return res.details, ErrInterrupted
	}
	res := <-result
	return res.details, res.err
}
