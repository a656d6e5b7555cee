package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docchat/internal/app"
	"docchat/internal/engine"
)

const sidebarWidth = 28

// Service is the TUI-facing subset of the document service.
type Service interface {
	FileNames() []string
	Ask(ctx context.Context, input app.AskInput) (*engine.Answer, error)
}

type answerMsg struct {
	question string
	answer   *engine.Answer
	err      error
}

// Model shows indexed documents on the left and the question box with the last answer on the
// right.
type Model struct {
	ctx      context.Context
	service  Service
	mode     string
	docs     []string
	selected int
	input    textinput.Model
	viewport viewport.Model
	answer   *engine.Answer
	question string
	status   string
	busy     bool
	ready    bool
	width    int
}

func New(ctx context.Context, service Service, mode string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the selected document and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	m := Model{
		ctx:      ctx,
		service:  service,
		mode:     mode,
		input:    ti,
		viewport: viewport.New(0, 0),
	}
	m.reload()
	return m
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m *Model) reload() {
	m.docs = m.service.FileNames()
	if m.selected >= len(m.docs) {
		m.selected = 0
	}
	if len(m.docs) == 0 {
		m.status = "No documents indexed yet. Use `docchat index <file>` first."
	} else {
		m.status = "Tab selects a document, Enter asks, Ctrl+R reloads, Esc quits."
	}
}

func (m Model) Selected() string {
	if len(m.docs) == 0 {
		return ""
	}
	return m.docs[m.selected]
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		_, fh := answerBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		vh := msg.Height - 2 - qh - 1 - fh
		m.viewport.Width = max(20, msg.Width-sidebarWidth-4)
		m.viewport.Height = max(3, vh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer = nil
		} else {
			m.status = fmt.Sprintf("Answered from %s", m.Selected())
			m.answer = msg.answer
			m.question = msg.question
		}
		m.viewport.SetContent(m.renderAnswer())
		m.viewport.GotoTop()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyTab:
			if len(m.docs) > 0 {
				m.selected = (m.selected + 1) % len(m.docs)
			}
			return m, nil
		case tea.KeyShiftTab:
			if len(m.docs) > 0 {
				m.selected = (m.selected - 1 + len(m.docs)) % len(m.docs)
			}
			return m, nil
		case tea.KeyCtrlR:
			m.reload()
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			return m.ask()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.input.Value())
	if q == "" || m.busy {
		return m, nil
	}
	doc := m.Selected()
	if doc == "" {
		m.status = "Select a document first."
		return m, nil
	}

	m.busy = true
	m.status = fmt.Sprintf("Asking %s...", doc)
	m.input.SetValue("")

	ctx, svc, mode := m.ctx, m.service, m.mode
	return m, func() tea.Msg {
		answer, err := svc.Ask(ctx, app.AskInput{FileName: doc, Question: q, Mode: mode})
		return answerMsg{question: q, answer: answer, err: err}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Chat with your documents")
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)

	right := lipgloss.JoinVertical(lipgloss.Left,
		answerBoxStyle.Render(m.viewport.View()),
		queryBoxStyle.Width(m.viewport.Width).Render(m.input.View()),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), right)
	return header + "\n" + body + "\n" + status
}

func (m Model) renderSidebar() string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Underline(true).Render("Documents"))
	b.WriteString("\n")
	for i, name := range m.docs {
		line := truncate(name, sidebarWidth-4)
		if i == m.selected {
			b.WriteString(selectedStyle.Render("● " + line))
		} else {
			b.WriteString("○ " + line)
		}
		b.WriteString("\n")
	}
	return sidebarStyle.Render(b.String())
}

func (m Model) renderAnswer() string {
	if m.answer == nil {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(questionStyle.Render("Q: " + m.question))
	b.WriteString("\n\n")
	b.WriteString(m.answer.Text)
	if len(m.answer.Sources) > 0 {
		b.WriteString("\n\n")
		b.WriteString(sourceStyle.Render("Sources"))
		for _, s := range m.answer.Sources {
			where := fmt.Sprintf("#%d", s.Seq)
			if page := s.Metadata["page"]; page != "" {
				where += " p." + page
			}
			b.WriteString(sourceStyle.Render(fmt.Sprintf("\n  %s %s score=%.3f", s.FileName, where, s.Score)))
		}
	}
	return lipgloss.NewStyle().Width(m.viewport.Width).Render(b.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

var (
	sidebarStyle   = lipgloss.NewStyle().Width(sidebarWidth).Border(lipgloss.RoundedBorder()).Padding(0, 1)
	answerBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	selectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	questionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)
