package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"csvrag/internal/domain"
)

// PipelinePort is the TUI-facing subset of the dataset pipeline.
type PipelinePort interface {
	Ask(ctx context.Context, sess domain.Session, question string) (domain.Session, string, error)
	Summarize(ctx context.Context, sess domain.Session) (string, error)
	Embed(ctx context.Context, model string) (int, int, error)
	Preview(n int) (string, error)
	Summary() (string, error)
}

// ProgressMsg reports embedding progress from outside the update loop.
type ProgressMsg struct {
	Current int
	Total   int
}

type answerMsg struct {
	session domain.Session
	answer  string
	err     error
}

type summaryMsg struct {
	text string
	err  error
}

type embedMsg struct {
	chunks    int
	processed int
	err       error
}

type entry struct {
	sender string
	text   string
}

const previewRows = 20

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx      context.Context
	port     PipelinePort
	session  domain.Session
	models   []string
	file     string
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	log      []entry
	status   string
	busy     bool
	ready    bool
}

// New creates a chat model over a loaded pipeline. models lists the chat
// models accepted by /model.
func New(ctx context.Context, port PipelinePort, sess domain.Session, file string, models []string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the data, or /help"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	m := Model{
		ctx:      ctx,
		port:     port,
		session:  sess,
		models:   models,
		file:     file,
		input:    ti,
		viewport: vp,
		spinner:  sp,
		status:   "Ready",
	}
	m.system(fmt.Sprintf("Loaded %s. Type /embed for full retrieval, /help for commands.", file))
	return m
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and background results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 1 + 1 + ih + bh // header, status
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-1)
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.Type {
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			if m.busy {
				m.status = "Busy, wait for the current operation to finish"
				return m, nil
			}
			m.input.SetValue("")
			return m.submit(line)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.fail(msg.err)
			return m, nil
		}
		m.session = msg.session
		m.add("Bot", msg.answer)
		m.status = "Ready"
		return m, nil
	case summaryMsg:
		m.busy = false
		if msg.err != nil {
			m.fail(msg.err)
			return m, nil
		}
		m.add("Bot", msg.text)
		m.status = "Ready"
		return m, nil
	case embedMsg:
		m.busy = false
		if msg.err != nil {
			m.fail(msg.err)
			return m, nil
		}
		m.system(fmt.Sprintf("Embedded %d of %d chunks", msg.processed, msg.chunks))
		m.status = "Embeddings ready"
		return m, nil
	case ProgressMsg:
		m.status = fmt.Sprintf("Embedding %d/%d", msg.Current, msg.Total)
		return m, nil
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	if !strings.HasPrefix(line, "/") {
		m.add("You", line)
		return m.start("Thinking...", m.askCmd(line))
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.system("Commands: /embed /summarize /clear /model <name> /models /preview /stats /quit")
	case "/embed":
		return m.start("Generating embeddings...", m.embedCmd())
	case "/summarize":
		m.add("You", "Generate a comprehensive summary")
		return m.start("Analyzing...", m.summarizeCmd())
	case "/clear":
		m.session = m.session.Cleared()
		m.log = nil
		m.system("Chat cleared!")
	case "/models":
		m.system("Models: " + strings.Join(m.models, ", ") + " (current: " + m.session.ChatModel + ")")
	case "/model":
		if len(fields) != 2 {
			m.system("Usage: /model <name>")
			break
		}
		m.session = m.session.WithModel(fields[1])
		m.system("Switched to " + fields[1])
	case "/preview":
		out, err := m.port.Preview(previewRows)
		if err != nil {
			m.fail(err)
			break
		}
		m.system(out)
	case "/stats":
		out, err := m.port.Summary()
		if err != nil {
			m.fail(err)
			break
		}
		m.system(out)
	default:
		m.system("Unknown command " + fields[0])
	}
	return m, nil
}

func (m Model) start(status string, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	m.busy = true
	m.status = status
	return m, tea.Batch(cmd, m.spinner.Tick)
}

func (m Model) askCmd(question string) tea.Cmd {
	ctx, port, sess := m.ctx, m.port, m.session
	return func() tea.Msg {
		next, answer, err := port.Ask(ctx, sess, question)
		return answerMsg{session: next, answer: answer, err: err}
	}
}

func (m Model) summarizeCmd() tea.Cmd {
	ctx, port, sess := m.ctx, m.port, m.session
	return func() tea.Msg {
		text, err := port.Summarize(ctx, sess)
		return summaryMsg{text: text, err: err}
	}
}

func (m Model) embedCmd() tea.Cmd {
	ctx, port, model := m.ctx, m.port, m.session.EmbeddingModel
	return func() tea.Msg {
		chunks, processed, err := port.Embed(ctx, model)
		return embedMsg{chunks: chunks, processed: processed, err: err}
	}
}

func (m *Model) add(sender, text string) {
	m.log = append(m.log, entry{sender: sender, text: text})
	m.refresh()
}

func (m *Model) system(text string) { m.add("System", text) }

func (m *Model) fail(err error) {
	m.system("Error: " + err.Error())
	m.status = "Error"
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the transcript, input line and status.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("CSV Chat") + " " + dimStyle.Render(m.file+" · "+m.session.ChatModel)
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(status)
}

func (m Model) renderTranscript() string {
	if len(m.log) == 0 {
		return dimStyle.Render("No messages yet.")
	}
	width := max(10, m.viewport.Width-2)
	parts := make([]string, len(m.log))
	for i, e := range m.log {
		label := senderStyle(e.sender).Render(e.sender + ":")
		parts[i] = label + "\n" + lipgloss.NewStyle().Width(width).Render(e.text)
	}
	return strings.Join(parts, "\n\n")
}

func senderStyle(sender string) lipgloss.Style {
	switch sender {
	case "You":
		return userStyle
	case "Bot":
		return botStyle
	default:
		return systemStyle
	}
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	systemStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
