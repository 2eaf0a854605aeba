package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"ragchat/internal/backend"
	"ragchat/internal/domain"
	"ragchat/internal/session"
)

// replyMsg carries the outcome of one backend call.
type replyMsg struct {
	utterance string
	reply     domain.Reply
	err       error
}

// savedMsg reports the session snapshot written on exit.
type savedMsg struct {
	path string
	err  error
}

// Model is the Bubble Tea model for the chat UI.
type Model struct {
	ctx        context.Context
	backend    backend.Backend
	session    *session.Session
	input      textinput.Model
	viewport   viewport.Model
	transcript []string
	summary    string
	status     string
	busy       bool
	ready      bool
	SavedPath  string
}

// New creates a chat model. The session receives both turns of every
// successful exchange and is persisted when the user says bye or exit.
func New(ctx context.Context, b backend.Backend, sess *session.Session, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "You: "
	ti.Placeholder = "Say something, or bye to quit"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		backend:  b,
		session:  sess,
		input:    ti,
		viewport: vp,
		summary:  summary,
		status:   fmt.Sprintf("Ready (%s backend). Type bye or exit to end the conversation.", b.Kind()),
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and backend events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 2 + 1 + ih + 1 // header + summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil
	case replyMsg:
		m.busy = false
		if msg.err != nil {
			log.Error().Err(msg.err).Msg("chat failed")
			m.status = "Error: " + msg.err.Error()
			m.transcript = append(m.transcript, errorStyle.Render("(no reply: "+msg.err.Error()+")"))
			m.refresh()
			return m, nil
		}
		if err := m.record(msg); err != nil {
			m.status = "Error: " + err.Error()
		} else {
			m.status = fmt.Sprintf("%d turns", m.session.Len())
		}
		m.transcript = append(m.transcript, botStyle.Render("Bot: ")+msg.reply.Text)
		if msg.reply.RetrievedContext != "" {
			m.transcript = append(m.transcript, contextStyle.Render(highlightBestSentence(msg.reply.RetrievedContext, msg.utterance)))
		}
		m.refresh()
		return m, nil
	case savedMsg:
		if msg.err != nil {
			m.status = "Error saving conversation: " + msg.err.Error()
		} else {
			m.SavedPath = msg.path
			m.status = "Goodbye! Conversation saved to " + msg.path
		}
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}
	}
	var cmd tea.Cmd
	m.viewport, _ = m.viewport.Update(msg)
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.busy {
		return m, nil
	}
	m.input.Reset()
	if isFarewell(text) {
		m.busy = true
		m.status = "Saving conversation..."
		return m, persist(m.session)
	}
	m.busy = true
	m.status = "Thinking..."
	m.transcript = append(m.transcript, userStyle.Render("You: ")+text)
	m.refresh()
	return m, chat(m.ctx, m.backend, m.session.History(), text)
}

// record appends the user turn and then the assistant turn carrying the
// reply metadata.
func (m Model) record(msg replyMsg) error {
	if err := m.session.AppendTurn(domain.SpeakerUser, msg.utterance, nil); err != nil {
		return err
	}
	return m.session.AppendTurn(domain.SpeakerAssistant, msg.reply.Text, msg.reply.Meta())
}

func (m *Model) refresh() {
	if len(m.transcript) == 0 {
		m.viewport.SetContent("No messages yet.")
		return
	}
	m.viewport.SetContent(strings.Join(m.transcript, "\n\n"))
	m.viewport.GotoBottom()
}

// View renders the TUI layout and transcript.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("RAG Chat")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := inputBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + transcript + "\n" + input + "\n" + status
}

func chat(ctx context.Context, b backend.Backend, history []domain.Turn, utterance string) tea.Cmd {
	return func() tea.Msg {
		reply, err := b.Chat(ctx, history, utterance)
		return replyMsg{utterance: utterance, reply: reply, err: err}
	}
}

func persist(sess *session.Session) tea.Cmd {
	return func() tea.Msg {
		path, err := sess.Persist("")
		return savedMsg{path: path, err: err}
	}
}

func isFarewell(s string) bool {
	switch strings.ToLower(s) {
	case "bye", "exit":
		return true
	}
	return false
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	contextStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).PaddingLeft(2)
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe      = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe         = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence marks the sentence of text sharing the most words
// with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
