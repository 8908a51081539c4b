package cli

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/SachiPatankar/buildasquad-sub000/internal/cache"
	"github.com/SachiPatankar/buildasquad-sub000/internal/models"
	"github.com/SachiPatankar/buildasquad-sub000/internal/notify"
	"github.com/SachiPatankar/buildasquad-sub000/internal/session"
)

// Theme holds the color scheme for the chat view.
type Theme struct {
	Sender  lipgloss.Color
	Meta    lipgloss.Color
	Pending lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Sender:  lipgloss.Color("#5FAFD7"), // light blue
	Meta:    lipgloss.Color("#6C6C6C"), // dim gray
	Pending: lipgloss.Color("#AFAF5F"), // muted yellow
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) senderStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Sender).Bold(true)
}

func (t Theme) metaStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Meta)
}

func (t Theme) pendingStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Pending).Italic(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// syncMsg signals that the cache or pending list changed.
type syncMsg struct{}

// openedMsg carries the result of the initial Open call.
type openedMsg struct{ err error }

// actionMsg carries the result of a send/edit/delete/retry.
type actionMsg struct{ err error }

// chatModel is the bubbletea model for the live conversation view.
type chatModel struct {
	ctx            context.Context
	ctrl           *session.Controller
	cache          *cache.Cache
	store          *notify.Store
	conversationID string

	input    textinput.Model
	theme    Theme
	loading  bool
	quitting bool
	err      error
	// lastErr shows transient action failures without quitting the view.
	lastErr error
}

func newChatModel(ctx context.Context, ctrl *session.Controller, msgCache *cache.Cache, store *notify.Store, conversationID string) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Message (enter to send, esc to leave)"
	ti.Focus()

	return chatModel{
		ctx:            ctx,
		ctrl:           ctrl,
		cache:          msgCache,
		store:          store,
		conversationID: conversationID,
		input:          ti,
		theme:          defaultTheme,
		loading:        true,
	}
}

// Init opens the conversation in the background.
func (m chatModel) Init() tea.Cmd {
	return m.openConversation()
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.SetValue("")
			m.lastErr = nil
			return m, m.dispatch(line)
		}

	case openedMsg:
		m.loading = false
		if msg.err != nil {
			// History fetch failure: surfaced once, view exits Idle.
			m.err = msg.err
			return m, tea.Quit
		}
		return m, nil

	case actionMsg:
		// Failed sends stay visible in the pending list; other failures
		// show once on the status line.
		m.lastErr = msg.err
		return m, nil

	case syncMsg:
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the conversation.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m chatModel) renderContent() string {
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("✗ %v\n", m.err))
	}
	if m.loading {
		return fmt.Sprintf("Opening %s...\n", m.conversationID)
	}

	var b strings.Builder

	header := fmt.Sprintf("%s — %d unread elsewhere", m.conversationID, m.store.TotalUnread())
	b.WriteString(m.theme.metaStyle().Render(header) + "\n\n")

	msgs := m.cache.Messages(m.conversationID)
	if len(msgs) == 0 {
		b.WriteString(m.theme.hintStyle().Render("No messages yet.") + "\n")
	}
	for _, msg := range msgs {
		b.WriteString(m.renderMessage(msg))
	}

	for _, p := range m.ctrl.Pending() {
		b.WriteString(m.renderPending(p))
	}

	if m.lastErr != nil {
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("✗ %v", m.lastErr)) + "\n")
	}

	b.WriteString("\n" + m.input.View() + "\n")
	return b.String()
}

func (m chatModel) renderMessage(msg models.Message) string {
	ts := m.theme.metaStyle().Render(msg.CreatedAt.Local().Format("15:04"))
	sender := m.theme.senderStyle().Render(msg.SenderID)

	if msg.Deleted {
		return fmt.Sprintf("%s %s %s\n", ts, sender, m.theme.hintStyle().Render("(deleted)"))
	}

	var suffix string
	if msg.EditedAt != nil {
		suffix = " " + m.theme.metaStyle().Render("(edited)")
	}
	if msg.ReplyTo != nil {
		suffix += " " + m.theme.metaStyle().Render("↩ "+*msg.ReplyTo)
	}
	return fmt.Sprintf("%s %s: %s%s\n", ts, sender, msg.Content, suffix)
}

func (m chatModel) renderPending(p models.Outgoing) string {
	switch p.State {
	case models.OutgoingFailed:
		return m.theme.errorStyle().Render(
			fmt.Sprintf("      you: %s  ✗ failed — /retry %s", p.Content, p.TempID)) + "\n"
	default:
		return m.theme.pendingStyle().Render(
			fmt.Sprintf("      you: %s  … sending", p.Content)) + "\n"
	}
}

// dispatch turns an input line into a controller call. Lines starting with
// '/' are commands; everything else is a plain send.
func (m chatModel) dispatch(line string) tea.Cmd {
	return func() tea.Msg {
		var err error
		switch {
		case strings.HasPrefix(line, "/reply "):
			id, text, ok := splitIDArg(strings.TrimPrefix(line, "/reply "))
			if !ok {
				err = fmt.Errorf("usage: /reply <message-id> <text>")
				break
			}
			err = m.ctrl.Reply(m.ctx, id, text)
		case strings.HasPrefix(line, "/edit "):
			id, text, ok := splitIDArg(strings.TrimPrefix(line, "/edit "))
			if !ok {
				err = fmt.Errorf("usage: /edit <message-id> <text>")
				break
			}
			err = m.ctrl.Edit(m.ctx, id, text)
		case strings.HasPrefix(line, "/delete "):
			err = m.ctrl.Delete(m.ctx, strings.TrimSpace(strings.TrimPrefix(line, "/delete ")))
		case strings.HasPrefix(line, "/retry "):
			err = m.ctrl.Retry(m.ctx, strings.TrimSpace(strings.TrimPrefix(line, "/retry ")))
		default:
			err = m.ctrl.Send(m.ctx, line)
		}
		return actionMsg{err: err}
	}
}

func splitIDArg(s string) (id, rest string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(s), " ", 2)
	if len(parts) != 2 || parts[0] == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// openConversation runs the initial Open in a command goroutine so the
// view renders while history loads.
func (m chatModel) openConversation() tea.Cmd {
	return func() tea.Msg {
		return openedMsg{err: m.ctrl.Open(m.ctx, m.conversationID)}
	}
}

// runChatView runs the interactive chat view until the user leaves.
func runChatView(ctx context.Context, ctrl *session.Controller, msgCache *cache.Cache, store *notify.Store, conversationID string) error {
	model := newChatModel(ctx, ctrl, msgCache, store, conversationID)
	p := tea.NewProgram(model)

	// Re-render on every cache, pending-list or counter change.
	ctrl.OnUpdate = func() { p.Send(syncMsg{}) }
	store.Subscribe(func() { p.Send(syncMsg{}) })

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("chat view error: %w", err)
	}

	if m, ok := finalModel.(chatModel); ok && m.err != nil {
		return m.err
	}
	return nil
}
