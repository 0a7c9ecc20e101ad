package cli

import (
	"strings"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/tfreechat/tfreechat-go/internal/client"
)

// streamEventMsg carries one stream event into the bubbletea loop.
type streamEventMsg client.Event

// streamClosedMsg ends the loop; err is nil on a clean [DONE].
type streamClosedMsg struct {
	err error
}

// streamModel renders one in-flight generation: a spinner until the first
// delta, then the accumulated reasoning and text. The buffered content is
// display-only; the persisted reply is authoritative.
type streamModel struct {
	spinner   spinner.Model
	chatID    string
	messageID string
	reasoning strings.Builder
	text      strings.Builder
	started   bool
	done      bool
	err       error
}

func newStreamModel() streamModel {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	return streamModel{spinner: sp}
}

func (m streamModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m streamModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			m.err = errInterrupted
			return m, tea.Quit
		}

	case streamEventMsg:
		ev := client.Event(msg)
		switch ev.Type {
		case client.EventHead:
			m.chatID = ev.ChatID
			m.messageID = ev.MessageID
		case client.EventText:
			m.started = true
			m.text.WriteString(ev.Text)
		case client.EventReasoning:
			m.started = true
			m.reasoning.WriteString(ev.Reasoning)
		}
		return m, nil

	case streamClosedMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m streamModel) View() tea.View {
	var b strings.Builder

	if m.reasoning.Len() > 0 {
		b.WriteString(hintStyle().Render(m.reasoning.String()))
		b.WriteString("\n\n")
	}
	b.WriteString(m.text.String())

	switch {
	case m.done && m.err != nil:
		b.WriteString("\n")
		b.WriteString(errorStyle().Render("stream failed: " + m.err.Error()))
		b.WriteString("\n")
	case m.done:
		b.WriteString("\n")
		if m.chatID != "" {
			b.WriteString(hintStyle().Render("chat " + m.chatID))
			b.WriteString("\n")
		}
	case !m.started:
		b.WriteString(m.spinner.View())
		b.WriteString(hintStyle().Render(" waiting for model…"))
	}
	return tea.NewView(b.String())
}

var errInterrupted = interruptedError{}

type interruptedError struct{}

func (interruptedError) Error() string { return "interrupted" }

// renderStream runs the bubbletea loop while stream feeds it events.
// stream must call send for every event and finish by returning.
func renderStream(stream func(send func(client.Event)) error) error {
	p := tea.NewProgram(newStreamModel())

	go func() {
		err := stream(func(ev client.Event) {
			p.Send(streamEventMsg(ev))
		})
		p.Send(streamClosedMsg{err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(streamModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

// dim wraps text in the hint style; used by plain output paths too.
func dim(s string) string {
	return lipgloss.NewStyle().Faint(true).Render(s)
}
