package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"i4.energy/across/fieldctl/irrigation"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for a running controller",
	Long: `Monitor a running controller (see --server) in an interactive
terminal UI.

The status panel refreshes every second. Commands typed at the prompt use
the SMS grammar (e.g. "QUERY 3", "HOLD 2") and run as the local operator.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	p := tea.NewProgram(initialMonitorModel(NewClient(config.ServerURL)), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// maxReplies is the number of command replies kept on screen.
const maxReplies = 8

type monitorTickMsg time.Time

type statusMsg struct {
	status irrigation.Status
	err    error
}

type replyMsg struct {
	command string
	reply   string
	err     error
}

type monitorModel struct {
	client   *Client
	status   irrigation.Status
	err      error
	input    textinput.Model
	replies  []replyMsg
	width    int
	quitting bool
}

func initialMonitorModel(client *Client) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "QUERY 1"
	ti.CharLimit = maxCommandLength
	ti.Width = 40
	ti.Focus()

	return monitorModel{
		client: client,
		input:  ti,
		width:  80,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.fetchStatus(), monitorTickCmd())
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) fetchStatus() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		status, err := client.Status(ctx)
		return statusMsg{status: status, err: err}
	}
}

func (m monitorModel) sendCommand(text string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		reply, err := client.Command(ctx, text)
		return replyMsg{command: text, reply: reply, err: err}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			return m, m.sendCommand(text)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case monitorTickMsg:
		return m, tea.Batch(m.fetchStatus(), monitorTickCmd())

	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
		}
		return m, nil

	case replyMsg:
		m.replies = append(m.replies, msg)
		if len(m.replies) > maxReplies {
			m.replies = m.replies[len(m.replies)-maxReplies:]
		}
		return m, m.fetchStatus()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(renderStatus(m.status))
	s.WriteString("\n")
	if m.err != nil {
		s.WriteString(errorStyle.Render("Connection error: " + m.err.Error()))
		s.WriteString("\n")
	}

	var log strings.Builder
	log.WriteString(headerStyle.Render("Commands"))
	for _, r := range m.replies {
		log.WriteString("\n")
		log.WriteString(labelStyle.Render("> " + r.command))
		log.WriteString("\n")
		if r.err != nil {
			log.WriteString(errorStyle.Render(r.err.Error()))
		} else {
			log.WriteString(strings.TrimSpace(strings.ReplaceAll(r.reply, "\r", "")))
		}
	}
	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(log.String()))
	s.WriteString("\n")

	s.WriteString(m.input.View())
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Enter=send Esc=quit", m.client.base)))
	return s.String()
}
