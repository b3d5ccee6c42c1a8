package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/ffbridge/channel"
	"github.com/wippyai/ffbridge/protocol"
	"github.com/wippyai/ffbridge/worker"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// maxEvents bounds the event lines shown under a result.
const maxEvents = 12

type interactiveModel struct {
	ctx      context.Context
	client   *client
	state    modelState
	err      error
	result   string
	events   []string
	inputs   []textinput.Model
	selected int
	focusIdx int
	location string
}

type modelState int

const (
	stateSelectKind modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(ctx context.Context, c *client, location string) *interactiveModel {
	return &interactiveModel{
		ctx:      ctx,
		client:   c,
		location: location,
		state:    stateSelectKind,
	}
}

type callResultMsg struct {
	err    error
	result string
	events []string
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) kind() protocol.MessageType {
	return protocol.RequestTypes[m.selected]
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectKind && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectKind && m.selected < len(protocol.RequestTypes)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectKind:
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.send
				}
				m.state = stateInputArgs
				return m, nil

			case stateInputArgs:
				return m, m.send

			case stateShowResult:
				m.reset()
				return m, nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectKind
				m.inputs = nil
			case stateShowResult:
				m.reset()
			}
		}

	case callResultMsg:
		m.result = msg.result
		m.events = msg.events
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) reset() {
	m.state = stateSelectKind
	m.result = ""
	m.events = nil
	m.err = nil
	m.inputs = nil
}

func (m *interactiveModel) prepareInputs() {
	fields := requestFields[m.kind()]
	m.inputs = make([]textinput.Model, len(fields))
	for i, f := range fields {
		ti := textinput.New()
		ti.Placeholder = witTypeStr(f.witType)
		ti.Prompt = f.name + ": "
		ti.Width = 48
		if m.kind() == protocol.TypeLoad && f.name == "wasmURL" {
			ti.SetValue(m.location)
		}
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

// send runs as a tea.Cmd: it blocks until the worker answers.
func (m *interactiveModel) send() tea.Msg {
	kind := m.kind()
	v := values{}
	for i, f := range requestFields[kind] {
		v[f.name] = m.inputs[i].Value()
	}

	data, err := buildPayload(kind, v)
	if err != nil {
		return callResultMsg{err: err}
	}

	r, err := m.client.call(m.ctx, kind, data)
	if err != nil {
		return callResultMsg{err: err}
	}

	events := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		events = append(events, ev.Type.String()+" "+describe(ev))
	}
	if len(events) > maxEvents {
		events = append([]string{fmt.Sprintf("... %d earlier events", len(events)-maxEvents)}, events[len(events)-maxEvents:]...)
	}

	if msg, isErr := r.resp.Err(); isErr {
		return callResultMsg{err: fmt.Errorf("%s", msg), events: events}
	}
	return callResultMsg{result: describe(r.resp), events: events}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("ffworker"))
	b.WriteString(" ")
	b.WriteString(m.location)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectKind:
		b.WriteString("Select a request to send:\n\n")
		for i, kind := range protocol.RequestTypes {
			line := m.formatKind(kind)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter send • q quit"))

	case stateInputArgs:
		kind := m.kind()
		fields := requestFields[kind]
		b.WriteString(fmt.Sprintf("Sending %s\n\n", kindStyle.Render(kind.String())))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(witTypeStr(fields[i].witType)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter send • esc back"))

	case stateShowResult:
		b.WriteString(fmt.Sprintf("Response to %s:\n\n", kindStyle.Render(m.kind().String())))
		for _, ev := range m.events {
			b.WriteString(eventStyle.Render(ev))
			b.WriteString("\n")
		}
		if len(m.events) > 0 {
			b.WriteString("\n")
		}
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatKind(kind protocol.MessageType) string {
	var params []string
	for _, f := range requestFields[kind] {
		params = append(params, f.name+": "+typeStyle.Render(witTypeStr(f.witType)))
	}
	return kindStyle.Render(kind.String()) + "(" + strings.Join(params, ", ") + ")"
}

// runInteractive serves an in-process worker and drives it from a terminal UI.
func runInteractive(ctx context.Context, w *worker.Worker, location string) error {
	page, side := channel.Pipe(64)
	defer page.Close()

	serveErr := make(chan error, 1)
	go func() { serveErr <- w.Serve(ctx, side) }()

	p := tea.NewProgram(newInteractiveModel(ctx, &client{port: page}, location), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}

	page.Close()
	return <-serveErr
}
