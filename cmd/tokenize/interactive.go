package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	tokenizers "github.com/wippyai/go-tokenizers"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	decodedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	tableStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#7D56F4"))
)

type interactiveModel struct {
	ctx     context.Context
	err     error
	tok     *tokenizers.Tokenizer
	opts    []tokenizers.EncodeOption
	input   textinput.Model
	table   table.Model
	decoded string
	count   int
	seq     int
}

type encodedMsg struct {
	err     error
	rows    []table.Row
	decoded string
	seq     int
}

func newInteractiveModel(ctx context.Context, tok *tokenizers.Tokenizer, opts []tokenizers.EncodeOption) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "type some text"
	ti.Prompt = "> "
	ti.Width = 60
	ti.Focus()

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: 4},
			{Title: "ID", Width: 8},
			{Title: "Token", Width: 20},
			{Title: "Span", Width: 10},
			{Title: "Special", Width: 7},
		}),
		table.WithHeight(12),
	)

	return &interactiveModel{
		ctx:   ctx,
		tok:   tok,
		opts:  opts,
		input: ti,
		table: t,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

// encodeCmd encodes text off the UI loop. seq lets Update drop stale results.
func (m *interactiveModel) encodeCmd(text string, seq int) tea.Cmd {
	return func() tea.Msg {
		if text == "" {
			return encodedMsg{seq: seq}
		}
		enc, err := m.tok.Encode(m.ctx, text, m.opts...)
		if err != nil {
			return encodedMsg{err: err, seq: seq}
		}
		defer enc.Close()

		snap, err := enc.Snapshot()
		if err != nil {
			return encodedMsg{err: err, seq: seq}
		}
		decoded, err := m.tok.Decode(m.ctx, snap.IDs)
		if err != nil {
			return encodedMsg{err: err, seq: seq}
		}

		rows := make([]table.Row, snap.Len())
		for i := range rows {
			rows[i] = table.Row{
				strconv.Itoa(i),
				strconv.FormatUint(uint64(snap.IDs[i]), 10),
				snap.Tokens[i],
				fmt.Sprintf("%d:%d", snap.Offsets[i].Start, snap.Offsets[i].End),
				strconv.FormatUint(uint64(snap.SpecialTokensMask[i]), 10),
			}
		}
		return encodedMsg{rows: rows, decoded: decoded, seq: seq}
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.table, cmd = m.table.Update(msg)
			return m, cmd
		}

	case encodedMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.err = msg.err
		if msg.err == nil {
			m.table.SetRows(msg.rows)
			m.decoded = msg.decoded
			m.count = len(msg.rows)
		}
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		m.seq++
		return m, tea.Batch(cmd, m.encodeCmd(after, m.seq))
	}
	return m, cmd
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Tokenizer"))
	b.WriteString(" ")
	b.WriteString(m.tok.Source().String())
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}

	b.WriteString(countStyle.Render(fmt.Sprintf("%d tokens", m.count)))
	b.WriteString("\n")
	b.WriteString(tableStyle.Render(m.table.View()))
	b.WriteString("\n")
	b.WriteString("decoded: ")
	b.WriteString(decodedStyle.Render(m.decoded))
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("type to encode • ↑/↓ scroll • esc quit"))

	return b.String()
}

func runInteractive(ctx context.Context, tok *tokenizers.Tokenizer, opts []tokenizers.EncodeOption) error {
	p := tea.NewProgram(newInteractiveModel(ctx, tok, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
