// Package tui shows a billing-run preview before any file is written.
package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hourlog/invoicer/internal/invoicer"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Padding(1, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Padding(1, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Padding(1, 1)

	tableStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

// GenerateFunc runs the actual billing run once the user confirms.
type GenerateFunc func() (*invoicer.Result, error)

type generateDoneMsg struct {
	result *invoicer.Result
	err    error
}

type model struct {
	table      table.Model
	summaries  []invoicer.Summary
	generate   GenerateFunc
	generating bool
	done       bool
	status     string
	err        error
	width      int
	height     int
}

func newModel(summaries []invoicer.Summary, generate GenerateFunc) model {
	columns := []table.Column{
		{Title: "Recipient", Width: 20},
		{Title: "Positions", Width: 10},
		{Title: "Total", Width: 14},
		{Title: "File", Width: 36},
	}

	rows := make([]table.Row, 0, len(summaries))
	for _, s := range summaries {
		total := s.Sum
		if s.VAT {
			total = s.SumWithTax
		}
		file := s.File
		switch {
		case s.Reused:
			file = "(already issued as " + s.Number + ")"
		case s.Positions == 0:
			file = "(skipped: no positions)"
		}
		rows = append(rows, table.Row{
			s.Recipient,
			strconv.Itoa(s.Positions),
			s.Locale.FormatAmount(total),
			file,
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(len(rows)+1),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return model{table: t, summaries: summaries, generate: generate}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "enter":
			if m.generating || m.done {
				return m, tea.Quit
			}
			m.generating = true
			return m, m.runGenerate
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case generateDoneMsg:
		m.generating = false
		m.done = true
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.status = fmt.Sprintf("%d invoice(s) generated, %d skipped",
				len(msg.result.Generated), msg.result.SkippedEmpty)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m model) runGenerate() tea.Msg {
	result, err := m.generate()
	return generateDoneMsg{result: result, err: err}
}

func (m model) View() string {
	view := titleStyle.Render("Invoice preview") + "\n" +
		tableStyle.Render(m.table.View()) + "\n"

	switch {
	case m.err != nil:
		view += errorStyle.Render("Error: " + m.err.Error())
	case m.generating:
		view += statusStyle.Render("Generating...")
	case m.done:
		view += statusStyle.Render(m.status) + helpStyle.Render("press q to quit")
	default:
		view += helpStyle.Render("enter: generate invoices • q: quit")
	}
	return view
}

// Run shows the preview screen and blocks until the user quits.
func Run(summaries []invoicer.Summary, generate GenerateFunc) error {
	p := tea.NewProgram(newModel(summaries, generate), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
