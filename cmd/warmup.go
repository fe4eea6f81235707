package cmd

import (
	"context"
	"fmt"
	"io"

	statusadapter "github.com/bnema/gemini-pool/internal/adapters/render/status"
	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// warmingPool is the part of the pool the warm-up view drives.
type warmingPool interface {
	Ready(ctx context.Context) error
	Statuses() []domain.AccountStatus
}

type warmUpDoneMsg struct {
	err error
}

// warmUpModel spins while the pool warms up and refreshes its account
// counts on every tick.
type warmUpModel struct {
	spinner  spinner.Model
	progress func() statusadapter.Summary
	current  statusadapter.Summary
	task     tea.Cmd
	err      error
	done     bool
}

func newWarmUpModel(progress func() statusadapter.Summary, task tea.Cmd) warmUpModel {
	return warmUpModel{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
		),
		progress: progress,
		task:     task,
	}
}

func (m warmUpModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.task)
}

func (m warmUpModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		m.current = m.progress()
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case warmUpDoneMsg:
		m.done = true
		m.err = msg.err
		m.current = m.progress()
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m warmUpModel) View() string {
	if m.done {
		if m.err != nil {
			return ""
		}
		return "Warm-up finished: " + m.current.String() + "\n"
	}

	label := "Warming up accounts..."
	if m.current.Total > 0 {
		label = fmt.Sprintf("%s %d/%d warm", label, m.current.Warm, m.current.Total)
		if m.current.Quarantined > 0 {
			label = fmt.Sprintf("%s, %d quarantined", label, m.current.Quarantined)
		}
	}
	return m.spinner.View() + " " + label
}

// runWarmUp waits for pool to become ready while showing live account
// counts on output.
func runWarmUp(ctx context.Context, output io.Writer, pool warmingPool) error {
	progress := func() statusadapter.Summary {
		return statusadapter.Summarize(pool.Statuses())
	}
	task := func() tea.Msg {
		return warmUpDoneMsg{err: pool.Ready(ctx)}
	}

	finalModel, err := tea.NewProgram(
		newWarmUpModel(progress, task),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	).Run()
	if err != nil {
		return err
	}

	result, ok := finalModel.(warmUpModel)
	if !ok {
		return fmt.Errorf("unexpected final warm-up model type %T", finalModel)
	}
	return result.err
}
