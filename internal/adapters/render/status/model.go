package status

import (
	"errors"
	"io"
	"slices"

	"github.com/bnema/gemini-pool/internal/domain"
	tea "github.com/charmbracelet/bubbletea"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

type renderReadyMsg struct{}

// model renders the pool table in a single update. Available accounts are
// listed before quarantined ones; file order is kept within each group.
type model struct {
	statuses []domain.AccountStatus
	summary  Summary
	opts     RenderOptions
	styles   styles
	output   string
}

func newModel(statuses []domain.AccountStatus, opts RenderOptions) model {
	ordered := slices.Clone(statuses)
	slices.SortStableFunc(ordered, func(a, b domain.AccountStatus) int {
		switch {
		case a.Available == b.Available:
			return 0
		case a.Available:
			return -1
		default:
			return 1
		}
	})

	return model{
		statuses: ordered,
		summary:  Summarize(statuses),
		opts:     opts,
		styles:   newStyles(),
	}
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg { return renderReadyMsg{} }
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if _, ok := msg.(renderReadyMsg); !ok {
		return m, nil
	}
	m.output = renderView(m.statuses, m.summary, m.opts, m.styles)
	return m, tea.Quit
}

func (m model) View() string {
	return m.output
}

// Render draws the pool table once and returns it as a string.
func Render(statuses []domain.AccountStatus, opts RenderOptions) (string, error) {
	finalModel, err := tea.NewProgram(
		newModel(statuses, opts),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	).Run()
	if err != nil {
		return "", err
	}

	rendered, ok := finalModel.(model)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}
	return rendered.View(), nil
}
