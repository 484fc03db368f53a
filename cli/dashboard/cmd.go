package dashboard

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/atsn/emily/app"
	dash "github.com/atsn/emily/dashboard"
	"github.com/atsn/emily/internal/layout"
)

// NewCmd instantiates and returns the dashboard command.
func NewCmd(a *app.App) *cobra.Command {
	var opts struct {
		Filter    string
		OpenPanel bool
		CellWidth int
	}
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Open the interactive dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			aggregator, err := newAggregator(ctx, a, opts.Filter, opts.OpenPanel)
			if err != nil {
				return err
			}
			go aggregator.Start(ctx)

			m, err := New(ctx, aggregator, opts.CellWidth)
			if err != nil {
				return errors.Wrap(err, "creating dashboard")
			}
			defer m.Close()

			p := tea.NewProgram(
				m,
				tea.WithAltScreen(),
				tea.WithContext(ctx),
				tea.WithMouseCellMotion(),
			)
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return errors.Wrap(err, "running dashboard")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Filter, "filter", "f", "", "initial message filter (all, emily, chase, leo)")
	cmd.Flags().BoolVarP(&opts.OpenPanel, "reminders", "p", true, "open the reminders panel")
	cmd.Flags().IntVar(&opts.CellWidth, "cell-width", a.Config.Dashboard.CellWidthPx, "logical pixels per terminal column")
	return cmd
}

// newAggregator applies the command flags to a fresh aggregator. Start is left to the caller.
func newAggregator(ctx context.Context, a *app.App, filter string, openPanel bool) (*dash.Aggregator, error) {
	aggregator := a.NewDashboard(layout.NewSelector(0))
	if filter != "" {
		if err := aggregator.SetFilter(filter); err != nil {
			return nil, err
		}
	}
	aggregator.SetPanelOpen(ctx, openPanel)
	return aggregator, nil
}
