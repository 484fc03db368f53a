package dashboard

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.dalton.dog/bubbleup"
	"go.uber.org/zap"

	dash "github.com/atsn/emily/dashboard"
	"github.com/atsn/emily/internal/debug"
	"github.com/atsn/emily/internal/layout"
	"github.com/atsn/emily/internal/markdown"
)

// Sections of the navigation.
var sections = []string{"Discussions", "Content", "Happenings", "Leads", "Settings"}

// Model is the bubbletea model of the dashboard.
type Model struct {
	// Core dependencies
	ctx        context.Context
	aggregator *dash.Aggregator
	log        *zap.Logger

	// State
	changes   <-chan struct{}
	unsub     func()
	snapshot  dash.Snapshot
	cellWidth int
	section   int

	// UI components
	viewport viewport.Model
	spinner  spinner.Model
	renderer *markdown.Renderer
	styles   Styles

	width    int
	height   int
	ready    bool
	quitting bool

	// Alert notifications.
	alert bubbleup.AlertModel
}

// New creates the dashboard model. cellWidth is the number of logical pixels of a column.
func New(ctx context.Context, aggregator *dash.Aggregator, cellWidth int) (*Model, error) {
	snapshot := aggregator.Snapshot()
	renderer, err := markdown.NewRenderer(layout.Breakpoint/layout.DefaultCellWidth, snapshot.Dark)
	if err != nil {
		return nil, err
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	changes, unsub := aggregator.Subscribe()
	alert := bubbleup.NewAlertModel(25, true, 1)

	m := &Model{
		ctx:        ctx,
		aggregator: aggregator,
		log:        debug.GetLogger().Named("tui"),
		changes:    changes,
		unsub:      unsub,
		snapshot:   snapshot,
		cellWidth:  cellWidth,
		spinner:    sp,
		renderer:   renderer,
		styles:     NewStyles(snapshot.Dark),
		alert:      *alert,
	}
	m.spinner.Style = m.styles.Spinner
	return m, nil
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.alert.Init(),
		waitForChange(m.changes),
	)
}

// Close releases the state subscription.
func (m *Model) Close() {
	m.unsub()
}
