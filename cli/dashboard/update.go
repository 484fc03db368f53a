package dashboard

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.dalton.dog/bubbleup"
	"go.uber.org/zap"

	dash "github.com/atsn/emily/dashboard"
	"github.com/atsn/emily/internal/conversation"
	"github.com/atsn/emily/internal/layout"
)

// KeyMap of the dashboard.
type KeyMap struct {
	Quit          key.Binding
	ToggleTheme   key.Binding
	TogglePanel   key.Binding
	ToggleHistory key.Binding
	CloseHistory  key.Binding
	Refresh       key.Binding
	NextSection   key.Binding
	Logout        key.Binding
	Filters       []key.Binding
}

var keyMap = KeyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
	),
	ToggleTheme: key.NewBinding(
		key.WithKeys("t"),
	),
	TogglePanel: key.NewBinding(
		key.WithKeys("p"),
	),
	ToggleHistory: key.NewBinding(
		key.WithKeys("h"),
	),
	CloseHistory: key.NewBinding(
		key.WithKeys("esc"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
	),
	NextSection: key.NewBinding(
		key.WithKeys("tab"),
	),
	Logout: key.NewBinding(
		key.WithKeys("L"),
	),
	// One binding per filter, in display order.
	Filters: []key.Binding{
		key.NewBinding(key.WithKeys("1")),
		key.NewBinding(key.WithKeys("2")),
		key.NewBinding(key.WithKeys("3")),
		key.NewBinding(key.WithKeys("4")),
	},
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	// Always update the alert model with every message
	outAlert, alertCmd := m.alert.Update(msg)
	m.alert = outAlert.(bubbleup.AlertModel)
	if alertCmd != nil {
		cmds = append(cmds, alertCmd)
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.aggregator.Resize(layout.ColumnsToPixels(msg.Width, m.cellWidth))
		m.snapshot = m.aggregator.Snapshot()
		m.resize()
		m.ready = true
		m.refreshViewport()

	case stateChangedMsg:
		m.applySnapshot(m.aggregator.Snapshot())
		cmds = append(cmds, waitForChange(m.changes))

	case alertMsg:
		cmds = append(cmds, m.alert.NewAlertCmd(msg.key, msg.message))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keyMap.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keyMap.ToggleTheme):
			cmds = append(cmds, m.toggleThemeCmd())
		case key.Matches(msg, keyMap.TogglePanel):
			cmds = append(cmds, m.togglePanelCmd())
		case key.Matches(msg, keyMap.ToggleHistory):
			cmds = append(cmds, m.toggleHistoryCmd())
		case key.Matches(msg, keyMap.CloseHistory):
			if m.snapshot.ShowChatHistory {
				cmds = append(cmds, m.toggleHistoryCmd())
			}
		case key.Matches(msg, keyMap.Refresh):
			cmds = append(cmds, m.refreshCmd())
		case key.Matches(msg, keyMap.NextSection):
			m.section = (m.section + 1) % len(sections)
		case key.Matches(msg, keyMap.Logout):
			cmds = append(cmds, m.logoutCmd())
		default:
			for i, binding := range keyMap.Filters {
				if key.Matches(msg, binding) {
					cmds = append(cmds, m.setFilterCmd(conversation.Filters[i]))
				}
			}
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// applySnapshot adopts a new state, restyling when the theme flipped.
func (m *Model) applySnapshot(snapshot dash.Snapshot) {
	previous := m.snapshot
	m.snapshot = snapshot
	if previous.Dark != snapshot.Dark {
		m.styles = NewStyles(snapshot.Dark)
		m.spinner.Style = m.styles.Spinner
		if err := m.renderer.SetDark(snapshot.Dark); err != nil {
			m.log.Warn("restyling markdown", zap.Error(err))
		}
	}
	if previous.Mode != snapshot.Mode || previous.PanelOpen != snapshot.PanelOpen {
		m.resize()
	}
	m.refreshViewport()
}

// resize lays out the chat viewport for the current mode and terminal size.
func (m *Model) resize() {
	width, height := m.chatSize()
	if !m.ready {
		m.viewport = viewport.New(width, height)
	} else {
		m.viewport.Width = width
		m.viewport.Height = height
	}
	if err := m.renderer.SetWidth(width - 2*PreviewPadding); err != nil {
		m.log.Warn("resizing markdown", zap.Error(err))
	}
}

// chatSize is the size of the chat area.
func (m *Model) chatSize() (int, int) {
	width := m.width
	height := m.height - HeaderHeight - FooterHeight
	if m.snapshot.Mode == layout.Wide {
		width -= SidebarWidth + 1
		if m.snapshot.PanelOpen {
			width -= PanelWidth + 1
		}
	}
	return max(width, MinChatWidth), max(height, MinChatHeight)
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderChat())
	if atBottom {
		m.viewport.GotoBottom()
	}
}
