package dashboard

import (
	tea "github.com/charmbracelet/bubbletea"
	"go.dalton.dog/bubbleup"
	"go.uber.org/zap"
)

// stateChangedMsg is sent when the dashboard state changed.
type stateChangedMsg struct{}

// alertMsg asks for an alert once an action completed.
type alertMsg struct {
	key     string
	message string
}

// waitForChange waits for the next state change.
func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return stateChangedMsg{}
	}
}

// run performs a blocking dashboard action off the event loop.
func (m *Model) run(action func() string) tea.Cmd {
	return func() tea.Msg {
		message := action()
		if message == "" {
			return nil
		}
		return alertMsg{key: bubbleup.InfoKey, message: message}
	}
}

func (m *Model) toggleThemeCmd() tea.Cmd {
	return m.run(func() string {
		if m.aggregator.ToggleTheme(m.ctx) {
			return "Dark mode on"
		}
		return "Light mode on"
	})
}

func (m *Model) togglePanelCmd() tea.Cmd {
	return m.run(func() string {
		m.aggregator.TogglePanel(m.ctx)
		return ""
	})
}

func (m *Model) toggleHistoryCmd() tea.Cmd {
	show := !m.snapshot.ShowChatHistory
	return m.run(func() string {
		m.aggregator.ShowChatHistory(m.ctx, show)
		return ""
	})
}

func (m *Model) refreshCmd() tea.Cmd {
	return m.run(func() string {
		m.aggregator.Refresh(m.ctx)
		return "Refreshed"
	})
}

func (m *Model) setFilterCmd(filter string) tea.Cmd {
	return m.run(func() string {
		if err := m.aggregator.SetFilter(filter); err != nil {
			m.log.Warn("setting filter", zap.Error(err))
			return ""
		}
		return "Showing " + filter
	})
}

func (m *Model) logoutCmd() tea.Cmd {
	return m.run(func() string {
		if err := m.aggregator.Logout(m.ctx); err != nil {
			m.log.Error("logging out", zap.Error(err))
			return "Logout failed"
		}
		return "Logged out"
	})
}
