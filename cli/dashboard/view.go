package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/atsn/emily/internal/conversation"
	"github.com/atsn/emily/internal/layout"
)

var filterLabels = map[string]string{
	conversation.FilterAll:   "All",
	conversation.FilterEmily: "Emily",
	conversation.FilterChase: "Chase",
	conversation.FilterLeo:   "Leo",
}

const (
	helpWide   = "t theme • p reminders • h history • 1-4 filter • r refresh • L logout • q quit"
	helpNarrow = "t theme • h history • tab section • q quit"
)

// View renders the dashboard.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Initializing..."
	}

	var content string
	switch {
	case m.snapshot.Loading:
		content = m.center(m.spinner.View() + " Loading...")
	case m.snapshot.NotAuthenticated():
		content = m.center(lipgloss.JoinVertical(lipgloss.Center,
			m.styles.Title.Render("Not Authenticated"),
			"",
			"Please log in to access the dashboard.",
			m.styles.Dim.Render("Run `emily login` to sign in."),
		))
	case m.snapshot.Mode == layout.Narrow:
		content = m.mobileView()
	default:
		content = m.desktopView()
	}
	return m.alert.Render(content)
}

func (m *Model) center(content string) string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

func (m *Model) desktopView() string {
	body := []string{m.sidebarView(), m.mainView()}
	if m.snapshot.PanelOpen {
		body = append(body, m.panelView())
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, body...),
		m.styles.Footer.Render(helpWide),
	)
}

func (m *Model) mobileView() string {
	nav := lipgloss.JoinHorizontal(lipgloss.Center,
		m.styles.Title.Render("Emily"),
		m.styles.Dim.Render(" AI Marketing  "),
		m.styles.NavFocus.Render(sections[m.section]),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Width(m.width).Render(nav),
		m.chatAreaView(),
		m.styles.Footer.Render(helpNarrow),
	)
}

func (m *Model) sidebarView() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Emily") + "\n")
	b.WriteString(m.styles.Dim.Render("AI Marketing") + "\n\n")
	for i, section := range sections {
		style := m.styles.NavItem
		if i == m.section {
			style = m.styles.NavFocus
		}
		b.WriteString(style.Render(section) + "\n")
	}
	b.WriteString("\n" + m.styles.NavItem.Render("Logout"))
	_, height := m.chatSize()
	return m.styles.Sidebar.Height(height + HeaderHeight - 2).Render(b.String())
}

func (m *Model) mainView() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.headerView(), m.chatAreaView())
}

func (m *Model) headerView() string {
	chips := make([]string, 0, len(conversation.Filters)+2)
	for _, filter := range conversation.Filters {
		style := m.styles.Chip
		if filter == m.snapshot.Filter {
			style = m.styles.ActiveChip
		}
		chips = append(chips, style.Render(filterLabels[filter]))
	}
	chips = append(chips, m.styles.Dim.Render("| "), m.styles.Title.Render(m.snapshot.DisplayName()))
	width, _ := m.chatSize()
	return m.styles.Header.Width(width).Render(lipgloss.JoinHorizontal(lipgloss.Center, chips...))
}

// chatAreaView shows the conversation or the chat history overlay.
func (m *Model) chatAreaView() string {
	if m.snapshot.ShowChatHistory {
		return m.historyView()
	}
	return m.styles.Chat.Render(m.viewport.View())
}

func (m *Model) panelView() string {
	count := "..."
	if !m.snapshot.OverdueLeadsLoading {
		count = fmt.Sprintf("%d", m.snapshot.OverdueLeads)
	}
	lines := []string{
		m.styles.Title.Render("Reminders"),
		"",
		m.styles.ReminderCount.Render(count),
		m.styles.Dim.Render("Leads to follow up"),
	}
	if !m.snapshot.OverdueLeadsLoading && m.snapshot.OverdueLeads > 0 {
		lines = append(lines, "", m.styles.Overdue.Render("You have overdue follow-ups"))
	}
	_, height := m.chatSize()
	return m.styles.Panel.Height(height + HeaderHeight - 2).Render(strings.Join(lines, "\n"))
}

func (m *Model) historyView() string {
	width, height := m.chatSize()
	lines := []string{m.styles.Title.Render("Chat History"), ""}
	groups := m.snapshot.Groups(m.aggregator.Location())
	switch {
	case m.snapshot.LoadingConversations && len(groups) == 0:
		lines = append(lines, m.styles.Dim.Render("Loading..."))
	case len(groups) == 0:
		lines = append(lines, m.styles.Dim.Render("No conversations yet"))
	default:
		for _, group := range groups {
			last := group.LastConversation
			lines = append(lines,
				m.styles.DateLabel.Render(group.DateLabel),
				m.senderLabel(last.IsUser())+" "+conversation.Preview(last.Content),
				"",
			)
		}
	}
	lines = append(lines, m.styles.Dim.Render("esc to close"))
	return m.styles.Chat.Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func (m *Model) senderLabel(user bool) string {
	if user {
		return m.styles.UserLabel.Render("You:")
	}
	return m.styles.EmilyLabel.Render("Emily:")
}

// renderChat renders the visible conversations grouped by day, oldest day last.
func (m *Model) renderChat() string {
	groups := m.snapshot.Groups(m.aggregator.Location())
	if len(groups) == 0 {
		if m.snapshot.LoadingConversations {
			return m.styles.Dim.Render("Loading...")
		}
		return m.styles.Dim.Render("No conversations yet")
	}

	var b strings.Builder
	// Oldest day first so the latest messages sit at the bottom.
	for i := len(groups) - 1; i >= 0; i-- {
		group := groups[i]
		b.WriteString(m.styles.DateLabel.Render(group.DateLabel) + "\n")
		for _, c := range group.Conversations {
			style := m.styles.EmilyMessage
			if c.IsUser() {
				style = m.styles.UserMessage
			}
			content := strings.TrimSpace(m.renderer.Render(c.ID, c.Content))
			b.WriteString(m.senderLabel(c.IsUser()) + "\n")
			b.WriteString(style.Render(content) + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}
