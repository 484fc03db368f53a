package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	dash "github.com/atsn/emily/dashboard"
	"github.com/atsn/emily/internal/layout"
	"github.com/atsn/emily/internal/session"
	"github.com/atsn/emily/internal/types"
)

type fakeSessions struct {
	mu      sync.Mutex
	current *session.Session
}

func (f *fakeSessions) Current(context.Context) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeSessions) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return "", nil
	}
	return f.current.AccessToken, nil
}

func (f *fakeSessions) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = nil
	return nil
}

type staticConversations []*types.Conversation

func (s staticConversations) ListConversations(context.Context) ([]*types.Conversation, error) {
	return s, nil
}

func newTestModel(t *testing.T, current *session.Session) (*Model, *dash.Aggregator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	at := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	aggregator := dash.New(&dash.Opts{
		Conversations: staticConversations{
			{ID: "1", CreatedAt: types.NewTimestamp(at), MessageType: types.MessageTypeUser, Content: "How are my leads?"},
			{ID: "2", CreatedAt: types.NewTimestamp(at.Add(time.Minute)), MessageType: types.MessageTypeAssistant, Content: "Three need a follow-up."},
		},
		Sessions:        &fakeSessions{current: current},
		Layout:          layout.NewSelector(0),
		Location:        time.UTC,
		ProfileFallback: &types.Profile{BusinessName: "Acme Realty"},
		Logger:          zaptest.NewLogger(t),
	})
	aggregator.Start(ctx)
	require.Eventually(t, func() bool {
		s := aggregator.Snapshot()
		return !s.Loading && (current == nil || len(s.Conversations) > 0)
	}, time.Second, 5*time.Millisecond)

	m, err := New(ctx, aggregator, layout.DefaultCellWidth)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, aggregator
}

func TestViewBeforeFirstResize(t *testing.T) {
	m, _ := newTestModel(t, nil)
	assert.Equal(t, "Initializing...", m.View())
}

func TestViewNotAuthenticated(t *testing.T) {
	m, _ := newTestModel(t, nil)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	view := m.View()
	assert.Contains(t, view, "Not Authenticated")
	assert.Contains(t, view, "Please log in to access the dashboard.")
}

func TestViewDesktop(t *testing.T) {
	m, aggregator := newTestModel(t, &session.Session{AccessToken: "token", UserID: "user-1"})
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, layout.Wide, aggregator.Snapshot().Mode)

	view := m.View()
	assert.Contains(t, view, "Acme Realty")
	assert.Contains(t, view, "Reminders")
	assert.Contains(t, view, "Leads to follow up")
	assert.Contains(t, view, "Discussions")
	assert.Contains(t, view, "January 2, 2024")
}

func TestViewMobile(t *testing.T) {
	m, aggregator := newTestModel(t, &session.Session{AccessToken: "token", UserID: "user-1"})
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	assert.Equal(t, layout.Narrow, aggregator.Snapshot().Mode)

	view := m.View()
	assert.Contains(t, view, "AI Marketing")
	assert.NotContains(t, view, "Reminders")
}

func TestViewChatHistory(t *testing.T) {
	m, aggregator := newTestModel(t, &session.Session{AccessToken: "token", UserID: "user-1"})
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	aggregator.ShowChatHistory(context.Background(), true)
	m.Update(stateChangedMsg{})
	view := m.View()
	assert.Contains(t, view, "Chat History")
	assert.Contains(t, view, "Three need a follow-up.")
}

func TestThemeChangeRestyles(t *testing.T) {
	m, aggregator := newTestModel(t, nil)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	dark := m.snapshot.Dark

	aggregator.ToggleTheme(context.Background())
	m.Update(stateChangedMsg{})
	assert.Equal(t, !dark, m.snapshot.Dark)
	assert.Equal(t, NewStyles(!dark).Palette, m.styles.Palette)
}

func TestQuit(t *testing.T) {
	m, _ := newTestModel(t, nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, m.View())
}
