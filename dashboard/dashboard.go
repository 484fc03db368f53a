package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/scylladb/go-set/strset"
	"go.uber.org/zap"

	"github.com/atsn/emily/internal/api"
	"github.com/atsn/emily/internal/conversation"
	"github.com/atsn/emily/internal/layout"
	"github.com/atsn/emily/internal/leads"
	"github.com/atsn/emily/internal/session"
	"github.com/atsn/emily/internal/theme"
	"github.com/atsn/emily/internal/types"
)

// DefaultDisplayName is shown when neither the profile nor the session name the user.
const DefaultDisplayName = "Dashboard"

// ErrUnknownFilter is returned by SetFilter for an unsupported filter.
var ErrUnknownFilter = errors.New("unknown message filter")

var validFilters = strset.New(conversation.Filters...)

// ConversationLister lists the conversation history of the signed in user.
type ConversationLister interface {
	ListConversations(ctx context.Context) ([]*types.Conversation, error)
}

// ProfileLoader loads the profile of a user.
type ProfileLoader interface {
	Load(ctx context.Context, userID string) (*types.Profile, error)
}

// Sessions gives access to the signed in user.
type Sessions interface {
	Current(ctx context.Context) (*session.Session, error)
	Token(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

// Opts configures an Aggregator.
type Opts struct {
	Conversations ConversationLister
	Profiles      ProfileLoader
	Leads         leads.Lister
	Sessions      Sessions
	Theme         *theme.Manager
	// Layout defaults to a wide viewport.
	Layout *layout.Selector
	// Location used to group conversations. Defaults to time.Local.
	Location *time.Location
	// DefaultFilter is the message filter selected initially. Defaults to all.
	DefaultFilter string
	// ProfileFallback is used when the profile cannot be loaded. It may be nil.
	ProfileFallback *types.Profile
	// LeadsInterval overrides the overdue lead refresh interval.
	LeadsInterval time.Duration
	// Metrics receives the overdue lead count. It may be nil.
	Metrics *api.Metrics
	Logger  *zap.Logger
}

// Snapshot is a read-only view of the dashboard state.
type Snapshot struct {
	// Session is nil when nobody is signed in.
	Session *session.Session
	// Loading is set until the session and profile are known.
	Loading bool
	Profile *types.Profile

	PanelOpen       bool
	ShowChatHistory bool
	Filter          string
	Dark            bool
	Mode            layout.Mode

	Conversations        []*types.Conversation
	LoadingConversations bool

	OverdueLeads        int
	OverdueLeadsLoading bool
}

// Authenticated is true when a user is signed in.
func (s Snapshot) Authenticated() bool {
	return s.Session != nil
}

// NotAuthenticated is true when the session is known to be absent.
func (s Snapshot) NotAuthenticated() bool {
	return s.Session == nil && !s.Loading
}

// DisplayName is the business name, else the user name, else DefaultDisplayName.
func (s Snapshot) DisplayName() string {
	if s.Profile != nil && s.Profile.BusinessName != "" {
		return s.Profile.BusinessName
	}
	if s.Session != nil && s.Session.Name != "" {
		return s.Session.Name
	}
	return DefaultDisplayName
}

// Visible returns the conversations passing the message filter.
func (s Snapshot) Visible() []*types.Conversation {
	return conversation.Filter(s.Conversations, s.Filter)
}

// Groups returns the visible conversations grouped by day in loc.
func (s Snapshot) Groups(loc *time.Location) []*conversation.DateGroup {
	return conversation.GroupByDate(s.Visible(), loc)
}

// Aggregator holds the dashboard state shared by the presentation shells.
type Aggregator struct {
	opts     *Opts
	logger   *zap.Logger
	layout   *layout.Selector
	location *time.Location

	mu    sync.Mutex
	state Snapshot
	// stopLeads stops the overdue lead refresher of the current session.
	stopLeads   func()
	refresher   *leads.Refresher
	// generation changes whenever the session starts or ends. Results of calls
	// issued under an older generation are dropped.
	generation  uint64
	subscribers map[int]chan struct{}
	nextID      int
}

// New returns an aggregator. Call Start to load the session.
func New(opts *Opts) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	selector := opts.Layout
	if selector == nil {
		selector = layout.NewSelector(layout.Breakpoint)
	}
	location := opts.Location
	if location == nil {
		location = time.Local
	}
	filter := opts.DefaultFilter
	if !validFilters.Has(filter) {
		filter = conversation.FilterAll
	}

	a := &Aggregator{
		opts:        opts,
		logger:      logger,
		layout:      selector,
		location:    location,
		subscribers: map[int]chan struct{}{},
		state: Snapshot{
			Loading:             true,
			PanelOpen:           true,
			Filter:              filter,
			Dark:                theme.Default,
			Mode:                selector.Mode(),
			OverdueLeadsLoading: true,
		},
	}
	if opts.Theme != nil {
		a.state.Dark = opts.Theme.Dark()
	}
	selector.OnChange(func(mode layout.Mode) {
		a.update(func(s *Snapshot) { s.Mode = mode })
	})
	return a
}

// Location returns the location conversations are grouped in.
func (a *Aggregator) Location() *time.Location {
	return a.location
}

// Snapshot returns a copy of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snapshot := a.state
	snapshot.Conversations = append([]*types.Conversation(nil), a.state.Conversations...)
	return snapshot
}

// Subscribe returns a channel signalled after state changes. Signals are coalesced.
func (a *Aggregator) Subscribe() (<-chan struct{}, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	ch := make(chan struct{}, 1)
	a.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if sub, ok := a.subscribers[id]; ok {
				delete(a.subscribers, id)
				close(sub)
			}
		})
	}
}

// Start loads the session and, when a user is signed in, their profile, conversations and
// overdue leads. Background work stops when ctx is done.
func (a *Aggregator) Start(ctx context.Context) {
	if a.opts.Theme != nil {
		updates, cancel := a.opts.Theme.Subscribe()
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case dark, ok := <-updates:
					if !ok {
						return
					}
					a.update(func(s *Snapshot) { s.Dark = dark })
				}
			}
		}()
		// Adopt any change made before the subscription.
		dark := a.opts.Theme.Dark()
		a.update(func(s *Snapshot) { s.Dark = dark })
	}

	current, err := a.opts.Sessions.Current(ctx)
	if err != nil {
		a.logger.Warn("reading session", zap.Error(err))
	}
	var generation uint64
	a.update(func(s *Snapshot) {
		s.Session = current
		a.generation++
		generation = a.generation
	})
	if current == nil {
		a.update(func(s *Snapshot) {
			s.Loading = false
			s.OverdueLeadsLoading = false
		})
		return
	}

	a.startLeads(ctx)
	go a.loadProfile(ctx, current, generation)
	if a.Snapshot().PanelOpen {
		go a.FetchAllConversations(ctx)
	}
}

func (a *Aggregator) loadProfile(ctx context.Context, current *session.Session, generation uint64) {
	var profile *types.Profile
	if a.opts.Profiles != nil && current.UserID != "" {
		loaded, err := a.opts.Profiles.Load(ctx, current.UserID)
		if err != nil {
			a.logger.Warn("loading profile", zap.Error(err))
		}
		profile = loaded
	}
	if profile == nil {
		profile = a.opts.ProfileFallback
	}
	a.updateIf(generation, func(s *Snapshot) {
		s.Profile = profile
		s.Loading = false
	})
}

func (a *Aggregator) startLeads(ctx context.Context) {
	if a.opts.Leads == nil {
		a.update(func(s *Snapshot) { s.OverdueLeadsLoading = false })
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	refresher := leads.NewRefresher(a.opts.Leads, leads.RefresherOpts{
		Interval: a.opts.LeadsInterval,
		Logger:   a.logger,
		OnChange: func(state leads.State) {
			// A count finishing after logout is dropped.
			if ctx.Err() != nil {
				return
			}
			if a.opts.Metrics != nil && !state.Loading {
				a.opts.Metrics.OverdueLeads.Set(float64(state.Count))
			}
			a.update(func(s *Snapshot) {
				s.OverdueLeads = state.Count
				s.OverdueLeadsLoading = state.Loading
			})
		},
	})

	a.mu.Lock()
	if a.stopLeads != nil {
		a.stopLeads()
	}
	a.stopLeads = cancel
	a.refresher = refresher
	a.mu.Unlock()
	go refresher.Run(ctx)
}

// FetchAllConversations replaces the conversation history with a fresh copy.
// Without a bearer token it does nothing. On failure the history is left unchanged.
func (a *Aggregator) FetchAllConversations(ctx context.Context) {
	a.mu.Lock()
	generation := a.generation
	a.mu.Unlock()

	token, err := a.opts.Sessions.Token(ctx)
	if err != nil {
		a.logger.Debug("reading bearer token", zap.Error(err))
		return
	}
	if token == "" {
		return
	}

	if !a.updateIf(generation, func(s *Snapshot) { s.LoadingConversations = true }) {
		return
	}
	conversations, err := a.opts.Conversations.ListConversations(ctx)
	a.updateIf(generation, func(s *Snapshot) {
		s.LoadingConversations = false
		if err == nil {
			s.Conversations = conversations
		}
	})
	if err != nil && !errors.Is(err, api.ErrMissingCredential) {
		a.logger.Warn("fetching conversations", zap.Error(err))
	}
}

// Refresh reloads the overdue lead count and the conversation history.
func (a *Aggregator) Refresh(ctx context.Context) {
	a.mu.Lock()
	refresher := a.refresher
	a.mu.Unlock()
	if refresher != nil {
		refresher.Refresh(ctx)
	}
	a.FetchAllConversations(ctx)
}

// SetPanelOpen shows or hides the side panel. Opening it while signed in refreshes the history.
func (a *Aggregator) SetPanelOpen(ctx context.Context, open bool) {
	var opened bool
	a.update(func(s *Snapshot) {
		opened = open && !s.PanelOpen && s.Session != nil
		s.PanelOpen = open
	})
	if opened {
		a.FetchAllConversations(ctx)
	}
}

// TogglePanel flips the side panel.
func (a *Aggregator) TogglePanel(ctx context.Context) {
	a.SetPanelOpen(ctx, !a.Snapshot().PanelOpen)
}

// ShowChatHistory shows or hides the chat history. Showing it without any loaded
// conversation fetches them.
func (a *Aggregator) ShowChatHistory(ctx context.Context, show bool) {
	var fetch bool
	a.update(func(s *Snapshot) {
		s.ShowChatHistory = show
		fetch = show && len(s.Conversations) == 0 && s.Session != nil
	})
	if fetch {
		a.FetchAllConversations(ctx)
	}
}

// SetFilter selects the message filter.
func (a *Aggregator) SetFilter(filter string) error {
	if !validFilters.Has(filter) {
		return errors.Wrapf(ErrUnknownFilter, "filter %q", filter)
	}
	a.update(func(s *Snapshot) { s.Filter = filter })
	return nil
}

// Resize records the viewport width in logical pixels.
func (a *Aggregator) Resize(widthPx int) layout.Mode {
	return a.layout.Resize(widthPx)
}

// ToggleTheme flips the dark mode preference.
func (a *Aggregator) ToggleTheme(ctx context.Context) bool {
	if a.opts.Theme == nil {
		var dark bool
		a.update(func(s *Snapshot) {
			s.Dark = !s.Dark
			dark = s.Dark
		})
		return dark
	}
	dark := a.opts.Theme.Toggle(ctx)
	a.update(func(s *Snapshot) { s.Dark = dark })
	return dark
}

// Logout ends the session and clears the user's data.
func (a *Aggregator) Logout(ctx context.Context) error {
	if err := a.opts.Sessions.Logout(ctx); err != nil {
		return errors.Wrap(err, "logging out")
	}
	a.mu.Lock()
	if a.stopLeads != nil {
		a.stopLeads()
		a.stopLeads = nil
		a.refresher = nil
	}
	a.mu.Unlock()
	a.update(func(s *Snapshot) {
		a.generation++
		s.Session = nil
		s.Profile = nil
		s.Loading = false
		s.Conversations = nil
		s.LoadingConversations = false
		s.ShowChatHistory = false
		s.OverdueLeads = 0
		s.OverdueLeadsLoading = false
	})
	return nil
}

// update applies fn under the lock and signals subscribers.
func (a *Aggregator) update(fn func(*Snapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apply(fn)
}

// updateIf applies fn only while generation is current. It reports whether fn ran.
func (a *Aggregator) updateIf(generation uint64, fn func(*Snapshot)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation != generation {
		return false
	}
	a.apply(fn)
	return true
}

// apply must be called with the lock held.
func (a *Aggregator) apply(fn func(*Snapshot)) {
	fn(&a.state)
	for _, ch := range a.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
