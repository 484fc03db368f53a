package leads

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/atsn/emily/internal/types"
)

const (
	// PageSize of each lead listing request.
	PageSize = 100
	// MaxLeads bounds the number of leads read in one count.
	MaxLeads = 10000
	// RefreshInterval between two counts.
	RefreshInterval = 5 * time.Minute
)

// Lister lists a page of leads.
type Lister interface {
	ListLeads(ctx context.Context, limit, offset int) ([]*types.Lead, error)
}

// StartOfDay returns midnight of the calendar day of t, in the location of t.
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// IsOverdue is true when the follow-up of lead falls on a day before the day of now.
// A follow-up due today is not overdue.
func IsOverdue(lead *types.Lead, now time.Time) bool {
	if lead == nil || lead.FollowUpAt == nil || lead.FollowUpAt.IsZero() {
		return false
	}
	return lead.FollowUpAt.Before(StartOfDay(now))
}

// ListAll pages through every lead, stopping at the first short page or at MaxLeads.
func ListAll(ctx context.Context, lister Lister) ([]*types.Lead, error) {
	var all []*types.Lead
	for offset := 0; ; offset += PageSize {
		page, err := lister.ListLeads(ctx, PageSize, offset)
		if err != nil {
			return nil, errors.Wrapf(err, "listing leads at offset %d", offset)
		}
		all = append(all, page...)
		if len(page) < PageSize || len(all) >= MaxLeads {
			return all, nil
		}
	}
}

// Count returns the number of overdue leads as of now.
func Count(ctx context.Context, lister Lister, now time.Time) (int, error) {
	all, err := ListAll(ctx, lister)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, lead := range all {
		if IsOverdue(lead, now) {
			count++
		}
	}
	return count, nil
}

// State of a Refresher.
type State struct {
	Count   int
	Loading bool
}

// Refresher keeps the overdue lead count up to date.
type Refresher struct {
	lister   Lister
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
	onChange func(State)

	mu    sync.Mutex
	state State
}

// RefresherOpts configures a Refresher.
type RefresherOpts struct {
	// Interval between two counts. Defaults to RefreshInterval.
	Interval time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// OnChange is called after every state change.
	OnChange func(State)
	Logger   *zap.Logger
}

// NewRefresher returns a refresher counting the leads of lister.
func NewRefresher(lister Lister, opts RefresherOpts) *Refresher {
	r := &Refresher{
		lister:   lister,
		logger:   opts.Logger,
		interval: opts.Interval,
		now:      opts.Now,
		onChange: opts.OnChange,
		// Nothing has been counted yet.
		state: State{Loading: true},
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.interval <= 0 {
		r.interval = RefreshInterval
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// State returns the last computed count and whether a count is in progress.
func (r *Refresher) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run counts immediately, then on every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

// Refresh performs a single count. On error the count is reset to zero.
func (r *Refresher) Refresh(ctx context.Context) int {
	r.update(func(s *State) { s.Loading = true })

	count, err := Count(ctx, r.lister, r.now())
	if err != nil {
		r.logger.Warn("counting overdue leads", zap.Error(err))
		count = 0
	}
	r.update(func(s *State) {
		s.Count = count
		s.Loading = false
	})
	return count
}

func (r *Refresher) update(fn func(*State)) {
	r.mu.Lock()
	fn(&r.state)
	state := r.state
	r.mu.Unlock()
	if r.onChange != nil {
		r.onChange(state)
	}
}
