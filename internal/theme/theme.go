package theme

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/atsn/emily/store"
)

// Key under which the preference is stored.
const Key = "darkMode"

// Default preference when nothing is stored.
const Default = true

// Manager owns the dark mode preference of a process.
// The in-memory value and the stored value converge, including writes made by other processes.
type Manager struct {
	store  store.Store
	logger *zap.Logger

	// writeMu orders writes against adoption of store changes.
	writeMu sync.Mutex

	mu          sync.Mutex
	dark        bool
	subscribers map[int]chan bool
	nextID      int

	cancel func()
	done   chan struct{}
}

// New reads the stored preference and starts following changes of the store.
// Call Close to stop following.
func New(ctx context.Context, s store.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:       s,
		logger:      logger,
		dark:        Default,
		subscribers: map[int]chan bool{},
		done:        make(chan struct{}),
	}

	value, found, err := s.Get(ctx, Key)
	switch {
	case err != nil:
		logger.Debug("reading theme preference", zap.Error(err))
	case found:
		m.dark = value == "true"
	default:
		m.persist(ctx, m.dark)
	}

	changes, cancel := s.Subscribe()
	m.cancel = cancel
	go m.follow(changes)
	return m
}

// Dark is true when the dark theme is active.
func (m *Manager) Dark() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dark
}

// Set the preference, persisting and publishing it.
func (m *Manager) Set(ctx context.Context, dark bool) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	changed := m.dark != dark
	m.dark = dark
	m.mu.Unlock()
	m.persist(ctx, dark)
	if changed {
		m.notify(dark)
	}
}

// Toggle the preference and return the new value.
func (m *Manager) Toggle(ctx context.Context) bool {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	dark := !m.dark
	m.dark = dark
	m.mu.Unlock()
	m.persist(ctx, dark)
	m.notify(dark)
	return dark
}

// Subscribe returns a channel receiving the preference each time it changes.
// Only the latest value is kept for a slow reader.
func (m *Manager) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(sub)
			}
		})
	}
}

// Close stops following the store. It does not close the store.
func (m *Manager) Close() {
	m.cancel()
	<-m.done
}

func (m *Manager) follow(changes <-chan store.Change) {
	defer close(m.done)
	for change := range changes {
		if change.Key != Key {
			continue
		}
		m.adopt(change)
	}
}

// adopt the value of a change. The store is re-read so that a stale event never
// overrides a later write.
func (m *Manager) adopt(change store.Change) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	// A removed key reads as "not true".
	dark := !change.Removed && change.Value == "true"
	value, found, err := m.store.Get(context.Background(), Key)
	if err == nil {
		dark = found && value == "true"
	}

	m.mu.Lock()
	changed := m.dark != dark
	m.dark = dark
	m.mu.Unlock()
	if changed {
		m.logger.Debug("theme changed", zap.Bool("dark", dark), zap.Bool("local", change.Local))
		m.notify(dark)
	}
}

func (m *Manager) persist(ctx context.Context, dark bool) {
	if err := m.store.Set(ctx, Key, strconv.FormatBool(dark)); err != nil {
		m.logger.Debug("persisting theme preference", zap.Error(err))
	}
}

func (m *Manager) notify(dark bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- dark
	}
}
