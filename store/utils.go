package store

import (
	"encoding/binary"
	"sync"
)

// hub fans changes out to subscribers.
// A subscriber whose buffer is full misses the change.
type hub struct {
	mu     sync.Mutex
	subs   map[int]chan Change
	nextID int
	closed bool
}

func newHub() *hub {
	return &hub{subs: map[int]chan Change{}}
}

func (h *hub) subscribe() (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Change, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

func (h *hub) publish(change Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
