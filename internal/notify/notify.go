package notify

import (
	"sync"
	"time"
)

// Event types published during an import.
const (
	TypeImportStarted   = "import-started"
	TypeImportProgress  = "import-progress"
	TypeImportCompleted = "import-completed"
	TypeImportError     = "import-error"
	TypeCronStatus      = "cron-status"
)

// Event is one progress notification. Data must be JSON-encodable.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// New stamps an event with the current time.
func New(eventType string, data any) Event {
	return Event{Type: eventType, Data: data, Time: time.Now().UTC()}
}

// Notifier delivers events without blocking the publisher and without
// reporting delivery failures.
type Notifier interface {
	Publish(ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

func (m Multi) Publish(ev Event) {
	for _, n := range m {
		if n != nil {
			n.Publish(ev)
		}
	}
}

// Hub is an in-process broadcaster. Each subscriber has its own buffered
// channel; events are dropped for subscribers whose buffer is full.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func unsubscribes and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
