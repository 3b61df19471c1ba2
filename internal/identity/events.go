package identity

import "sync"

// hub fans session events out to the listeners of one browser session.
// Events for a session are delivered in emit order; a listener removed while
// an event is in flight may still see that event.
type hub struct {
	mu     sync.Mutex
	topics map[string]*topic
	nextID int
}

type topic struct {
	emitMu    sync.Mutex
	mu        sync.Mutex
	listeners map[int]Listener
}

func newHub() *hub {
	return &hub{topics: make(map[string]*topic)}
}

func (h *hub) subscribe(sid string, l Listener) func() {
	h.mu.Lock()
	t, ok := h.topics[sid]
	if !ok {
		t = &topic{listeners: make(map[int]Listener)}
		h.topics[sid] = t
	}
	id := h.nextID
	h.nextID++
	t.mu.Lock()
	t.listeners[id] = l
	t.mu.Unlock()
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(sid, t, id) })
	}
}

func (h *hub) unsubscribe(sid string, t *topic, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t.mu.Lock()
	delete(t.listeners, id)
	empty := len(t.listeners) == 0
	t.mu.Unlock()

	if empty && h.topics[sid] == t {
		delete(h.topics, sid)
	}
}

func (h *hub) emit(sid string, event Event, s *Session) {
	h.mu.Lock()
	t, ok := h.topics[sid]
	h.mu.Unlock()
	if !ok {
		return
	}

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	listeners := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()

	for _, l := range listeners {
		l(event, s)
	}
}

func (h *hub) count(sid string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[sid]
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners)
}
