package kiosk

import "sync"

// mailbox hands values to a callback one at a time, in the order they were
// posted. Values are posted while the owner's lock is held and drained
// after it is released. A drain that starts while another is running
// returns at once and leaves the value to the running one, so a callback
// may post and drain again without blocking.
type mailbox[T any] struct {
	mu      sync.Mutex
	queue   []T
	running bool
}

func (m *mailbox[T]) post(v T) {
	m.mu.Lock()
	m.queue = append(m.queue, v)
	m.mu.Unlock()
}

func (m *mailbox[T]) drain(fn func(T)) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	for len(m.queue) > 0 {
		v := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn(v)
		m.mu.Lock()
	}
	m.running = false
	m.mu.Unlock()
}
