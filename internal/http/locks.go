package http

import "sync"

// chatLocks serializes turn cycles per chat id.  The orchestrator is not
// designed for concurrent mutation of the same session state, so the
// transport layer guarantees one in-flight cycle per conversation.
type chatLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for the given chat id and returns its unlock
// function.  Locks are never removed; the per-chat footprint is one mutex.
func (c *chatLocks) lock(id string) func() {
	c.mu.Lock()
	m, ok := c.locks[id]
	if !ok {
		m = &sync.Mutex{}
		c.locks[id] = m
	}
	c.mu.Unlock()

	m.Lock()
	return m.Unlock
}
