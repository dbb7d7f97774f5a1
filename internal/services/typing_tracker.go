package services

import "sync"

// TypingTracker remembers which connections are typing and to whom.
// State is ephemeral and last-write-wins per connection.
type TypingTracker struct {
	mu     sync.Mutex
	typing map[string]string
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{typing: make(map[string]string)}
}

// Start marks connID as typing to receiver.
func (t *TypingTracker) Start(connID, receiver string) {
	t.mu.Lock()
	t.typing[connID] = receiver
	t.mu.Unlock()
}

// Stop clears connID and returns the receiver it was typing to.
func (t *TypingTracker) Stop(connID string) (receiver string, wasTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	receiver, wasTyping = t.typing[connID]
	delete(t.typing, connID)
	return receiver, wasTyping
}

func (t *TypingTracker) IsTyping(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.typing[connID]
	return ok
}
