package session

import "github.com/google/uuid"

// Subscription is a client-registered interest in a subset of event
// kinds, backed by a bounded delivery queue.
type Subscription struct {
	id    string
	kinds map[EventKind]bool
	ch    chan Event
}

// ID returns the subscription's unique handle.
func (s *Subscription) ID() string { return s.id }

// Events returns the channel of delivered events. It is closed once an
// ExitCode event has been delivered, or the subscriber has been
// disconnected for overrunning its queue.
func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) wants(k EventKind) bool {
	if len(s.kinds) == 0 {
		return true // no filter requested: all kinds
	}
	return s.kinds[k]
}

func newSubscription(kinds []EventKind, capacity int) *Subscription {
	set := make(map[EventKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return &Subscription{
		id:    uuid.NewString(),
		kinds: set,
		ch:    make(chan Event, capacity),
	}
}
