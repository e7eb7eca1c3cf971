package stream

import (
	"context"
	"sync"

	"tiernet.org/internal/network"
)

// Stream fans notifications out to the live subscribers (SSE clients) of each account.
type Stream struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan network.Notification
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[string]map[int]chan network.Notification)}
}

// Subscribe registers a subscriber for accountID and returns a channel which will
// receive its notifications. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, accountID string) <-chan network.Notification {
	ch := make(chan network.Notification, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	if s.subs[accountID] == nil {
		s.subs[accountID] = make(map[int]chan network.Notification)
	}
	s.subs[accountID][id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs[accountID], id)
		if len(s.subs[accountID]) == 0 {
			delete(s.subs, accountID)
		}
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish delivers n to every subscriber of its account.
func (s *Stream) Publish(n network.Notification) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs[n.AccountID] {
		select {
		case ch <- n:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports how many live subscribers accountID has.
func (s *Stream) Subscribers(accountID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[accountID])
}
