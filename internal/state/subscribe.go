package state

import (
	"context"
)

// subscriptionBuffer is the per-subscriber event buffer. Publishing blocks
// when it is full, so favorites events are never dropped.
const subscriptionBuffer = 64

type subscription struct {
	ch   chan FavoriteEvent
	done chan struct{}
}

// Subscribe registers a favorites observer. The returned cancel function
// must be called when the observer is done; after it returns no further
// events are delivered. The channel is never closed.
func (s *Store) Subscribe() (<-chan FavoriteEvent, func()) {
	sub := &subscription{
		ch:   make(chan FavoriteEvent, subscriptionBuffer),
		done: make(chan struct{}),
	}

	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()

	cancel := func() {
		s.subsMu.Lock()
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub.done)
		}
		s.subsMu.Unlock()
	}

	return sub.ch, cancel
}

// publish delivers ev to every current subscriber. It iterates a snapshot
// so a subscriber cancelling concurrently cannot corrupt the walk.
func (s *Store) publish(ctx context.Context, ev FavoriteEvent) {
	s.subsMu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		case <-ctx.Done():
			return
		}
	}
}
