package watch

import (
	"context"
	"slices"
)

// post queues fn to run on the scheduler loop. It never blocks, so it is
// safe to call from observer callbacks and from fetch goroutines alike.
func (r *Registry) post(fn func()) {
	r.mboxMu.Lock()
	r.mailbox = append(r.mailbox, fn)
	r.mboxMu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
		// Already signaled; the loop has not drained yet.
	}
}

// takeMailbox swaps out the queued closures.
func (r *Registry) takeMailbox() []func() {
	r.mboxMu.Lock()
	defer r.mboxMu.Unlock()

	batch := r.mailbox
	r.mailbox = nil

	return batch
}

// loop runs queued closures one at a time until ctx is canceled. All
// scheduler state is touched only from here.
func (r *Registry) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.wake:
		}

		for batch := r.takeMailbox(); len(batch) > 0; batch = r.takeMailbox() {
			for _, fn := range batch {
				if ctx.Err() != nil {
					return nil
				}

				fn()
			}
		}
	}
}

// Flush blocks until every operation posted before the call has run on the
// scheduler loop. It does not wait for in-flight fetches.
func (r *Registry) Flush(ctx context.Context) error {
	done := make(chan struct{})
	r.post(func() { close(done) })

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshot copies a slice so observer callbacks can register or unregister
// sessions and clients while the caller iterates.
func snapshot[T any](s []T) []T {
	return slices.Clone(s)
}
