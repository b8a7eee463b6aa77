package watch

import (
	"context"
	"log/slog"

	"github.com/Mishiranu/threadwatch/internal/state"
)

// persist queues the item's counters for write-back. The queue never
// blocks the loop; when it is full the write is dropped and the next
// mutation of the same item writes the current values anyway.
func (r *Registry) persist(it *item) {
	select {
	case r.persistQ <- it.stored():
	default:
		r.logger.Warn("counter write-back queue full, dropping write",
			slog.String("thread", it.key.String()),
		)
	}
}

// persistLoop is the single writer of counters. On shutdown it waits for
// the loop goroutine to finish its last closure, then drains whatever is
// still queued.
func (r *Registry) persistLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			<-r.loopDone
			r.drainPersist()

			return nil
		case c := <-r.persistQ:
			r.save(ctx, c)
		}
	}
}

func (r *Registry) drainPersist() {
	ctx, cancel := context.WithTimeout(context.Background(), persistDrainTimeout)
	defer cancel()

	for {
		select {
		case c := <-r.persistQ:
			r.save(ctx, c)
		default:
			return
		}
	}
}

func (r *Registry) save(ctx context.Context, c state.Counter) {
	if err := r.counters.SaveCounter(ctx, c); err != nil {
		r.logger.Warn("saving counter failed",
			slog.String("thread", c.Key.String()),
			slog.String("error", err.Error()),
		)
	}
}
