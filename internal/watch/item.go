package watch

import (
	"context"
	"time"

	"github.com/Mishiranu/threadwatch/internal/state"
	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

// itemState is the dispatch state of an item. Whether a check is actually
// running is tracked separately by item.task.
type itemState int

const (
	stateIdle itemState = iota
	stateEnqueued
	stateUnavailable
)

func (s itemState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateEnqueued:
		return "enqueued"
	case stateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// stalenessSlack: an item counts as due when it is at most interval/8 early,
// so a thread checked just after one sweep is picked up by the next.
const stalenessSlack = 8

// task is one in-flight fetch. The identity of the pointer is what a
// completion is matched against, so a late completion of a cancelled task
// is ignored.
type task struct {
	class  poolClass
	cancel context.CancelFunc
}

// item is the scheduler's per-thread record. Owned by the loop.
type item struct {
	key threadkey.Key

	resolved   bool
	newCount   int
	deleted    bool
	failed     bool
	seenPost   int64
	latestPost int64
	lastUpdate time.Time // zero if never checked

	state            itemState
	queued           bool // present in Registry.enqueued
	pendingReload    bool
	forceForeground  bool // next dispatch goes to the foreground pool
	extractOnResolve bool
	task             *task
}

func newItem(key threadkey.Key) *item {
	return &item{key: key}
}

// due reports whether interval has elapsed since the last check.
func (it *item) due(now time.Time, interval time.Duration) bool {
	if it.lastUpdate.IsZero() {
		return true
	}

	return now.Sub(it.lastUpdate) >= interval-interval/stalenessSlack
}

// applyStored fills the item from a persisted counter.
func (it *item) applyStored(c state.Counter) {
	it.newCount = c.NewCount
	it.deleted = c.Deleted
	it.failed = c.Error
	it.seenPost = c.SeenPost
	it.latestPost = c.LatestPost
	it.lastUpdate = c.CheckedAt
}

// markExtracted marks every known post as seen. It reports whether
// anything changed.
func (it *item) markExtracted() bool {
	if it.newCount == 0 && it.seenPost == it.latestPost {
		return false
	}

	it.newCount = 0
	it.seenPost = it.latestPost

	return true
}

// stored is the persisted form of the item.
func (it *item) stored() state.Counter {
	return state.Counter{
		Key:        it.key,
		NewCount:   it.newCount,
		Deleted:    it.deleted,
		Error:      it.failed,
		SeenPost:   it.seenPost,
		LatestPost: it.latestPost,
		CheckedAt:  it.lastUpdate,
	}
}

func (it *item) counter() Counter {
	c := Counter{
		State:    CounterEnabled,
		Running:  it.task != nil,
		NewCount: it.newCount,
		Deleted:  it.deleted,
		Error:    it.failed,
	}

	if it.state == stateUnavailable {
		c.State = CounterUnavailable
	}

	return c
}
