package watch

import "fmt"

// poolClass names one of the three dispatch classes.
type poolClass int

const (
	classForeground poolClass = iota
	classPriority
	classBackground
	classCount
)

func (c poolClass) String() string {
	switch c {
	case classForeground:
		return "foreground"
	case classPriority:
		return "priority"
	case classBackground:
		return "background"
	default:
		return fmt.Sprintf("poolClass(%d)", int(c))
	}
}

// pool is an advisory admission counter. It does not block: the scheduler
// checks available before acquire, and both run on the scheduler loop so
// nothing can slip between them. A capacity of 0 means unbounded.
type pool struct {
	class    poolClass
	capacity int
	inFlight int
}

func newPool(class poolClass, capacity int) *pool {
	return &pool{class: class, capacity: capacity}
}

func (p *pool) available() bool {
	return p.capacity <= 0 || p.inFlight < p.capacity
}

// acquire admits one task. Admitting past capacity is a scheduler bug.
func (p *pool) acquire() {
	if !p.available() {
		panic(fmt.Sprintf("watch: %s pool over capacity (%d in flight, capacity %d)",
			p.class, p.inFlight, p.capacity))
	}

	p.inFlight++
}

func (p *pool) release() {
	if p.inFlight <= 0 {
		panic(fmt.Sprintf("watch: %s pool released with nothing in flight", p.class))
	}

	p.inFlight--
}
