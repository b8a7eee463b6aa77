package watch

import (
	"fmt"
)

// CounterState is the observer-facing watch state of one thread.
type CounterState int

// Counter states.
const (
	// CounterDisabled means no scheduler item exists for the thread.
	CounterDisabled CounterState = iota
	CounterEnabled
	// CounterUnavailable means checks are held back by the wifi-only gate.
	CounterUnavailable
)

var counterStateNames = map[CounterState]string{
	CounterDisabled:    "disabled",
	CounterEnabled:     "enabled",
	CounterUnavailable: "unavailable",
}

func (s CounterState) String() string {
	if name, ok := counterStateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("CounterState(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler for JSON output.
func (s CounterState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CounterState) UnmarshalText(b []byte) error {
	for state, name := range counterStateNames {
		if name == string(b) {
			*s = state
			return nil
		}
	}

	return fmt.Errorf("watch: unknown counter state %q", b)
}

// Counter is the snapshot of one thread's watch progress pushed to
// observers and returned by Registry.Counter.
type Counter struct {
	State    CounterState `json:"state"`
	Running  bool         `json:"running"`
	NewCount int          `json:"new_count"`
	Deleted  bool         `json:"deleted"`
	Error    bool         `json:"error"`
}
