package probe

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// State is a step of a run. A run moves Idle → Writing → Exhausted, then
// either straight to NoCapacity or through Verifying to Clean or Anomaly.
// Interrupted ends a run the user stopped. There are no retry edges.
type State int

const (
	Idle State = iota
	Writing
	Exhausted
	Verifying

	Clean      // every written block read back intact
	Anomaly    // mismatches or unreadable blocks
	NoCapacity // the first write already failed
	Interrupted
)

var stateNames = []string{
	Idle:        "idle",
	Writing:     "writing",
	Exhausted:   "exhausted",
	Verifying:   "verifying",
	Clean:       "clean",
	Anomaly:     "anomaly",
	NoCapacity:  "no-capacity",
	Interrupted: "interrupted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

var transitions = map[State][]State{
	Idle:      {Writing},
	Writing:   {Exhausted, Interrupted},
	Exhausted: {Verifying, NoCapacity},
	Verifying: {Clean, Anomaly, Interrupted},
}

// machine tracks the state of one run and announces every change to a sink.
type machine struct {
	state State
	sink  Sink
	log   *zap.Logger
}

func newMachine(sink Sink, log *zap.Logger) *machine {
	return &machine{state: Idle, sink: sink, log: log}
}

func (m *machine) advance(to State) error {
	if !slices.Contains(transitions[m.state], to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, to)
	}
	m.log.Debug("state change", zap.Stringer("from", m.state), zap.Stringer("to", to))
	m.state = to
	m.sink.StateChanged(to)
	return nil
}
