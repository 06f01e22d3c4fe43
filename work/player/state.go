package player

import (
	"fmt"
	"time"

	"kptv-player/work/types"
)

// State is the lifecycle state of a playback session.
type State int

const (
	StateIdle State = iota
	StateManifestLoading
	StatePlaying
	StateStalled
	StateRecovering
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateManifestLoading:
		return "manifest_loading"
	case StatePlaying:
		return "playing"
	case StateStalled:
		return "stalled"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateClosed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown playback state %q", b)
}

// transitions lists every allowed state change. Closed is reachable from everywhere and
// is terminal.
var transitions = map[State][]State{
	StateIdle:            {StateManifestLoading, StateClosed},
	StateManifestLoading: {StatePlaying, StateRecovering, StateFailed, StateClosed},
	StatePlaying:         {StateStalled, StateRecovering, StateFailed, StateClosed},
	StateStalled:         {StatePlaying, StateRecovering, StateFailed, StateClosed},
	StateRecovering:      {StateManifestLoading, StatePlaying, StateFailed, StateClosed},
	StateFailed:          {StateClosed},
	StateClosed:          {},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// watched reports whether the health monitor runs in this state.
func (s State) watched() bool {
	return s == StatePlaying || s == StateStalled
}

// Transition is one entry of a session's state history.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// EventType names a session event.
type EventType string

const (
	EventStateChanged EventType = "stateChanged"
	EventError        EventType = "error"
	EventStalled      EventType = "stalled"
)

// Event is delivered to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type       EventType
	SessionID  string
	From       State
	To         State
	Error      *types.ErrorEvent
	StallCount int
}
