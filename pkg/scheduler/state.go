package scheduler

import (
	"fmt"

	"github.com/absmach/fedrepair/task"
)

type State uint8

const (
	StateL1Attempt State = iota + 1
	StateL2Attempt
	StateL3Attempt
	StateResolved
	StateExhausted
)

var stateNames = map[State]string{
	StateL1Attempt: "L1_ATTEMPT",
	StateL2Attempt: "L2_ATTEMPT",
	StateL3Attempt: "L3_ATTEMPT",
	StateResolved:  "RESOLVED",
	StateExhausted: "EXHAUSTED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "UNKNOWN"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st

			return nil
		}
	}

	return fmt.Errorf("unknown scheduler state %q", text)
}

func (s State) Terminal() bool {
	return s == StateResolved || s == StateExhausted
}

// Layer returns the layer an attempt state runs, or 0 for terminal states.
func (s State) Layer() task.Layer {
	switch s {
	case StateL1Attempt:
		return task.Layer1
	case StateL2Attempt:
		return task.Layer2
	case StateL3Attempt:
		return task.Layer3
	default:
		return 0
	}
}

type Event uint8

const (
	// EventAccepted fires when a candidate meets its layer threshold.
	EventAccepted Event = iota + 1
	// EventRetry keeps the task on its layer for another attempt.
	EventRetry
	// EventExhausted fires when a layer has no attempts left or is unavailable.
	EventExhausted
	// EventTrigger jumps from L1 straight to L3.
	EventTrigger
	// EventFallback resolves with the terminal layer's best candidate.
	EventFallback
	// EventCanceled ends the task on withdrawal or a hard deadline.
	EventCanceled
)

var eventNames = map[Event]string{
	EventAccepted:  "accepted",
	EventRetry:     "retry",
	EventExhausted: "exhausted",
	EventTrigger:   "trigger",
	EventFallback:  "fallback",
	EventCanceled:  "canceled",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}

	return "unknown"
}

func (e Event) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Event) UnmarshalText(text []byte) error {
	for ev, name := range eventNames {
		if name == string(text) {
			*e = ev

			return nil
		}
	}

	return fmt.Errorf("unknown scheduler event %q", text)
}

var transitions = map[State]map[Event]State{
	StateL1Attempt: {
		EventAccepted:  StateResolved,
		EventRetry:     StateL1Attempt,
		EventExhausted: StateL2Attempt,
		EventTrigger:   StateL3Attempt,
		EventCanceled:  StateExhausted,
	},
	StateL2Attempt: {
		EventAccepted:  StateResolved,
		EventRetry:     StateL2Attempt,
		EventExhausted: StateL3Attempt,
		EventCanceled:  StateExhausted,
	},
	StateL3Attempt: {
		EventAccepted:  StateResolved,
		EventRetry:     StateL3Attempt,
		EventExhausted: StateExhausted,
		EventFallback:  StateResolved,
		EventCanceled:  StateExhausted,
	},
}

// Next looks up the transition table. Terminal states accept no events.
func Next(s State, e Event) (State, error) {
	next, ok := transitions[s][e]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
	}

	return next, nil
}
