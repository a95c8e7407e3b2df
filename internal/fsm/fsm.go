// Package fsm defines the trial phase transition table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateInactive State = "inactive"
	StateResting  State = "resting"
	StateActive   State = "active"
)

const (
	// EventStart begins a task.
	EventStart Event = "start"
	// EventRestElapsed fires when a rest interval ends with stimuli remaining.
	EventRestElapsed Event = "rest_elapsed"
	// EventActiveElapsed fires when an active interval ends.
	EventActiveElapsed Event = "active_elapsed"
	// EventComplete fires when a rest interval ends after the last stimulus.
	EventComplete Event = "complete"
	// EventAbort is connection loss. Valid from any phase.
	EventAbort Event = "abort"
)

func Transition(current State, event Event) (State, error) {
	if event == EventAbort {
		switch current {
		case StateInactive, StateResting, StateActive:
			return StateInactive, nil
		}
	}

	switch current {
	case StateInactive:
		switch event {
		case EventStart:
			return StateResting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateResting:
		switch event {
		case EventRestElapsed:
			return StateActive, nil
		case EventComplete:
			return StateInactive, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateActive:
		switch event {
		case EventActiveElapsed:
			return StateResting, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
