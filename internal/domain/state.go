package domain

import "errors"

// ErrTerminalState is returned when a write would move an insight out of a
// terminal state.
var ErrTerminalState = errors.New("insight already in a terminal state")

// State enumerates an insight's lifecycle milestones.
type State string

const (
	StateGenerated State = "generated"
	StateScored    State = "scored"
	StateQueued    State = "queued"
	StateDelivered State = "delivered"
	StateActedOn   State = "acted_on"
	StateIgnored   State = "ignored"
	StateExpired   State = "expired"
)

var transitions = map[State][]State{
	StateGenerated: {StateScored},
	StateScored:    {StateQueued},
	StateQueued:    {StateDelivered, StateExpired},
	StateDelivered: {StateActedOn, StateIgnored, StateExpired},
}

// IsTerminal reports whether no further transition is allowed.
func (s State) IsTerminal() bool {
	switch s {
	case StateActedOn, StateIgnored, StateExpired:
		return true
	}
	return false
}

// TerminalStates lists the mutually exclusive end states.
func TerminalStates() []State {
	return []State{StateActedOn, StateIgnored, StateExpired}
}

// IsActive reports whether an insight in this state belongs in the in-memory queue.
func (s State) IsActive() bool {
	switch s {
	case StateScored, StateQueued, StateDelivered:
		return true
	}
	return false
}

// CanTransition validates a lifecycle move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
