package domain

import "fmt"

// ErrInvalidTransition is returned when a transition is not allowed from the
// current state. It indicates a misconfigured workflow and must not be swallowed.
var ErrInvalidTransition = &Error{Code: EINVALID, Message: "Invalid state transition"}

// transitionKey identifies a row in a transition table.
type transitionKey[S ~string] struct {
	from       S
	transition string
}

// transitionTable maps {from, transition} to the resulting state.
type transitionTable[S ~string] map[transitionKey[S]]S

func (t transitionTable[S]) apply(op string, from S, transition string) (S, error) {
	to, ok := t[transitionKey[S]{from: from, transition: transition}]
	if !ok {
		return from, &Error{
			Code:    ErrInvalidTransition.Code,
			Op:      op,
			Message: ErrInvalidTransition.Message,
			Err:     fmt.Errorf("transition %q not allowed from state %q", transition, from),
		}
	}
	return to, nil
}

// transitionTo finds the transition id leading from one state to another.
func (t transitionTable[S]) transitionTo(from, to S) (string, bool) {
	for k, v := range t {
		if k.from == from && v == to {
			return k.transition, true
		}
	}
	return "", false
}
