package order

import "errors"

// Status tracks the lifecycle of an order through the execution pipeline.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRouting   Status = "routing"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

var ErrInvalidTransition = errors.New("invalid order status transition")

// next lists the forward transitions of the happy path. Any non-terminal
// status may additionally transition to failed when retries are exhausted.
var next = map[Status]Status{
	StatusPending:   StatusRouting,
	StatusRouting:   StatusBuilding,
	StatusBuilding:  StatusSubmitted,
	StatusSubmitted: StatusConfirmed,
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// CanTransition reports whether moving from s to to is legal.
//
// A retried attempt restarts the pipeline from routing, so any non-terminal
// status may also move (back) to routing.
func (s Status) CanTransition(to Status) bool {
	if s.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	if to == StatusRouting {
		return true
	}
	return next[s] == to
}

// Transition validates and returns the target status.
func (s Status) Transition(to Status) (Status, error) {
	if !s.CanTransition(to) {
		return s, ErrInvalidTransition
	}
	return to, nil
}
