// Package proximity decides which target, if any, the user is currently at.
package proximity

import (
	"fmt"

	"spotalert_backend/internal/target"
)

// State is either Outside or Inside a single target. The zero value is Outside.
type State struct {
	inside *target.Target
}

// Outside is the state of not being at any target.
func Outside() State { return State{} }

// Inside is the state of being at t.
func Inside(t target.Target) State { return State{inside: &t} }

// IsInside reports whether the state references a target.
func (s State) IsInside() bool { return s.inside != nil }

// Target returns the target the state is inside, if any.
func (s State) Target() (target.Target, bool) {
	if s.inside == nil {
		return target.Target{}, false
	}
	return *s.inside, true
}

// TargetID returns the id of the current target, or "" when outside.
func (s State) TargetID() string {
	if s.inside == nil {
		return ""
	}
	return s.inside.ID
}

// Same reports whether both states are Outside or both are Inside the same target id.
func (s State) Same(o State) bool {
	return s.TargetID() == o.TargetID()
}

func (s State) String() string {
	if s.inside == nil {
		return "Outside"
	}
	return fmt.Sprintf("Inside(%s)", s.inside.ID)
}
