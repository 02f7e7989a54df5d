// Package tracker follows the foreground location stream and reports
// proximity transitions.
package tracker

import (
	"time"

	"spotalert_backend/internal/geo"
	"spotalert_backend/internal/target"
)

// EventKind names a proximity transition.
type EventKind string

const (
	Entered    EventKind = "entered"
	SwitchedTo EventKind = "switched_to"
	Exited     EventKind = "exited"
)

// Event is emitted once per state change. For SwitchedTo, From is the target
// that was left; for Exited, Target is the target that was left.
type Event struct {
	Kind     EventKind
	Target   target.Target
	From     *target.Target
	Distance float64
	Accuracy float64
	Forced   bool
	At       time.Time
}

// Sample is one position report from the device.
type Sample struct {
	Coordinate geo.Coordinate
	Accuracy   float64
	Timestamp  time.Time
}

// EventResponse is the API shape of an event.
type EventResponse struct {
	Kind           EventKind `json:"kind"`
	TargetID       string    `json:"target_id"`
	TargetName     string    `json:"target_name"`
	FromTargetID   *string   `json:"from_target_id,omitempty"`
	DistanceMeters float64   `json:"distance_meters"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	Forced         bool      `json:"forced"`
	At             time.Time `json:"at"`
}

// ToEventResponse converts an event to its API representation.
func ToEventResponse(e Event) EventResponse {
	resp := EventResponse{
		Kind:           e.Kind,
		TargetID:       e.Target.ID,
		TargetName:     e.Target.Name,
		DistanceMeters: e.Distance,
		AccuracyMeters: e.Accuracy,
		Forced:         e.Forced,
		At:             e.At,
	}
	if e.From != nil {
		id := e.From.ID
		resp.FromTargetID = &id
	}
	return resp
}
