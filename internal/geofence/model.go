// Package geofence turns coarse OS geofence wake-ups into confirmed
// detections using a single precise fix.
package geofence

import (
	"context"
	"errors"
	"time"

	"spotalert_backend/internal/geo"
	"spotalert_backend/internal/target"
)

// ErrPermissionDenied is returned by a Monitor when the device has not granted
// background location access.
var ErrPermissionDenied = errors.New("location permission denied")

// Region is a circular geofence registered for one target.
type Region struct {
	ID     string         `json:"id"`
	Center geo.Coordinate `json:"center"`
	Radius float64        `json:"radius_meters"`
}

// Fix is a one-shot precise position.
type Fix struct {
	Coordinate geo.Coordinate
	Accuracy   float64
	Timestamp  time.Time
}

// Detection is a target confirmed by a precise fix after a wake-up.
type Detection struct {
	Target   target.Target
	Distance float64
	Accuracy float64
	At       time.Time
}

// Monitor registers regions with the platform. ReplaceRegions drops every
// previous registration.
type Monitor interface {
	ReplaceRegions(ctx context.Context, regions []Region) error
}

// LocationProvider produces one precise fix. It may block for as long as the
// platform takes; callers cancel through ctx.
type LocationProvider interface {
	RequestFix(ctx context.Context) (Fix, error)
}

// Notifier receives confirmed detections.
type Notifier interface {
	NotifyDetection(ctx context.Context, d Detection)
}

// CompletionChecker reports whether a target is closed for alerts.
type CompletionChecker interface {
	IsCompleted(targetID string) bool
}

// Targets provides the current target snapshot.
type Targets interface {
	Snapshot() *target.Snapshot
}
