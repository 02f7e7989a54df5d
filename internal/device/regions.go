// Package device adapts the paired phone's platform primitives (region
// monitoring, one-shot precise fixes) to the geofence coordinator.
package device

import (
	"context"
	"sync"
	"time"

	"spotalert_backend/internal/geofence"
	"spotalert_backend/internal/platform/clock"

	"go.uber.org/zap"
)

// PermissionStatus is the device's background location permission.
type PermissionStatus string

const (
	PermissionUnknown PermissionStatus = "unknown"
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
)

// RegionBook holds the regions the device should monitor. The device fetches
// them and registers them with its OS.
type RegionBook struct {
	clock  clock.Clock
	logger *zap.Logger

	mu         sync.RWMutex
	regions    []geofence.Region
	version    uint64
	updatedAt  time.Time
	permission PermissionStatus
}

func NewRegionBook(clk clock.Clock, logger *zap.Logger) *RegionBook {
	return &RegionBook{
		clock:      clk,
		logger:     logger.Named("RegionBook"),
		permission: PermissionUnknown,
	}
}

// ReplaceRegions implements geofence.Monitor. It refuses while the device
// reports location permission as denied.
func (b *RegionBook) ReplaceRegions(_ context.Context, regions []geofence.Region) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.permission == PermissionDenied {
		return geofence.ErrPermissionDenied
	}
	b.regions = append([]geofence.Region(nil), regions...)
	b.version++
	b.updatedAt = b.clock.Now()
	return nil
}

// RegionSet is a versioned copy of the registered regions.
type RegionSet struct {
	Regions   []geofence.Region
	Version   uint64
	UpdatedAt time.Time
}

// Regions returns the current registration.
func (b *RegionBook) Regions() RegionSet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return RegionSet{
		Regions:   append([]geofence.Region(nil), b.regions...),
		Version:   b.version,
		UpdatedAt: b.updatedAt,
	}
}

// SetPermission records the device's permission and reports whether it changed.
// A denial clears the registration.
func (b *RegionBook) SetPermission(granted bool) bool {
	status := PermissionDenied
	if granted {
		status = PermissionGranted
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.permission == status {
		return false
	}
	b.permission = status
	if status == PermissionDenied {
		b.regions = nil
		b.version++
		b.updatedAt = b.clock.Now()
	}
	b.logger.Info("Location permission changed", zap.String("permission", string(status)))
	return true
}

// Permission returns the last reported permission.
func (b *RegionBook) Permission() PermissionStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.permission
}
