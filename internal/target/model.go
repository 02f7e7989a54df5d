package target

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"spotalert_backend/internal/geo"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
)

// ErrInvalidTargets is returned when a fetched target list fails validation.
// The list is rejected as a whole.
var ErrInvalidTargets = errors.New("invalid target list")

// Target is a fixed point of interest. Values are immutable once loaded.
type Target struct {
	ID         string         `json:"id" validate:"required,max=128"`
	Name       string         `json:"name" validate:"required,max=255"`
	Coordinate geo.Coordinate `json:"coordinate"`
	Category   *string        `json:"category,omitempty" validate:"omitempty,max=100"`
}

// CategoryOrEmpty returns the category slug, or "" if the target has none.
func (t Target) CategoryOrEmpty() string {
	if t.Category == nil {
		return ""
	}
	return *t.Category
}

// Record is the persisted form of a target in the spots table.
type Record struct {
	ID        string    `gorm:"type:varchar(128);primaryKey"`
	Name      string    `gorm:"type:varchar(255);not null"`
	Latitude  float64   `gorm:"type:decimal(10,8);not null"`
	Longitude float64   `gorm:"type:decimal(11,8);not null"`
	Category  *string   `gorm:"type:varchar(100)"`
	Active    bool      `gorm:"not null;default:true;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Record) TableName() string {
	return "targets"
}

// ToTarget converts the stored row to the domain value.
func (r Record) ToTarget() Target {
	return Target{
		ID:         r.ID,
		Name:       r.Name,
		Coordinate: geo.Coordinate{Lat: r.Latitude, Lon: r.Longitude},
		Category:   r.Category,
	}
}

// RecordFromTarget builds an active row for t.
func RecordFromTarget(t Target) Record {
	return Record{
		ID:        t.ID,
		Name:      t.Name,
		Latitude:  t.Coordinate.Lat,
		Longitude: t.Coordinate.Lon,
		Category:  t.Category,
		Active:    true,
	}
}

// TargetResponse is the API shape of a target.
type TargetResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Category *string `json:"category,omitempty"`
}

// ToTargetResponse converts a target to its API representation.
func ToTargetResponse(t Target) TargetResponse {
	return TargetResponse{
		ID:       t.ID,
		Name:     t.Name,
		Lat:      t.Coordinate.Lat,
		Lon:      t.Coordinate.Lon,
		Category: t.Category,
	}
}

var validate = validator.New()

// Normalize validates a freshly fetched list and returns cleaned copies:
// trimmed ids and names, slugged categories. Any bad entry or duplicate id
// rejects the whole list.
func Normalize(targets []Target) ([]Target, error) {
	out := make([]Target, 0, len(targets))
	seen := make(map[string]struct{}, len(targets))
	for i, t := range targets {
		t.ID = strings.TrimSpace(t.ID)
		t.Name = strings.TrimSpace(t.Name)
		if t.Category != nil {
			c := slug.Make(*t.Category)
			if c == "" {
				t.Category = nil
			} else {
				t.Category = &c
			}
		}
		if err := validate.Struct(t); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidTargets, i, err)
		}
		if !t.Coordinate.Valid() {
			return nil, fmt.Errorf("%w: entry %d (%s): coordinate %s out of range", ErrInvalidTargets, i, t.ID, t.Coordinate)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidTargets, t.ID)
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// Snapshot is an immutable view of the active target list. It is replaced
// wholesale on refresh and never mutated.
type Snapshot struct {
	targets []Target
	byID    map[string]Target
	version uint64
	loaded  time.Time
}

func newSnapshot(targets []Target, version uint64, loaded time.Time) *Snapshot {
	byID := make(map[string]Target, len(targets))
	for _, t := range targets {
		byID[t.ID] = t
	}
	return &Snapshot{targets: targets, byID: byID, version: version, loaded: loaded}
}

// Targets returns a copy of the snapshot's targets.
func (s *Snapshot) Targets() []Target {
	out := make([]Target, len(s.targets))
	copy(out, s.targets)
	return out
}

// Len returns the number of targets in the snapshot.
func (s *Snapshot) Len() int { return len(s.targets) }

// Get looks up a target by id.
func (s *Snapshot) Get(id string) (Target, bool) {
	t, ok := s.byID[id]
	return t, ok
}

// Version increases by one on every successful refresh.
func (s *Snapshot) Version() uint64 { return s.version }

// LoadedAt is when the snapshot was installed.
func (s *Snapshot) LoadedAt() time.Time { return s.loaded }
