package geofence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DetectionMarker persists the last detection time of a target.
type DetectionMarker struct {
	TargetID   string    `gorm:"type:varchar(128);primaryKey"`
	DetectedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for GORM.
func (DetectionMarker) TableName() string {
	return "detection_markers"
}

// MarkerStore persists detection markers across restarts.
type MarkerStore interface {
	Load(ctx context.Context) (map[string]time.Time, error)
	Save(ctx context.Context, targetID string, at time.Time) error
	Delete(ctx context.Context, targetID string) error
	DeleteAll(ctx context.Context) error
}

type gormMarkerStore struct {
	db *gorm.DB
}

// NewGORMMarkerStore creates a marker store backed by the detection_markers table.
func NewGORMMarkerStore(db *gorm.DB) MarkerStore {
	return &gormMarkerStore{db: db}
}

func (s *gormMarkerStore) Load(ctx context.Context) (map[string]time.Time, error) {
	var rows []DetectionMarker
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load detection markers: %w", err)
	}
	out := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		out[r.TargetID] = r.DetectedAt
	}
	return out, nil
}

func (s *gormMarkerStore) Save(ctx context.Context, targetID string, at time.Time) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "target_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"detected_at"}),
	}).Create(&DetectionMarker{TargetID: targetID, DetectedAt: at}).Error
	if err != nil {
		return fmt.Errorf("failed to save detection marker for %s: %w", targetID, err)
	}
	return nil
}

func (s *gormMarkerStore) Delete(ctx context.Context, targetID string) error {
	if err := s.db.WithContext(ctx).Delete(&DetectionMarker{}, "target_id = ?", targetID).Error; err != nil {
		return fmt.Errorf("failed to delete detection marker for %s: %w", targetID, err)
	}
	return nil
}

func (s *gormMarkerStore) DeleteAll(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&DetectionMarker{}).Error; err != nil {
		return fmt.Errorf("failed to delete detection markers: %w", err)
	}
	return nil
}
