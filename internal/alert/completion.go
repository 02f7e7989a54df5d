package alert

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CompletionMarker records that the user finished the action for a target.
type CompletionMarker struct {
	TargetID    string    `gorm:"type:varchar(128);primaryKey"`
	CompletedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for GORM.
func (CompletionMarker) TableName() string {
	return "completion_markers"
}

// CompletionStore persists the completion set.
type CompletionStore interface {
	Load(ctx context.Context) (map[string]time.Time, error)
	Add(ctx context.Context, targetID string, at time.Time) error
	Remove(ctx context.Context, targetID string) error
}

type gormCompletionStore struct {
	db *gorm.DB
}

// NewGORMCompletionStore creates a completion store backed by the
// completion_markers table.
func NewGORMCompletionStore(db *gorm.DB) CompletionStore {
	return &gormCompletionStore{db: db}
}

func (s *gormCompletionStore) Load(ctx context.Context) (map[string]time.Time, error) {
	var rows []CompletionMarker
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load completion markers: %w", err)
	}
	out := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		out[r.TargetID] = r.CompletedAt
	}
	return out, nil
}

func (s *gormCompletionStore) Add(ctx context.Context, targetID string, at time.Time) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "target_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"completed_at"}),
	}).Create(&CompletionMarker{TargetID: targetID, CompletedAt: at}).Error
	if err != nil {
		return fmt.Errorf("failed to save completion marker for %s: %w", targetID, err)
	}
	return nil
}

func (s *gormCompletionStore) Remove(ctx context.Context, targetID string) error {
	if err := s.db.WithContext(ctx).Delete(&CompletionMarker{}, "target_id = ?", targetID).Error; err != nil {
		return fmt.Errorf("failed to delete completion marker for %s: %w", targetID, err)
	}
	return nil
}
