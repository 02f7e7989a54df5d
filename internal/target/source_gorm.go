package target

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GORMSource reads active targets from the targets table.
type GORMSource struct {
	db *gorm.DB
}

// NewGORMSource creates a database-backed target source.
func NewGORMSource(db *gorm.DB) *GORMSource {
	return &GORMSource{db: db}
}

// FetchActiveTargets returns all active targets ordered by id.
func (s *GORMSource) FetchActiveTargets(ctx context.Context) ([]Target, error) {
	var rows []Record
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load active targets: %w", err)
	}
	targets := make([]Target, len(rows))
	for i, row := range rows {
		targets[i] = row.ToTarget()
	}
	return targets, nil
}

// Upsert inserts or updates the given targets as active rows.
func (s *GORMSource) Upsert(ctx context.Context, targets []Target) error {
	if len(targets) == 0 {
		return nil
	}
	rows := make([]Record, len(targets))
	for i, t := range targets {
		rows[i] = RecordFromTarget(t)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "latitude", "longitude", "category", "active", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to upsert %d targets: %w", len(rows), err)
	}
	return nil
}

// Deactivate marks a target inactive so it drops out of the next refresh.
func (s *GORMSource) Deactivate(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate target %s: %w", id, res.Error)
	}
	return nil
}
