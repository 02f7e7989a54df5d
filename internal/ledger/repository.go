package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a record id is not in the ledger.
var ErrNotFound = errors.New("notification record not found")

// Repository is the durable side of the ledger. Every method commits before
// returning.
type Repository interface {
	Load(ctx context.Context) ([]Record, *time.Time, error)
	Append(ctx context.Context, rec Record, capacity int) ([]uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteAll(ctx context.Context) error
	SaveLastViewed(ctx context.Context, at time.Time) error
}

// GORMRepository implements the Repository interface using GORM.
type GORMRepository struct {
	db *gorm.DB
}

// NewGORMRepository creates a new GORM ledger repository.
func NewGORMRepository(db *gorm.DB) Repository {
	return &GORMRepository{db: db}
}

// Load returns all records newest first and the watermark.
func (r *GORMRepository) Load(ctx context.Context) ([]Record, *time.Time, error) {
	var records []Record
	if err := r.db.WithContext(ctx).Order("seq DESC").Find(&records).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load notification records: %w", err)
	}
	var state State
	err := r.db.WithContext(ctx).First(&state, stateRowID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("failed to load ledger state: %w", err)
	}
	return records, state.LastViewedAt, nil
}

// Append inserts rec and deletes everything beyond the newest capacity
// records in one transaction. It returns the evicted ids.
func (r *GORMRepository) Append(ctx context.Context, rec Record, capacity int) ([]uuid.UUID, error) {
	var evicted []uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to insert notification record: %w", err)
		}
		var ids []uuid.UUID
		if err := tx.Model(&Record{}).Order("seq DESC").Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to list notification records: %w", err)
		}
		if len(ids) <= capacity {
			return nil
		}
		evicted = ids[capacity:]
		if err := tx.Where("id IN ?", evicted).Delete(&Record{}).Error; err != nil {
			return fmt.Errorf("failed to evict %d records: %w", len(evicted), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

// Delete removes one record.
func (r *GORMRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&Record{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete notification record %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every record. The watermark is kept.
func (r *GORMRepository) DeleteAll(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("failed to delete notification records: %w", err)
	}
	return nil
}

// SaveLastViewed upserts the watermark row.
func (r *GORMRepository) SaveLastViewed(ctx context.Context, at time.Time) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_viewed_at"}),
	}).Create(&State{ID: stateRowID, LastViewedAt: &at}).Error
	if err != nil {
		return fmt.Errorf("failed to save last viewed watermark: %w", err)
	}
	return nil
}
