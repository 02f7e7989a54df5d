// Package ledger keeps the capped, newest-first history of dispatched
// in-app notifications and the "last viewed" watermark.
package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordType is the kind of a notification record.
type RecordType string

const (
	SpotNearby    RecordType = "spot_nearby"
	SpotCompleted RecordType = "spot_completed"
)

// Metadata is free-form string data attached to a record.
type Metadata map[string]string

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}
	return json.Unmarshal(b, m)
}

// Record is a dispatched notification. Records are never modified once created.
type Record struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Seq       int64      `gorm:"not null;uniqueIndex" json:"-"`
	Type      RecordType `gorm:"type:varchar(100);not null" json:"type"`
	Title     string     `gorm:"type:varchar(255);not null" json:"title"`
	Body      string     `gorm:"type:text;not null" json:"body"`
	Timestamp time.Time  `gorm:"not null;index" json:"timestamp"`
	TargetID  *string    `gorm:"type:varchar(128);index" json:"target_id,omitempty"`
	Metadata  Metadata   `gorm:"type:text" json:"metadata,omitempty"`
}

// TableName specifies the table name for GORM.
func (Record) TableName() string {
	return "notification_records"
}

// State holds the single-row ledger watermark.
type State struct {
	ID           int        `gorm:"primaryKey"`
	LastViewedAt *time.Time `json:"last_viewed_at"`
}

// TableName specifies the table name for GORM.
func (State) TableName() string {
	return "notification_ledger_state"
}

const stateRowID = 1

// RecordResponse is the API shape of a record.
type RecordResponse struct {
	ID        uuid.UUID  `json:"id"`
	Type      RecordType `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Timestamp time.Time  `json:"timestamp"`
	TargetID  *string    `json:"target_id,omitempty"`
	Metadata  Metadata   `json:"metadata,omitempty"`
	Unread    bool       `json:"unread"`
}

// ListResponse is the inbox view.
type ListResponse struct {
	Notifications []RecordResponse `json:"notifications"`
	UnreadCount   int              `json:"unread_count"`
	LastViewedAt  *time.Time       `json:"last_viewed_at,omitempty"`
}
