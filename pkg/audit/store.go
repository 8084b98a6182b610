// Package audit records mutating requests in an append-only trail.
package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/policystore/policystore/pkg/ha"
)

// EventRecord is an immutable audit log entry.
type EventRecord struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	RequestID     string    `gorm:"column:request_id;index"`
	CorrelationID string    `gorm:"column:correlation_id;index"`
	Actor         string    `gorm:"column:actor;index:idx_audit_actor_time,priority:1;not null"`
	Action        string    `gorm:"column:action;not null"`
	Resource      string    `gorm:"column:resource"`
	Outcome       string    `gorm:"column:outcome;not null"` // success, failure, denied
	StatusCode    int       `gorm:"column:status_code"`
	Method        string    `gorm:"column:method"`
	Path          string    `gorm:"column:path"`
	Detail        string    `gorm:"column:detail;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;index:idx_audit_actor_time,priority:2;autoCreateTime"`
}

// TableName returns the GORM table name.
func (EventRecord) TableName() string { return "audit_events" }

// Store provides append-only operations for audit event records.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the audit schema and returns a Store.
func NewStore(db *gorm.DB) (*Store, error) {
	err := ha.NewMigrationLocker(db).WithLock(context.Background(), func() error {
		return db.AutoMigrate(&EventRecord{})
	})
	if err != nil {
		return nil, fmt.Errorf("auto-migrate audit store: %w", err)
	}
	return &Store{db: db}, nil
}

// Append creates a new immutable audit event record.
func (s *Store) Append(event *EventRecord) error {
	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// DeleteOlderThan deletes audit events created before the given cutoff.
// Returns the number of deleted records.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&EventRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
