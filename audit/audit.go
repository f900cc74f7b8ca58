// Package audit records security events for the authentication flows.
//
// Events are persisted alongside the rest of the application data; failures
// to record are logged and never fail the flow that produced them.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event is a structured security event record.
type Event struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Type      string    `gorm:"index" json:"type"`       // e.g. "auth.link.issued"
	SubjectID string    `gorm:"index" json:"subject_id"` // the affected address
	Status    string    `gorm:"index" json:"status"`     // "success", "failure"
	Message   string    `json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Event) TableName() string { return "audit_events" }

// Store persists audit events.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Record persists the event, filling in ID and CreatedAt when unset.
func (s *Store) Record(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(event).Error
}

// Recent returns the newest events for a subject, most recent first.
func (s *Store) Recent(ctx context.Context, subjectID string, limit int) ([]Event, error) {
	var events []Event
	err := s.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
