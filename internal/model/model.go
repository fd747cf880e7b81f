// Package model contains GORM model definitions for the reconciliation
// journal. All models are driver-agnostic: they work with both PostgreSQL
// and SQLite.
package model

import (
	"time"

	"github.com/d9705996/statusbridge/internal/app"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActionRecord is one status-page mutation performed by the bridge.
type ActionRecord struct {
	ID          string    `gorm:"type:text;primaryKey"                json:"id"`
	Kind        string    `gorm:"type:text;not null;index"            json:"kind"`
	ComponentID int       `gorm:"not null;default:0;index"            json:"component_id,omitempty"`
	IncidentID  int       `gorm:"not null;default:0"                  json:"incident_id,omitempty"`
	TriggerID   string    `gorm:"type:text;not null;default:''"       json:"trigger_id,omitempty"`
	Detail      string    `gorm:"type:text;not null;default:''"       json:"detail,omitempty"`
	OccurredAt  time.Time `gorm:"not null;index"                      json:"occurred_at"`
	CreatedAt   time.Time `gorm:"not null"                            json:"-"`
}

// TableName pins the table name shared with the SQL migrations.
func (ActionRecord) TableName() string { return "actions" }

// BeforeCreate generates a UUID primary key if not set.
func (a *ActionRecord) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// Action converts the record back into the domain value.
func (a ActionRecord) Action() app.Action {
	return app.Action{
		Kind:        app.ActionKind(a.Kind),
		ComponentID: a.ComponentID,
		IncidentID:  a.IncidentID,
		TriggerID:   a.TriggerID,
		Detail:      a.Detail,
		At:          a.OccurredAt,
	}
}

// NewActionRecord builds a record from a domain action.
func NewActionRecord(a app.Action) ActionRecord {
	return ActionRecord{
		Kind:        string(a.Kind),
		ComponentID: a.ComponentID,
		IncidentID:  a.IncidentID,
		TriggerID:   a.TriggerID,
		Detail:      a.Detail,
		OccurredAt:  a.At.UTC(),
	}
}

// MappingEntries is serialised as JSON in a TEXT column.
type MappingEntries []app.MappingEntry

// MappingSnapshot is a mapping bound by the watcher supervisor.
type MappingSnapshot struct {
	ID         string         `gorm:"type:text;primaryKey"`
	Generation int64          `gorm:"not null;index"`
	Entries    int            `gorm:"not null"`
	Watched    int            `gorm:"not null"`
	Payload    MappingEntries `gorm:"type:text;not null;serializer:json"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}

// BeforeCreate generates a UUID primary key if not set.
func (s *MappingSnapshot) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// Mapping rebuilds the domain snapshot.
func (s MappingSnapshot) Mapping() app.Mapping {
	return app.NewMapping(s.Payload)
}
