// Package store persists the reconciliation journal: status-page actions and
// bound mapping snapshots.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/d9705996/statusbridge/internal/app"
	"github.com/d9705996/statusbridge/internal/model"
	"gorm.io/gorm"
)

// DefaultLimit caps RecentActions when no limit is given.
const DefaultLimit = 100

// Journal is a GORM-backed journal. It implements app.Recorder and the
// watcher's snapshot sink.
type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

// NewJournal wraps db.
func NewJournal(db *gorm.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// Record stores one action. A zero At is stamped with the current time.
func (j *Journal) Record(ctx context.Context, a app.Action) error {
	if a.At.IsZero() {
		a.At = j.now()
	}
	rec := model.NewActionRecord(a)
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("record action %s: %w", a.Kind, err)
	}
	return nil
}

// ActionFilter narrows RecentActions.
type ActionFilter struct {
	ComponentID int
	Kind        app.ActionKind
	Limit       int
}

// RecentActions returns actions newest first.
func (j *Journal) RecentActions(ctx context.Context, f ActionFilter) ([]model.ActionRecord, error) {
	limit := f.Limit
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	q := j.db.WithContext(ctx).Order("occurred_at DESC").Limit(limit)
	if f.ComponentID != 0 {
		q = q.Where("component_id = ?", f.ComponentID)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", string(f.Kind))
	}
	var out []model.ActionRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return out, nil
}

// PruneActions deletes actions that happened before cutoff.
func (j *Journal) PruneActions(ctx context.Context, cutoff time.Time) (int64, error) {
	res := j.db.WithContext(ctx).Where("occurred_at < ?", cutoff.UTC()).Delete(&model.ActionRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune actions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SaveSnapshot stores a newly bound mapping.
func (j *Journal) SaveSnapshot(ctx context.Context, generation uint64, m app.Mapping) error {
	snap := model.MappingSnapshot{
		Generation: int64(generation), //nolint:gosec // generations never approach MaxInt64
		Entries:    m.Len(),
		Watched:    m.Watched(),
		Payload:    m.Entries(),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&snap).Error; err != nil {
		return fmt.Errorf("save mapping snapshot %d: %w", generation, err)
	}
	return nil
}

// LatestSnapshot returns the most recently saved snapshot, or nil.
func (j *Journal) LatestSnapshot(ctx context.Context) (*model.MappingSnapshot, error) {
	var snap model.MappingSnapshot
	err := j.db.WithContext(ctx).Order("created_at DESC").Order("generation DESC").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest mapping snapshot: %w", err)
	}
	return &snap, nil
}
