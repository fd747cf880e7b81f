package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/d9705996/statusbridge/internal/app"
	"github.com/d9705996/statusbridge/internal/config"
	"github.com/d9705996/statusbridge/internal/db"
	"github.com/d9705996/statusbridge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJournal(t *testing.T) *store.Journal {
	t.Helper()
	gormDB, pool, err := db.New(context.Background(), &config.DBConfig{
		Driver: "sqlite",
		File:   filepath.Join(t.TempDir(), "journal.db"),
	})
	require.NoError(t, err)
	require.Nil(t, pool)
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.NewJournal(gormDB)
}

func TestJournal_RecordAndList(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, app.Action{Kind: app.ActionIncidentOpened, ComponentID: 3, IncidentID: 11, TriggerID: "100", Detail: "API down", At: base}))
	require.NoError(t, j.Record(ctx, app.Action{Kind: app.ActionComponentStatus, ComponentID: 3, Detail: "major_outage", At: base.Add(time.Second)}))
	require.NoError(t, j.Record(ctx, app.Action{Kind: app.ActionComponentStatus, ComponentID: 4, Detail: "operational", At: base.Add(2 * time.Second)}))

	all, err := j.RecentActions(ctx, store.ActionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 4, all[0].ComponentID, "newest first")
	assert.NotEmpty(t, all[0].ID)

	forComponent, err := j.RecentActions(ctx, store.ActionFilter{ComponentID: 3})
	require.NoError(t, err)
	require.Len(t, forComponent, 2)
	opened := forComponent[1].Action()
	assert.Equal(t, app.ActionIncidentOpened, opened.Kind)
	assert.Equal(t, 11, opened.IncidentID)
	assert.Equal(t, "100", opened.TriggerID)
	assert.True(t, base.Equal(opened.At))

	byKind, err := j.RecentActions(ctx, store.ActionFilter{Kind: app.ActionComponentStatus, Limit: 1})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, "operational", byKind[0].Detail)
}

func TestJournal_RecordStampsZeroTime(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)
	before := time.Now().Add(-time.Second)

	require.NoError(t, j.Record(ctx, app.Action{Kind: app.ActionGroupCreated, Detail: "Core"}))

	got, err := j.RecentActions(ctx, store.ActionFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].OccurredAt.After(before))
}

func TestJournal_PruneActions(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)
	now := time.Now().UTC()

	require.NoError(t, j.Record(ctx, app.Action{Kind: app.ActionComponentStatus, Detail: "old", At: now.Add(-48 * time.Hour)}))
	require.NoError(t, j.Record(ctx, app.Action{Kind: app.ActionComponentStatus, Detail: "new", At: now}))

	n, err := j.PruneActions(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	left, err := j.RecentActions(ctx, store.ActionFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].Detail)
}

func TestJournal_Snapshots(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)

	latest, err := j.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := app.NewMapping([]app.MappingEntry{{ComponentID: 1, TriggerID: "10", ComponentName: "API"}})
	second := app.NewMapping([]app.MappingEntry{
		{ComponentID: 1, TriggerID: "10", ComponentName: "API"},
		{ComponentID: 2, ComponentName: "Web"},
	})
	require.NoError(t, j.SaveSnapshot(ctx, 1, first))
	require.NoError(t, j.SaveSnapshot(ctx, 2, second))

	latest, err = j.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.EqualValues(t, 2, latest.Generation)
	assert.Equal(t, 2, latest.Entries)
	assert.Equal(t, 1, latest.Watched)
	assert.True(t, second.Equal(latest.Mapping()))
}
