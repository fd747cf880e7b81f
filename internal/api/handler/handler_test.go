package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/d9705996/statusbridge/internal/api/handler"
	"github.com/d9705996/statusbridge/internal/api/jsonapi"
	"github.com/d9705996/statusbridge/internal/app"
	"github.com/d9705996/statusbridge/internal/model"
	"github.com/d9705996/statusbridge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedMapping struct {
	m   app.Mapping
	gen uint64
}

func (f fixedMapping) Snapshot() app.Mapping { return f.m }
func (f fixedMapping) Generation() uint64    { return f.gen }

type fakeLister struct {
	got     store.ActionFilter
	records []model.ActionRecord
	err     error
}

func (f *fakeLister) RecentActions(_ context.Context, flt store.ActionFilter) ([]model.ActionRecord, error) {
	f.got = flt
	return f.records, f.err
}

type fakeSnapshots struct {
	snap  *model.MappingSnapshot
	err   error
	calls int
}

func (f *fakeSnapshots) LatestSnapshot(context.Context) (*model.MappingSnapshot, error) {
	f.calls++
	return f.snap, f.err
}

func get(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestMappingHandler_List(t *testing.T) {
	src := fixedMapping{gen: 3, m: app.NewMapping([]app.MappingEntry{
		{TriggerID: "100", ComponentID: 1, ComponentName: "API", GroupID: 7, GroupName: "Core"},
		{ServiceID: "9", ComponentID: 2, ComponentName: "Docs"},
	})}

	w := get(handler.NewMappingHandler(src, nil).List, "/api/v1/mapping")
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		Data []struct {
			Type       string           `json:"type"`
			Attributes app.MappingEntry `json:"attributes"`
		} `json:"data"`
		Meta map[string]float64 `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Data, 2)
	assert.Equal(t, "mapping_entries", doc.Data[0].Type)
	assert.Equal(t, "Core", doc.Data[0].Attributes.GroupName)
	assert.Equal(t, "9", doc.Data[1].Attributes.ServiceID)
	assert.InDelta(t, 3, doc.Meta["generation"], 0)
	assert.InDelta(t, 1, doc.Meta["watched"], 0)
}

func TestMappingHandler_EmptyBeforeFirstBind(t *testing.T) {
	w := get(handler.NewMappingHandler(fixedMapping{}, &fakeSnapshots{}).List, "/api/v1/mapping")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
	assert.Contains(t, w.Body.String(), `"source":"live"`)
}

func TestMappingHandler_JournalFallbackBeforeFirstBind(t *testing.T) {
	persisted := &fakeSnapshots{snap: &model.MappingSnapshot{
		Generation: 4,
		Payload: model.MappingEntries{
			{TriggerID: "100", ComponentID: 1, ComponentName: "API"},
			{ServiceID: "9", ComponentID: 2, ComponentName: "Docs"},
		},
	}}

	w := get(handler.NewMappingHandler(fixedMapping{}, persisted).List, "/api/v1/mapping")
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		Data []struct {
			Attributes app.MappingEntry `json:"attributes"`
		} `json:"data"`
		Meta map[string]any `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Data, 2)
	assert.Equal(t, "API", doc.Data[0].Attributes.ComponentName)
	assert.Equal(t, "journal", doc.Meta["source"])
	assert.InDelta(t, 4, doc.Meta["generation"], 0)
	assert.InDelta(t, 1, doc.Meta["watched"], 0)
}

func TestMappingHandler_LiveMappingWinsAfterBind(t *testing.T) {
	persisted := &fakeSnapshots{snap: &model.MappingSnapshot{Generation: 9}}
	src := fixedMapping{gen: 1, m: app.NewMapping([]app.MappingEntry{{TriggerID: "100", ComponentID: 1, ComponentName: "API"}})}

	w := get(handler.NewMappingHandler(src, persisted).List, "/api/v1/mapping")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"source":"live"`)
	assert.Zero(t, persisted.calls)
}

func TestMappingHandler_JournalErrorServesLiveMapping(t *testing.T) {
	w := get(handler.NewMappingHandler(fixedMapping{}, &fakeSnapshots{err: errors.New("locked")}).List, "/api/v1/mapping")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestActionsHandler_List(t *testing.T) {
	at := time.Date(2024, 5, 10, 12, 30, 0, 0, time.UTC)
	lister := &fakeLister{records: []model.ActionRecord{
		{ID: "a1", Kind: string(app.ActionIncidentOpened), ComponentID: 3, IncidentID: 11, TriggerID: "100", OccurredAt: at},
	}}

	w := get(handler.NewActionsHandler(lister).List, "/api/v1/actions?component_id=3&kind=incident_opened&limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, store.ActionFilter{ComponentID: 3, Kind: app.ActionIncidentOpened, Limit: 5}, lister.got)

	var doc struct {
		Data []struct {
			ID         string             `json:"id"`
			Attributes model.ActionRecord `json:"attributes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Data, 1)
	assert.Equal(t, "a1", doc.Data[0].ID)
	assert.Equal(t, 11, doc.Data[0].Attributes.IncidentID)
	assert.True(t, at.Equal(doc.Data[0].Attributes.OccurredAt))
	assert.Equal(t, "100", doc.Data[0].Attributes.TriggerID)
	assert.Equal(t, string(app.ActionIncidentOpened), doc.Data[0].Attributes.Kind)
	assert.NotContains(t, w.Body.String(), "created_at")
}

func TestActionsHandler_BadParameter(t *testing.T) {
	w := get(handler.NewActionsHandler(&fakeLister{}).List, "/api/v1/actions?limit=lots")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var doc jsonapi.ErrorDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Errors, 1)
	require.NotNil(t, doc.Errors[0].Source)
	assert.Equal(t, "limit", doc.Errors[0].Source.Parameter)
}

func TestActionsHandler_StoreError(t *testing.T) {
	w := get(handler.NewActionsHandler(&fakeLister{err: errors.New("locked")}).List, "/api/v1/actions")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "locked")
}
