// Package handler contains admin HTTP handlers grouped by resource.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/d9705996/statusbridge/internal/api/jsonapi"
	"github.com/d9705996/statusbridge/internal/app"
	"github.com/d9705996/statusbridge/internal/model"
	"github.com/d9705996/statusbridge/internal/store"
)

// MappingSource exposes the currently bound mapping.
type MappingSource interface {
	Snapshot() app.Mapping
	Generation() uint64
}

// SnapshotReader returns the last mapping persisted to the journal, or nil.
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context) (*model.MappingSnapshot, error)
}

// ActionLister reads the reconciliation journal.
type ActionLister interface {
	RecentActions(ctx context.Context, f store.ActionFilter) ([]model.ActionRecord, error)
}

// MappingHandler serves GET /api/v1/mapping.
type MappingHandler struct {
	src       MappingSource
	persisted SnapshotReader
}

// NewMappingHandler creates a MappingHandler. persisted may be nil.
func NewMappingHandler(src MappingSource, persisted SnapshotReader) *MappingHandler {
	return &MappingHandler{src: src, persisted: persisted}
}

// List renders one resource per mapping entry. The bound generation is
// reported in meta. Until the supervisor binds its first mapping the last
// snapshot saved to the journal is served, with meta source "journal".
func (h *MappingHandler) List(w http.ResponseWriter, r *http.Request) {
	m, gen, source := h.current(r.Context())
	data := make([]any, 0, m.Len())
	for i, e := range m.Entries() {
		data = append(data, jsonapi.ResourceObject{
			Type:       "mapping_entries",
			ID:         strconv.Itoa(i + 1),
			Attributes: e,
		})
	}
	jsonapi.Render(w, http.StatusOK, jsonapi.ListDocument{
		Data: data,
		Meta: jsonapi.Meta{
			"generation": gen,
			"entries":    m.Len(),
			"watched":    m.Watched(),
			"source":     source,
		},
	})
}

func (h *MappingHandler) current(ctx context.Context) (app.Mapping, uint64, string) {
	gen := h.src.Generation()
	if gen > 0 || h.persisted == nil {
		return h.src.Snapshot(), gen, "live"
	}
	snap, err := h.persisted.LatestSnapshot(ctx)
	if err != nil || snap == nil {
		return h.src.Snapshot(), gen, "live"
	}
	return snap.Mapping(), uint64(snap.Generation), "journal" //nolint:gosec // generations are never negative
}

// ActionsHandler serves GET /api/v1/actions.
type ActionsHandler struct {
	journal ActionLister
}

// NewActionsHandler creates an ActionsHandler.
func NewActionsHandler(journal ActionLister) *ActionsHandler {
	return &ActionsHandler{journal: journal}
}

// List renders the newest journal actions. Optional query parameters:
// component_id, kind and limit.
func (h *ActionsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.ActionFilter
	for param, dst := range map[string]*int{"component_id": &f.ComponentID, "limit": &f.Limit} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonapi.RenderErrors(w, http.StatusBadRequest, []jsonapi.ErrorObject{{
				Status: http.StatusText(http.StatusBadRequest),
				Code:   "invalid_parameter",
				Title:  "Bad Request",
				Detail: param + " must be a non-negative integer",
				Source: &jsonapi.ErrorSource{Parameter: param},
			}})
			return
		}
		*dst = n
	}
	f.Kind = app.ActionKind(q.Get("kind"))

	records, err := h.journal.RecentActions(r.Context(), f)
	if err != nil {
		jsonapi.RenderError(w, http.StatusInternalServerError,
			"internal_error", "Internal Server Error", "could not read the journal")
		return
	}
	data := make([]any, 0, len(records))
	for _, rec := range records {
		data = append(data, jsonapi.ResourceObject{Type: "actions", ID: rec.ID, Attributes: newActionAttributes(rec.Action())})
	}
	jsonapi.RenderList(w, http.StatusOK, data, &jsonapi.Pagination{PageSize: len(data)})
}

type actionAttributes struct {
	Kind        app.ActionKind `json:"kind"`
	ComponentID int            `json:"component_id,omitempty"`
	IncidentID  int            `json:"incident_id,omitempty"`
	TriggerID   string         `json:"trigger_id,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

func newActionAttributes(a app.Action) actionAttributes {
	return actionAttributes{
		Kind:        a.Kind,
		ComponentID: a.ComponentID,
		IncidentID:  a.IncidentID,
		TriggerID:   a.TriggerID,
		Detail:      a.Detail,
		OccurredAt:  a.At.UTC(),
	}
}
