// Package topology derives the status-page component hierarchy from the
// monitoring service tree and produces the mapping snapshot the incident
// engine watches.
//
// Top-level services with children become component groups and their
// children become components inside the group. Childless top-level services
// become ungrouped components when they carry a trigger. All writes are
// find-or-create, so running Sync repeatedly never duplicates anything.
// A trigger binds at most one component: the first service in tree order
// wins and later services referencing it are skipped.
package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/d9705996/statusbridge/internal/app"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/d9705996/statusbridge/internal/topology"

// Synchronizer builds mapping snapshots.
type Synchronizer struct {
	mon  app.Monitoring
	page app.StatusPage
	root string
	rec  app.Recorder
	log  *slog.Logger

	tracer  trace.Tracer
	syncs   metric.Int64Counter
	skipped metric.Int64Counter
}

// Option customises a Synchronizer.
type Option func(*Synchronizer)

// WithRecorder journals created groups and components.
func WithRecorder(r app.Recorder) Option {
	return func(s *Synchronizer) { s.rec = r }
}

// New creates a Synchronizer rooted at root ("" for the whole tree).
func New(mon app.Monitoring, page app.StatusPage, root string, log *slog.Logger, opts ...Option) *Synchronizer {
	meter := otel.Meter(instrumentation)
	s := &Synchronizer{
		mon:    mon,
		page:   page,
		root:   root,
		log:    log.With("component", "topology"),
		tracer: otel.Tracer(instrumentation),
	}
	s.syncs, _ = meter.Int64Counter("statusbridge.topology.syncs",
		metric.WithDescription("Topology synchronisation runs by result."))
	s.skipped, _ = meter.Int64Counter("statusbridge.topology.skipped_entities",
		metric.WithDescription("Monitoring services skipped because of partial data."))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync walks the service tree and returns the resulting snapshot.
//
// The only error returned is a *app.ConfigurationError for a missing root.
// A tree that cannot be fetched yields an empty mapping and a nil error.
func (s *Synchronizer) Sync(ctx context.Context) (app.Mapping, error) {
	ctx, span := s.tracer.Start(ctx, "topology.Sync")
	defer span.End()

	tree, err := s.mon.ServiceTree(ctx, s.root)
	if err != nil {
		if errors.Is(err, app.ErrRootNotFound) {
			s.syncs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "config_error")))
			return app.Mapping{}, &app.ConfigurationError{
				Reason: fmt.Sprintf("cannot find %q service in monitoring", s.root),
				Err:    err,
			}
		}
		s.log.Error("fetch service tree", "root", s.root, "err", err)
		s.syncs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "unavailable")))
		return app.Mapping{}, nil
	}
	if len(tree) == 0 {
		s.log.Error("no child services found", "root", s.root)
	}

	var entries []app.MappingEntry
	bound := bindings{}
	for _, svc := range tree {
		if len(svc.Children) > 0 {
			entries = append(entries, s.syncGroup(ctx, svc, bound)...)
			continue
		}
		entry, err := s.syncSingle(ctx, svc, bound)
		if err != nil {
			s.skip(ctx, err)
			continue
		}
		entries = append(entries, entry)
	}

	mapping := app.NewMapping(entries)
	span.SetAttributes(attribute.Int("entries", mapping.Len()), attribute.Int("watched", mapping.Watched()))
	s.syncs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	return mapping, nil
}

// bindings maps trigger ids to the component they are bound to within one Sync.
type bindings map[string]int

func (s *Synchronizer) skip(ctx context.Context, err error) {
	s.log.Error("skipping monitoring service", "err", err)
	s.skipped.Add(ctx, 1)
}

// syncGroup handles a top-level service with children.
func (s *Synchronizer) syncGroup(ctx context.Context, svc app.MonitoringEntity, bound bindings) []app.MappingEntry {
	group, err := s.ensureGroup(ctx, svc.Name)
	if err != nil {
		s.skip(ctx, &app.PartialDataError{
			EntityID: svc.ID, EntityName: svc.Name, Reason: app.ReasonStatusPageWrite, Err: err,
		})
		return nil
	}

	entries := make([]app.MappingEntry, 0, len(svc.Children))
	for _, child := range svc.Children {
		entry, err := s.syncChild(ctx, child, group, bound)
		if err != nil {
			s.skip(ctx, err)
			continue
		}
		entry.GroupID = group.ID
		entry.GroupName = group.Name
		entries = append(entries, entry)
	}
	return entries
}

// syncChild classifies a grouped service: problem tags first, then a direct
// trigger reference, then a bare service component. Tags naming an already
// bound trigger are passed over.
func (s *Synchronizer) syncChild(ctx context.Context, child app.MonitoringEntity, group app.ComponentGroup, bound bindings) (app.MappingEntry, error) {
	status := app.MapSeverity(child.Severity)

	if ids := tagTriggerIDs(child.ProblemTags); len(ids) > 0 {
		var lastErr error
		reason := app.ReasonTriggerUnavailable
		for _, id := range ids {
			if owner, ok := bound[id]; ok {
				lastErr = fmt.Errorf("trigger %s belongs to component %d", id, owner)
				reason = app.ReasonDuplicateTrigger
				continue
			}
			trigger, err := s.mon.Trigger(ctx, id)
			if err != nil {
				s.log.Error("fetch trigger from problem tag", "service_id", child.ID, "trigger_id", id, "err", err)
				lastErr = err
				reason = app.ReasonTriggerUnavailable
				continue
			}
			return s.bindTrigger(ctx, child, trigger, group.ID, status, bound)
		}
		return app.MappingEntry{}, &app.PartialDataError{
			EntityID: child.ID, EntityName: child.Name, Reason: reason, Err: lastErr,
		}
	}

	if child.TriggerID != nil && *child.TriggerID != "" && *child.TriggerID != "0" {
		trigger, err := s.mon.Trigger(ctx, *child.TriggerID)
		if err != nil {
			return app.MappingEntry{}, &app.PartialDataError{
				EntityID: child.ID, EntityName: child.Name, Reason: app.ReasonTriggerUnavailable, Err: err,
			}
		}
		return s.bindTrigger(ctx, child, trigger, group.ID, status, bound)
	}

	comp, err := s.ensureComponent(ctx, app.ComponentFields{
		Name:    child.Name,
		GroupID: group.ID,
		Status:  status,
	})
	if err != nil {
		return app.MappingEntry{}, &app.PartialDataError{
			EntityID: child.ID, EntityName: child.Name, Reason: app.ReasonStatusPageWrite, Err: err,
		}
	}
	return app.MappingEntry{
		ServiceID:     child.ID,
		ComponentID:   comp.ID,
		ComponentName: comp.Name,
	}, nil
}

// syncSingle handles a childless top-level service.
func (s *Synchronizer) syncSingle(ctx context.Context, svc app.MonitoringEntity, bound bindings) (app.MappingEntry, error) {
	if svc.TriggerID == nil || *svc.TriggerID == "" {
		return app.MappingEntry{}, &app.PartialDataError{
			EntityID: svc.ID, EntityName: svc.Name, Reason: app.ReasonNoTrigger,
		}
	}
	if *svc.TriggerID == "0" {
		return app.MappingEntry{}, &app.PartialDataError{
			EntityID: svc.ID, EntityName: svc.Name, Reason: app.ReasonZeroTrigger,
		}
	}
	trigger, err := s.mon.Trigger(ctx, *svc.TriggerID)
	if err != nil {
		return app.MappingEntry{}, &app.PartialDataError{
			EntityID: svc.ID, EntityName: svc.Name, Reason: app.ReasonTriggerUnavailable, Err: err,
		}
	}
	return s.bindTrigger(ctx, svc, trigger, 0, app.MapSeverity(svc.Severity), bound)
}

// bindTrigger creates or finds the component for svc and claims trigger for
// it. A trigger already claimed in this Sync is rejected before any write.
func (s *Synchronizer) bindTrigger(ctx context.Context, svc app.MonitoringEntity, trigger app.Trigger, groupID int, status app.ComponentStatus, bound bindings) (app.MappingEntry, error) {
	if owner, ok := bound[trigger.ID]; ok {
		return app.MappingEntry{}, &app.PartialDataError{
			EntityID: svc.ID, EntityName: svc.Name, Reason: app.ReasonDuplicateTrigger,
			Err: fmt.Errorf("trigger %s belongs to component %d", trigger.ID, owner),
		}
	}
	comp, err := s.ensureComponent(ctx, app.ComponentFields{
		Name:        svc.Name,
		Description: trigger.Description,
		Link:        trigger.URL,
		GroupID:     groupID,
		Status:      status,
	})
	if err != nil {
		return app.MappingEntry{}, &app.PartialDataError{
			EntityID: svc.ID, EntityName: svc.Name, Reason: app.ReasonStatusPageWrite, Err: err,
		}
	}
	bound[trigger.ID] = comp.ID
	return app.MappingEntry{
		TriggerID:     trigger.ID,
		ComponentID:   comp.ID,
		ComponentName: comp.Name,
	}, nil
}

// ensureGroup finds a component group by name or creates it.
func (s *Synchronizer) ensureGroup(ctx context.Context, name string) (app.ComponentGroup, error) {
	found, err := s.page.FindComponentGroupByName(ctx, name)
	if err != nil {
		return app.ComponentGroup{}, fmt.Errorf("find component group %q: %w", name, err)
	}
	if found != nil {
		return *found, nil
	}
	group, err := s.page.CreateComponentGroup(ctx, name)
	if err != nil {
		return app.ComponentGroup{}, fmt.Errorf("create component group %q: %w", name, err)
	}
	s.log.Info("component group created", "group", name, "group_id", group.ID)
	s.record(ctx, app.Action{Kind: app.ActionGroupCreated, Detail: name})
	return group, nil
}

// ensureComponent finds a component by name within the same group or creates it.
func (s *Synchronizer) ensureComponent(ctx context.Context, f app.ComponentFields) (app.Component, error) {
	existing, err := s.page.FindComponentsByName(ctx, f.Name)
	if err != nil {
		return app.Component{}, fmt.Errorf("find component %q: %w", f.Name, err)
	}
	for _, c := range existing {
		if c.GroupID == f.GroupID {
			return c, nil
		}
	}
	comp, err := s.page.CreateComponent(ctx, f)
	if err != nil {
		return app.Component{}, fmt.Errorf("create component %q: %w", f.Name, err)
	}
	s.log.Info("component created", "component", comp.Name, "component_id", comp.ID, "group_id", f.GroupID)
	s.record(ctx, app.Action{Kind: app.ActionComponentCreated, ComponentID: comp.ID, Detail: comp.Name})
	return comp, nil
}

func (s *Synchronizer) record(ctx context.Context, a app.Action) {
	if s.rec == nil {
		return
	}
	if err := s.rec.Record(ctx, a); err != nil {
		s.log.Warn("journal record failed", "kind", a.Kind, "err", err)
	}
}

// tagTriggerIDs extracts trigger ids from problem tags with a value. The id
// is the part of the value before the first ':'.
func tagTriggerIDs(tags []app.ProblemTag) []string {
	var ids []string
	for _, t := range tags {
		if t.Value == "" {
			continue
		}
		id, _, _ := strings.Cut(t.Value, ":")
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
