// Package incident reconciles trigger and event state into status-page
// incidents and component statuses.
//
// Per component the lifecycle is
//
//	NONE -> INVESTIGATING | IDENTIFIED -> (message updates) -> FIXED -> NONE
//
// Every tick recomputes the desired incident from scratch and only writes
// when it differs from what the status page already holds.
package incident

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/d9705996/statusbridge/internal/app"
	"github.com/d9705996/statusbridge/internal/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/d9705996/statusbridge/internal/incident"

// Outcome is what one entry reconciliation did.
type Outcome string

const (
	OutcomeNoop           Outcome = "noop"
	OutcomeOpened         Outcome = "opened"
	OutcomeUpdated        Outcome = "updated"
	OutcomeResolved       Outcome = "resolved"
	OutcomeComponentReset Outcome = "component_reset"
	OutcomeSkipped        Outcome = "skipped"
)

// TickResult summarises one pass over a mapping.
type TickResult struct {
	Entries  int
	Failed   int
	Outcomes map[Outcome]int
}

// Engine is the incident lifecycle engine.
type Engine struct {
	mon  app.Monitoring
	page app.StatusPage
	tmpl *render.Templates
	rec  app.Recorder
	log  *slog.Logger
	now  func() time.Time

	tracer       trace.Tracer
	outcomes     metric.Int64Counter
	tickDuration metric.Float64Histogram
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRecorder journals every status-page mutation.
func WithRecorder(r app.Recorder) Option {
	return func(e *Engine) { e.rec = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(mon app.Monitoring, page app.StatusPage, tmpl *render.Templates, opts ...Option) *Engine {
	e := &Engine{
		mon:    mon,
		page:   page,
		tmpl:   tmpl,
		log:    slog.Default(),
		now:    time.Now,
		tracer: otel.Tracer(instrumentation),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "incident")

	meter := otel.Meter(instrumentation)
	e.outcomes, _ = meter.Int64Counter("statusbridge.incident.outcomes",
		metric.WithDescription("Per-entry reconciliation outcomes."))
	e.tickDuration, _ = meter.Float64Histogram("statusbridge.incident.tick_duration",
		metric.WithDescription("Duration of a reconciliation tick."),
		metric.WithUnit("s"))
	return e
}

// Reconcile runs one tick over every trigger-bound entry of m. A failing
// entry is logged and skipped; the rest of the batch still runs.
func (e *Engine) Reconcile(ctx context.Context, m app.Mapping) TickResult {
	ctx, span := e.tracer.Start(ctx, "incident.Reconcile")
	defer span.End()
	start := time.Now()

	res := TickResult{Outcomes: map[Outcome]int{}}
	for _, entry := range m.Entries() {
		if !entry.Watched() {
			continue
		}
		res.Entries++
		out, err := e.ReconcileEntry(ctx, entry)
		res.Outcomes[out]++
		e.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(out))))
		if err != nil {
			res.Failed++
			e.log.Error("reconcile entry",
				"trigger_id", entry.TriggerID,
				"component_id", entry.ComponentID,
				"err", err)
		}
	}

	e.tickDuration.Record(ctx, time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("entries", res.Entries), attribute.Int("failed", res.Failed))
	if res.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d entries failed", res.Failed))
	}
	return res
}

// ReconcileEntry reconciles a single mapping entry.
func (e *Engine) ReconcileEntry(ctx context.Context, entry app.MappingEntry) (Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "incident.ReconcileEntry", trace.WithAttributes(
		attribute.String("trigger_id", entry.TriggerID),
		attribute.Int("component_id", entry.ComponentID),
	))
	defer span.End()

	trigger, err := e.mon.Trigger(ctx, entry.TriggerID)
	if err != nil {
		span.RecordError(err)
		return OutcomeSkipped, fmt.Errorf("get trigger %s: %w", entry.TriggerID, err)
	}

	var out Outcome
	switch trigger.Value {
	case app.TriggerInactive:
		out, err = e.resolve(ctx, entry)
	case app.TriggerActive:
		out, err = e.raise(ctx, entry, trigger)
	default:
		e.log.Warn("unknown trigger value", "trigger_id", trigger.ID, "value", trigger.Value)
		return OutcomeSkipped, nil
	}
	if err != nil {
		span.RecordError(err)
		return out, err
	}
	span.SetAttributes(attribute.String("outcome", string(out)))
	return out, nil
}

// resolve handles an inactive trigger.
func (e *Engine) resolve(ctx context.Context, entry app.MappingEntry) (Outcome, error) {
	comp, err := e.page.Component(ctx, entry.ComponentID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("get component %d: %w", entry.ComponentID, err)
	}
	if comp.Status == app.ComponentOperational {
		return OutcomeNoop, nil
	}

	inc, err := e.page.FindUnresolvedIncident(ctx, entry.ComponentID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("find unresolved incident for component %d: %w", entry.ComponentID, err)
	}
	if inc == nil {
		if err := e.setComponentStatus(ctx, entry, app.ComponentOperational); err != nil {
			return OutcomeSkipped, err
		}
		return OutcomeComponentReset, nil
	}

	prefix, err := e.tmpl.Resolving(e.now())
	if err != nil {
		return OutcomeSkipped, err
	}
	msg := prefix + inc.Message
	if _, err := e.page.UpdateIncident(ctx, inc.ID, app.IncidentUpdate{
		Message:         &msg,
		Status:          app.Ptr(app.IncidentFixed),
		ComponentStatus: app.Ptr(app.ComponentOperational),
	}); err != nil {
		return OutcomeSkipped, fmt.Errorf("resolve incident %d: %w", inc.ID, err)
	}
	e.log.Info("incident resolved", "incident_id", inc.ID, "component_id", entry.ComponentID, "trigger_id", entry.TriggerID)
	e.record(ctx, app.Action{Kind: app.ActionIncidentResolved, ComponentID: entry.ComponentID, IncidentID: inc.ID, TriggerID: entry.TriggerID})

	if err := e.setComponentStatus(ctx, entry, app.ComponentOperational); err != nil {
		return OutcomeResolved, err
	}
	return OutcomeResolved, nil
}

// raise handles an active trigger.
func (e *Engine) raise(ctx context.Context, entry app.MappingEntry, trigger app.Trigger) (Outcome, error) {
	event, err := e.mon.LatestEvent(ctx, trigger.ID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("get latest event for trigger %s: %w", trigger.ID, err)
	}
	if event == nil {
		event = &app.Event{TriggerID: trigger.ID}
	}

	status := app.IncidentInvestigating
	var msg string
	if event.Acknowledged {
		status = app.IncidentIdentified
		if msg, err = e.mergeAcknowledgments(event.Acknowledgments); err != nil {
			return OutcomeSkipped, err
		}
	}
	compStatus := app.ComponentStatusForPriority(trigger.Priority)

	if msg == "" && e.tmpl.HasInvestigating() {
		if msg, err = e.tmpl.Investigating(render.InvestigatingData{
			Group:     entry.GroupName,
			Component: entry.ComponentName,
			EventTime: event.Clock,
			Trigger:   trigger,
		}); err != nil {
			return OutcomeSkipped, err
		}
	}
	if msg == "" {
		msg = trigger.Comments
	}
	if msg == "" {
		msg = trigger.Description
	}

	name := trigger.Description
	if entry.GroupName != "" {
		name = entry.GroupName + " | " + name
	}

	existing, err := e.page.FindUnresolvedIncident(ctx, entry.ComponentID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("find unresolved incident for component %d: %w", entry.ComponentID, err)
	}

	if existing == nil {
		inc, err := e.page.CreateIncident(ctx, app.IncidentFields{
			Name:            name,
			Message:         msg,
			Status:          status,
			ComponentID:     entry.ComponentID,
			ComponentStatus: compStatus,
		})
		if err != nil {
			return OutcomeSkipped, fmt.Errorf("create incident for component %d: %w", entry.ComponentID, err)
		}
		e.log.Info("incident created", "incident_id", inc.ID, "name", name, "component_id", entry.ComponentID, "status", status)
		e.record(ctx, app.Action{Kind: app.ActionIncidentOpened, ComponentID: entry.ComponentID, IncidentID: inc.ID, TriggerID: trigger.ID, Detail: name})
		if err := e.setComponentStatus(ctx, entry, compStatus); err != nil {
			return OutcomeOpened, err
		}
		return OutcomeOpened, nil
	}

	if strings.TrimSpace(existing.Message) == strings.TrimSpace(msg) {
		return OutcomeNoop, nil
	}
	if _, err := e.page.UpdateIncident(ctx, existing.ID, app.IncidentUpdate{
		Message:         &msg,
		Status:          &status,
		ComponentStatus: &compStatus,
	}); err != nil {
		return OutcomeSkipped, fmt.Errorf("update incident %d: %w", existing.ID, err)
	}
	e.log.Info("incident updated", "incident_id", existing.ID, "component_id", entry.ComponentID, "status", status)
	e.record(ctx, app.Action{Kind: app.ActionIncidentUpdated, ComponentID: entry.ComponentID, IncidentID: existing.ID, TriggerID: trigger.ID, Detail: status.String()})
	if err := e.setComponentStatus(ctx, entry, compStatus); err != nil {
		return OutcomeUpdated, err
	}
	return OutcomeUpdated, nil
}

// mergeAcknowledgments renders acknowledgments oldest first and prepends each
// block not already present, so the newest ends up on top.
func (e *Engine) mergeAcknowledgments(acks []app.Acknowledgment) (string, error) {
	sorted := slices.Clone(acks)
	slices.SortStableFunc(sorted, func(a, b app.Acknowledgment) int {
		return cmp.Compare(a.Clock.UnixNano(), b.Clock.UnixNano())
	})

	var msg string
	for _, ack := range sorted {
		block, err := e.tmpl.Acknowledgement(ack)
		if err != nil {
			return "", err
		}
		if !strings.Contains(msg, block) {
			msg = block + msg
		}
	}
	return msg, nil
}

func (e *Engine) setComponentStatus(ctx context.Context, entry app.MappingEntry, s app.ComponentStatus) error {
	if _, err := e.page.UpdateComponent(ctx, entry.ComponentID, app.SetStatus(s)); err != nil {
		return fmt.Errorf("set component %d status %s: %w", entry.ComponentID, s, err)
	}
	e.log.Info("component status set", "component_id", entry.ComponentID, "component", entry.ComponentName, "status", s.String())
	e.record(ctx, app.Action{Kind: app.ActionComponentStatus, ComponentID: entry.ComponentID, TriggerID: entry.TriggerID, Detail: s.String()})
	return nil
}

func (e *Engine) record(ctx context.Context, a app.Action) {
	if e.rec == nil {
		return
	}
	if a.At.IsZero() {
		a.At = e.now()
	}
	if err := e.rec.Record(ctx, a); err != nil {
		e.log.Warn("journal record failed", "kind", a.Kind, "err", err)
	}
}
