// Package watcher supervises the background reconciliation task.
//
// An outer loop periodically rebuilds the topology mapping. When the mapping
// changes the running task is cancelled, joined, and restarted with the new
// snapshot. The inner task reconciles incidents once per tick.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/d9705996/statusbridge/internal/app"
	"github.com/d9705996/statusbridge/internal/incident"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentation = "github.com/d9705996/statusbridge/internal/watcher"

// Syncer produces mapping snapshots.
type Syncer interface {
	Sync(ctx context.Context) (app.Mapping, error)
}

// Prober checks that the monitoring system is reachable.
type Prober interface {
	Version(ctx context.Context) (string, error)
}

// Reconciler runs one reconciliation tick over a mapping.
type Reconciler interface {
	Reconcile(ctx context.Context, m app.Mapping) incident.TickResult
}

// SnapshotSink persists every newly bound mapping.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, generation uint64, m app.Mapping) error
}

// Config holds the loop intervals.
type Config struct {
	SyncInterval time.Duration
	TickInterval time.Duration
}

// Supervisor owns the mapping snapshot and at most one inner task.
type Supervisor struct {
	cfg    Config
	syncer Syncer
	prober Prober
	rec    Reconciler
	sink   SnapshotSink
	log    *slog.Logger

	mu       sync.Mutex
	snapshot app.Mapping
	gen      uint64
	task     *task

	restarts metric.Int64Counter
	ticks    metric.Int64Counter
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithSnapshotSink persists each bound snapshot.
func WithSnapshotSink(sink SnapshotSink) Option {
	return func(s *Supervisor) { s.sink = sink }
}

// New creates a Supervisor. Non-positive intervals fall back to 5m and 1m.
func New(cfg Config, syncer Syncer, prober Prober, rec Reconciler, log *slog.Logger, opts ...Option) *Supervisor {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	s := &Supervisor{
		cfg:    cfg,
		syncer: syncer,
		prober: prober,
		rec:    rec,
		log:    log.With("component", "watcher"),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter(instrumentation)
	s.restarts, _ = meter.Int64Counter("statusbridge.watcher.restarts",
		metric.WithDescription("Inner task restarts caused by topology changes."))
	s.ticks, _ = meter.Int64Counter("statusbridge.watcher.ticks",
		metric.WithDescription("Inner task ticks by result."))
	return s
}

// Snapshot returns the currently bound mapping.
func (s *Supervisor) Snapshot() app.Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Generation counts how many snapshots have been bound.
func (s *Supervisor) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Run executes Cycle every SyncInterval until ctx is done. It returns nil on
// shutdown and a non-nil error only for fatal configuration failures.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.Stop()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if err := s.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		timer.Reset(s.cfg.SyncInterval)
	}
}

// Cycle runs one topology synchronisation and restarts the inner task when
// the mapping changed.
func (s *Supervisor) Cycle(ctx context.Context) error {
	candidate, err := s.syncer.Sync(ctx)
	if err != nil {
		if errors.Is(err, app.ErrConfiguration) {
			return err
		}
		s.log.Error("topology sync failed", "err", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if candidate.Empty() {
		if s.gen == 0 {
			return &app.ConfigurationError{Reason: "no monitored services found on first run"}
		}
		s.log.Warn("topology sync returned nothing, keeping current mapping",
			"generation", s.gen, "entries", s.snapshot.Len())
		return nil
	}
	if s.gen > 0 && candidate.Equal(s.snapshot) {
		s.log.Debug("topology unchanged", "generation", s.gen)
		return nil
	}

	restart := s.task != nil
	s.stopLocked()
	s.snapshot = candidate
	s.gen++
	s.log.Info("mapping bound",
		"generation", s.gen,
		"entries", candidate.Len(),
		"watched", candidate.Watched(),
		"restart", restart)
	if restart {
		s.restarts.Add(ctx, 1)
	}
	if s.sink != nil {
		if err := s.sink.SaveSnapshot(ctx, s.gen, candidate); err != nil {
			s.log.Warn("save mapping snapshot", "generation", s.gen, "err", err)
		}
	}
	s.startLocked(ctx, candidate)
	return nil
}

// Stop cancels the inner task and waits for it to exit. Safe to call twice.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	if s.task == nil {
		return
	}
	s.task.cancel()
	<-s.task.done
	s.task = nil
}

func (s *Supervisor) startLocked(parent context.Context, m app.Mapping) {
	ctx, cancel := context.WithCancel(parent)
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.task = t
	go s.loop(ctx, m, t.done)
}

func (s *Supervisor) loop(ctx context.Context, m app.Mapping, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.tick(ctx, m)
		timer.Reset(s.cfg.TickInterval)
	}
}

func (s *Supervisor) tick(ctx context.Context, m app.Mapping) {
	defer func() {
		if r := recover(); r != nil {
			err := &app.UnexpectedError{Value: r, Stack: debug.Stack()}
			s.log.Error("tick abandoned", "err", err, "stack", string(err.Stack))
			s.ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "panic")))
		}
	}()

	if _, err := s.prober.Version(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("monitoring unreachable, skipping tick", "err", err)
		s.ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "unreachable")))
		return
	}

	res := s.rec.Reconcile(context.WithoutCancel(ctx), m)
	s.log.Debug("tick finished", "entries", res.Entries, "failed", res.Failed)
	s.ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
}
