// Package worker bootstraps the River job queue that carries journal writes
// off the reconciliation path.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/d9705996/statusbridge/internal/app"
	"github.com/d9705996/statusbridge/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// PruneInterval is how often the journal retention job runs.
const PruneInterval = time.Hour

// Journal is the persistence the jobs write to.
type Journal interface {
	Record(ctx context.Context, a app.Action) error
	PruneActions(ctx context.Context, cutoff time.Time) (int64, error)
}

// RecordActionArgs carries one journal action.
type RecordActionArgs struct {
	ActionKind  string    `json:"kind"`
	ComponentID int       `json:"component_id,omitempty"`
	IncidentID  int       `json:"incident_id,omitempty"`
	TriggerID   string    `json:"trigger_id,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Kind returns the unique job type identifier.
func (RecordActionArgs) Kind() string { return "record_action" }

// InsertOpts bounds retries for journal writes.
func (RecordActionArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}

func newRecordActionArgs(a app.Action) RecordActionArgs {
	return RecordActionArgs{
		ActionKind:  string(a.Kind),
		ComponentID: a.ComponentID,
		IncidentID:  a.IncidentID,
		TriggerID:   a.TriggerID,
		Detail:      a.Detail,
		At:          a.At,
	}
}

func (a RecordActionArgs) action() app.Action {
	return app.Action{
		Kind:        app.ActionKind(a.ActionKind),
		ComponentID: a.ComponentID,
		IncidentID:  a.IncidentID,
		TriggerID:   a.TriggerID,
		Detail:      a.Detail,
		At:          a.At,
	}
}

type recordActionWorker struct {
	river.WorkerDefaults[RecordActionArgs]
	journal Journal
}

func (w *recordActionWorker) Work(ctx context.Context, job *river.Job[RecordActionArgs]) error {
	return w.journal.Record(ctx, job.Args.action())
}

// PruneJournalArgs drops journal actions older than the retention window.
type PruneJournalArgs struct{}

// Kind returns the unique job type identifier.
func (PruneJournalArgs) Kind() string { return "prune_journal" }

type pruneJournalWorker struct {
	river.WorkerDefaults[PruneJournalArgs]
	journal   Journal
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

func (w *pruneJournalWorker) Work(ctx context.Context, _ *river.Job[PruneJournalArgs]) error {
	if w.retention <= 0 {
		return nil
	}
	cutoff := w.now().Add(-w.retention)
	n, err := w.journal.PruneActions(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info("journal pruned", "deleted", n, "cutoff", cutoff)
	}
	return nil
}

// Queue is the interface exposed by both the real River client and noopQueue.
// Record makes a Queue usable as the engine's app.Recorder.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Record(ctx context.Context, a app.Action) error
}

// Client wraps river.Client and exposes a Start/Stop lifecycle.
type Client struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

// Start begins processing queued jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// Record enqueues a journal write.
func (c *Client) Record(ctx context.Context, a app.Action) error {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	if _, err := c.client.Insert(ctx, newRecordActionArgs(a), nil); err != nil {
		return fmt.Errorf("enqueue %s: %w", a.Kind, err)
	}
	return nil
}

// noopQueue is used when River is unavailable (DB_DRIVER=sqlite). Journal
// writes go straight to the store.
type noopQueue struct {
	log   *slog.Logger
	prune *pruneJournalWorker
}

func (n *noopQueue) Start(ctx context.Context) error {
	n.log.Info("worker queue disabled; sqlite journal is written inline")
	if err := n.prune.Work(ctx, nil); err != nil {
		n.log.Warn("journal prune failed", "error", err)
	}
	return nil
}

func (n *noopQueue) Stop(_ context.Context) error { return nil }

func (n *noopQueue) Record(ctx context.Context, a app.Action) error {
	return n.prune.journal.Record(ctx, a)
}

// New creates a queue implementation appropriate for the given driver.
//   - "postgres": returns a River client backed by pool, with an hourly
//     retention job.
//   - anything else: returns a queue that writes to journal inline and
//     prunes once on Start.
//
// pool may be nil when driver != "postgres".
func New(ctx context.Context, pool *pgxpool.Pool, driver string, cfg config.WorkerConfig, journal Journal, log *slog.Logger) (Queue, error) {
	prune := &pruneJournalWorker{journal: journal, retention: cfg.Retention, now: time.Now, log: log}
	if driver != "postgres" {
		return &noopQueue{log: log, prune: prune}, nil
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, &recordActionWorker{journal: journal})
	river.AddWorker(workers, prune)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Concurrency},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(PruneInterval),
				func() (river.JobArgs, *river.InsertOpts) { return PruneJournalArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Client{client: client, log: log}, nil
}

// MigrateRiver runs River's built-in schema migrations against the given pool.
// Only call this when DB_DRIVER=postgres.
func MigrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}
