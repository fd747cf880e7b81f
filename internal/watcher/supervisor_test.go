package watcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/d9705996/statusbridge/internal/app"
	"github.com/d9705996/statusbridge/internal/apptest"
	"github.com/d9705996/statusbridge/internal/incident"
	"github.com/d9705996/statusbridge/internal/observability"
	"github.com/d9705996/statusbridge/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type syncResult struct {
	m   app.Mapping
	err error
}

// scriptedSyncer returns its results in order and then repeats the last one.
type scriptedSyncer struct {
	mu      sync.Mutex
	results []syncResult
	calls   int
}

func (s *scriptedSyncer) Sync(context.Context) (app.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.results)-1)
	s.calls++
	return s.results[i].m, s.results[i].err
}

type fakeReconciler struct {
	mu     sync.Mutex
	seen   []app.Mapping
	onTick func(ctx context.Context, call int)
}

func (r *fakeReconciler) Reconcile(ctx context.Context, m app.Mapping) incident.TickResult {
	r.mu.Lock()
	r.seen = append(r.seen, m)
	call := len(r.seen)
	hook := r.onTick
	r.mu.Unlock()
	if hook != nil {
		hook(ctx, call)
	}
	return incident.TickResult{Entries: m.Watched()}
}

func (r *fakeReconciler) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func (r *fakeReconciler) last() app.Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		return app.Mapping{}
	}
	return r.seen[len(r.seen)-1]
}

type sinkFunc func(ctx context.Context, gen uint64, m app.Mapping) error

func (f sinkFunc) SaveSnapshot(ctx context.Context, gen uint64, m app.Mapping) error {
	return f(ctx, gen, m)
}

func mapping(triggerIDs ...string) app.Mapping {
	entries := make([]app.MappingEntry, 0, len(triggerIDs))
	for i, id := range triggerIDs {
		entries = append(entries, app.MappingEntry{TriggerID: id, ComponentID: i + 1, ComponentName: "c" + id})
	}
	return app.NewMapping(entries)
}

var fast = watcher.Config{SyncInterval: 20 * time.Millisecond, TickInterval: 5 * time.Millisecond}

func newSupervisor(syncer watcher.Syncer, rec *fakeReconciler, opts ...watcher.Option) (*watcher.Supervisor, *apptest.Monitoring) {
	mon := apptest.NewMonitoring()
	return watcher.New(fast, syncer, mon, rec, observability.Discard(), opts...), mon
}

func TestCycle_EqualMappingDoesNotRestart(t *testing.T) {
	syncer := &scriptedSyncer{results: []syncResult{{m: mapping("1", "2")}, {m: mapping("1", "2")}}}
	rec := &fakeReconciler{}
	s, _ := newSupervisor(syncer, rec)
	defer s.Stop()

	require.NoError(t, s.Cycle(context.Background()))
	require.NoError(t, s.Cycle(context.Background()))
	assert.Equal(t, uint64(1), s.Generation())
}

func TestCycle_DifferentMappingRestartsOnce(t *testing.T) {
	first, second := mapping("1"), mapping("1", "2")
	syncer := &scriptedSyncer{results: []syncResult{{m: first}, {m: second}}}
	rec := &fakeReconciler{}
	var bound []uint64
	s, _ := newSupervisor(syncer, rec, watcher.WithSnapshotSink(sinkFunc(func(_ context.Context, gen uint64, _ app.Mapping) error {
		bound = append(bound, gen)
		return nil
	})))
	defer s.Stop()

	require.NoError(t, s.Cycle(context.Background()))
	require.Eventually(t, func() bool { return rec.calls() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, s.Cycle(context.Background()))
	assert.Equal(t, uint64(2), s.Generation())
	assert.True(t, s.Snapshot().Equal(second))
	require.Eventually(t, func() bool { return rec.last().Equal(second) }, time.Second, time.Millisecond)

	require.NoError(t, s.Cycle(context.Background()))
	assert.Equal(t, uint64(2), s.Generation())
	assert.Equal(t, []uint64{1, 2}, bound)
}

func TestCycle_EmptyAfterBindKeepsCurrent(t *testing.T) {
	syncer := &scriptedSyncer{results: []syncResult{{m: mapping("1")}, {m: app.Mapping{}}}}
	s, _ := newSupervisor(syncer, &fakeReconciler{})
	defer s.Stop()

	require.NoError(t, s.Cycle(context.Background()))
	require.NoError(t, s.Cycle(context.Background()))
	assert.Equal(t, uint64(1), s.Generation())
	assert.True(t, s.Snapshot().Equal(mapping("1")))
}

func TestCycle_EmptyOnFirstRunIsFatal(t *testing.T) {
	syncer := &scriptedSyncer{results: []syncResult{{m: app.Mapping{}}}}
	s, _ := newSupervisor(syncer, &fakeReconciler{})

	err := s.Cycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, app.ErrConfiguration)
	assert.Zero(t, s.Generation())
}

func TestCycle_ConfigurationErrorIsReturned(t *testing.T) {
	cfgErr := &app.ConfigurationError{Reason: "cannot find root"}
	syncer := &scriptedSyncer{results: []syncResult{{m: mapping("1")}, {err: cfgErr}}}
	s, _ := newSupervisor(syncer, &fakeReconciler{})
	defer s.Stop()

	require.NoError(t, s.Cycle(context.Background()))
	err := s.Cycle(context.Background())
	assert.ErrorIs(t, err, app.ErrConfiguration)
}

func TestCycle_OtherSyncErrorIsLogged(t *testing.T) {
	syncer := &scriptedSyncer{results: []syncResult{{m: mapping("1")}, {err: errors.New("boom")}}}
	s, _ := newSupervisor(syncer, &fakeReconciler{})
	defer s.Stop()

	require.NoError(t, s.Cycle(context.Background()))
	require.NoError(t, s.Cycle(context.Background()))
	assert.Equal(t, uint64(1), s.Generation())
}

func TestTask_UnreachableMonitoringSkipsTick(t *testing.T) {
	syncer := &scriptedSyncer{results: []syncResult{{m: mapping("1")}}}
	rec := &fakeReconciler{}
	s, mon := newSupervisor(syncer, rec)
	defer s.Stop()
	mon.SetReachable(false)

	require.NoError(t, s.Cycle(context.Background()))
	require.Eventually(t, func() bool { return mon.CallCount("version") >= 3 }, time.Second, time.Millisecond)
	assert.Zero(t, rec.calls())

	mon.SetReachable(true)
	require.Eventually(t, func() bool { return rec.calls() > 0 }, time.Second, time.Millisecond)
}

func TestTask_PanicAbandonsTickOnly(t *testing.T) {
	syncer := &scriptedSyncer{results: []syncResult{{m: mapping("1")}}}
	rec := &fakeReconciler{onTick: func(_ context.Context, call int) {
		if call == 1 {
			panic("bad data")
		}
	}}
	s, _ := newSupervisor(syncer, rec)
	defer s.Stop()

	require.NoError(t, s.Cycle(context.Background()))
	require.Eventually(t, func() bool { return rec.calls() >= 3 }, time.Second, time.Millisecond)
}

func TestStop_JoinsWithoutCuttingTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	var tickErr error
	rec := &fakeReconciler{onTick: func(ctx context.Context, call int) {
		if call != 1 {
			return
		}
		close(started)
		time.Sleep(30 * time.Millisecond)
		tickErr = ctx.Err()
	}}
	s, _ := newSupervisor(&scriptedSyncer{results: []syncResult{{m: mapping("1")}}}, rec)

	require.NoError(t, s.Cycle(context.Background()))
	<-started
	s.Stop()
	assert.NoError(t, tickErr, "a running tick must finish with a live context")

	calls := rec.calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, rec.calls(), "no ticks after Stop")
	s.Stop()
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	rec := &fakeReconciler{}
	s, _ := newSupervisor(&scriptedSyncer{results: []syncResult{{m: mapping("1")}}}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return rec.calls() > 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_FatalOnFirstEmptyMapping(t *testing.T) {
	s, _ := newSupervisor(&scriptedSyncer{results: []syncResult{{m: app.Mapping{}}}}, &fakeReconciler{})
	err := s.Run(context.Background())
	assert.ErrorIs(t, err, app.ErrConfiguration)
}
