package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commitbot/internal/eventbus"
	"commitbot/internal/storage"
	logx "commitbot/pkg/logx"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, storage.Store, *testClock) {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	clock := &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(nil, store, logx.Nop(), nil, WithClock(clock.Now)), store, clock
}

func counting(n *atomic.Int32) Handler {
	return func(context.Context) error {
		n.Add(1)
		return nil
	}
}

func TestRegisterCreatesEpochRow(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestService(t)
	var n atomic.Int32

	require.NoError(t, s.Register(context.Background(), Job{Name: "followup", Interval: time.Hour, Handler: counting(&n)}))

	row, err := store.FindJobSchedule(context.Background(), "followup")
	require.NoError(t, err)
	assert.True(t, row.LastRunAt.Equal(Epoch))
	assert.Equal(t, time.Hour, row.Interval)
}

func TestRegisterKeepsLastRun(t *testing.T) {
	t.Parallel()
	s, store, clock := newTestService(t)
	ctx := context.Background()
	var n atomic.Int32

	require.NoError(t, s.Register(ctx, Job{Name: "j", Interval: time.Hour, Handler: counting(&n)}))
	_, err := s.CheckAndRunDueJobs(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Register(ctx, Job{Name: "j", Interval: 2 * time.Hour, Handler: counting(&n)}))
	row, err := store.FindJobSchedule(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, row.Interval)
	assert.True(t, row.LastRunAt.Equal(clock.Now()))
	assert.Equal(t, []string{"j"}, s.Registry().Names())
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestService(t)
	ctx := context.Background()
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Register(ctx, Job{Name: " ", Interval: time.Hour, Handler: noop}))
	assert.Error(t, s.Register(ctx, Job{Name: "a", Interval: 0, Handler: noop}))
	assert.Error(t, s.Register(ctx, Job{Name: "a", Interval: time.Hour}))
}

func TestRegisterTrimsName(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestService(t)
	ctx := context.Background()
	var n atomic.Int32

	require.NoError(t, s.Register(ctx, Job{Name: " followup ", Interval: time.Hour, Handler: counting(&n)}))

	_, err := store.FindJobSchedule(ctx, "followup")
	require.NoError(t, err)
	_, err = store.FindJobSchedule(ctx, " followup ")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rep, err := s.CheckAndRunDueJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"followup"}, rep.Ran())
	assert.EqualValues(t, 1, n.Load())
}

func TestCheckAndRunDueJobsIdempotent(t *testing.T) {
	t.Parallel()
	s, store, clock := newTestService(t)
	ctx := context.Background()
	var n atomic.Int32
	require.NoError(t, s.Register(ctx, Job{Name: "hourly", Interval: time.Hour, Handler: counting(&n)}))

	rep, err := s.CheckAndRunDueJobs(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Success)
	assert.Equal(t, []string{"hourly"}, rep.Ran())
	assert.EqualValues(t, 1, n.Load())

	row, err := store.FindJobSchedule(ctx, "hourly")
	require.NoError(t, err)
	assert.True(t, row.LastRunAt.Equal(clock.Now()))

	rep, err = s.CheckAndRunDueJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Ran())
	require.Len(t, rep.Jobs, 1)
	assert.Equal(t, OutcomeNotDue, rep.Jobs[0].Outcome)
	assert.EqualValues(t, 1, n.Load())

	clock.Advance(90 * time.Minute)
	rep, err = s.CheckAndRunDueJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hourly"}, rep.Ran())
	assert.EqualValues(t, 2, n.Load())
}

func TestFailedJobStaysDueAndIsIsolated(t *testing.T) {
	t.Parallel()
	s, store, clock := newTestService(t)
	ctx := context.Background()

	var fails atomic.Bool
	fails.Store(true)
	var flakyRuns, panicRuns, okRuns atomic.Int32

	require.NoError(t, s.Register(ctx, Job{Name: "flaky", Interval: time.Hour, Handler: func(context.Context) error {
		flakyRuns.Add(1)
		if fails.Load() {
			return errors.New("gateway down")
		}
		return nil
	}}))
	require.NoError(t, s.Register(ctx, Job{Name: "panics", Interval: time.Hour, Handler: func(context.Context) error {
		panicRuns.Add(1)
		panic("boom")
	}}))
	require.NoError(t, s.Register(ctx, Job{Name: "ok", Interval: time.Hour, Handler: counting(&okRuns)}))

	rep, err := s.CheckAndRunDueJobs(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Success)
	assert.ElementsMatch(t, []string{"flaky", "panics"}, rep.Failed())
	assert.Equal(t, []string{"ok"}, rep.Ran())
	assert.Contains(t, rep.Jobs[1].Error, "panic: boom")

	// Failed jobs were rolled back to their previous last run.
	for _, name := range []string{"flaky", "panics"} {
		row, err := store.FindJobSchedule(ctx, name)
		require.NoError(t, err)
		assert.True(t, row.LastRunAt.Equal(Epoch), name)
	}

	// Next tick retries only the failed jobs, with no backoff.
	clock.Advance(time.Minute)
	fails.Store(false)
	rep, err = s.CheckAndRunDueJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"flaky"}, rep.Ran())
	assert.Equal(t, []string{"panics"}, rep.Failed())
	assert.EqualValues(t, 2, flakyRuns.Load())
	assert.EqualValues(t, 2, panicRuns.Load())
	assert.EqualValues(t, 1, okRuns.Load())
}

func TestClaimPreventsDoubleRun(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestService(t)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	job := Job{Name: "slow", Interval: time.Hour, Handler: func(context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, s.Register(ctx, job))

	// Both callers read last_run_at = Epoch before either claims.
	first := make(chan JobResult, 1)
	go func() { first <- s.run(ctx, job, Epoch, false) }()
	<-started

	second := s.run(ctx, job, Epoch, false)
	assert.Equal(t, OutcomeContended, second.Outcome)

	close(release)
	assert.Equal(t, OutcomeRan, (<-first).Outcome)
	assert.EqualValues(t, 1, runs.Load())
}

func TestConcurrentTicksRunOnce(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestService(t)
	ctx := context.Background()
	var runs atomic.Int32
	require.NoError(t, s.Register(ctx, Job{Name: "j", Interval: time.Hour, Handler: func(context.Context) error {
		runs.Add(1)
		time.Sleep(5 * time.Millisecond)
		return nil
	}}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.CheckAndRunDueJobs(ctx)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, runs.Load())
}

func TestTriggerJob(t *testing.T) {
	t.Parallel()
	s, store, clock := newTestService(t)
	ctx := context.Background()
	var n atomic.Int32
	require.NoError(t, s.Register(ctx, Job{Name: "j", Interval: time.Hour, Handler: counting(&n)}))
	_, err := s.CheckAndRunDueJobs(ctx)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	res, err := s.TriggerJob(ctx, "j")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 2, n.Load())

	row, err := store.FindJobSchedule(ctx, "j")
	require.NoError(t, err)
	assert.True(t, row.LastRunAt.Equal(clock.Now()))

	_, err = s.TriggerJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestTriggerJobFailure(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestService(t)
	ctx := context.Background()
	boom := errors.New("boom")
	require.NoError(t, s.Register(ctx, Job{Name: "j", Interval: time.Hour, Handler: func(context.Context) error { return boom }}))

	res, err := s.TriggerJob(ctx, "j")
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Success)

	row, err := store.FindJobSchedule(ctx, "j")
	require.NoError(t, err)
	assert.True(t, row.LastRunAt.Equal(Epoch))
}

func TestJobTimeout(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, Job{Name: "hang", Interval: time.Hour, Timeout: 10 * time.Millisecond, Handler: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))

	rep, err := s.CheckAndRunDueJobs(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Jobs, 1)
	assert.ErrorIs(t, rep.Jobs[0].Err, context.DeadlineExceeded)
}

func TestJobStatus(t *testing.T) {
	t.Parallel()
	s, _, clock := newTestService(t)
	ctx := context.Background()
	var n atomic.Int32
	require.NoError(t, s.Register(ctx, Job{Name: "j", Interval: time.Hour, Handler: counting(&n)}))

	st, err := s.JobStatus(ctx, "j")
	require.NoError(t, err)
	assert.True(t, st.IsDue)
	assert.Zero(t, st.NextRunIn, "hours overdue still clamps to zero")
	assert.Greater(t, st.HoursSinceLastRun, 1000.0)

	_, err = s.CheckAndRunDueJobs(ctx)
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)

	st, err = s.JobStatus(ctx, "j")
	require.NoError(t, err)
	assert.False(t, st.IsDue)
	assert.Equal(t, 45*time.Minute, st.NextRunIn)
	assert.InDelta(t, 0.25, st.HoursSinceLastRun, 1e-9)
	assert.InDelta(t, 0.75, st.NextRunInHours, 1e-9)

	clock.Advance(5 * time.Hour)
	all, err := s.AllJobsStatus(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsDue)
	assert.GreaterOrEqual(t, all[0].NextRunIn, time.Duration(0))

	_, err = s.JobStatus(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestJobEvents(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(nil, store, logx.Nop(), bus)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, Job{Name: "ok", Interval: time.Hour, Handler: func(context.Context) error { return nil }}))
	require.NoError(t, s.Register(ctx, Job{Name: "bad", Interval: time.Hour, Handler: func(context.Context) error { return errors.New("x") }}))

	_, err := s.CheckAndRunDueJobs(ctx)
	require.NoError(t, err)

	ev := <-ch
	assert.Equal(t, eventbus.JobRan, ev.Kind)
	assert.Equal(t, "ok", ev.Data.(eventbus.JobRun).Name)
	ev = <-ch
	assert.Equal(t, eventbus.JobFailed, ev.Kind)
	assert.Equal(t, "x", ev.Data.(eventbus.JobRun).Error)
}

func TestCheckAndRunDueJobsCanceled(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestService(t)
	var n atomic.Int32
	require.NoError(t, s.Register(context.Background(), Job{Name: "j", Interval: time.Hour, Handler: counting(&n)}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.CheckAndRunDueJobs(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n.Load())
}
