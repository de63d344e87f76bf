package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "commitbot/pkg/logx"
)

func TestTickerCoalescesPokes(t *testing.T) {
	t.Parallel()
	s, _, clock := newTestService(t)
	ctx := context.Background()

	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Register(ctx, Job{Name: "slow", Interval: time.Minute, Handler: func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}}))

	tk := NewTicker(s, logx.Nop())
	tk.Poke(ctx)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Pokes during a run fold into one follow-up tick; the job is not due again
	// until the clock moves, so it still runs once.
	for i := 0; i < 10; i++ {
		tk.Poke(ctx)
	}
	close(release)

	wctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, tk.Wait(wctx))
	assert.EqualValues(t, 1, runs.Load())

	clock.Advance(time.Minute)
	tk.Poke(ctx)
	require.NoError(t, tk.Wait(wctx))
	assert.EqualValues(t, 2, runs.Load())
}

func TestTickerWaitIdle(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestService(t)
	assert.NoError(t, NewTicker(s, logx.Nop()).Wait(context.Background()))
}

func TestTriggerJobAsAudits(t *testing.T) {
	t.Parallel()
	s, store, clock := newTestService(t)
	ctx := context.Background()
	var n atomic.Int32
	require.NoError(t, s.Register(ctx, Job{Name: "ok", Interval: time.Hour, Handler: counting(&n)}))
	require.NoError(t, s.Register(ctx, Job{Name: "bad", Interval: time.Hour, Handler: func(context.Context) error {
		return errors.New("boom")
	}}))

	_, err := s.TriggerJobAs(ctx, "ok", Actor{Name: "42", Source: "chat"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = s.TriggerJobAs(ctx, "bad", Actor{Name: "admin", Source: "http"})
	require.Error(t, err)
	_, err = s.TriggerJobAs(ctx, "nope", Actor{Source: "cli"})
	require.ErrorIs(t, err, ErrUnknownJob)

	entries, err := store.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "nope", entries[0].Target)
	assert.False(t, entries[0].OK)
	assert.Equal(t, "cli", entries[0].Source)

	assert.Equal(t, "bad", entries[1].Target)
	assert.Equal(t, "admin", entries[1].Actor)
	assert.Contains(t, entries[1].Error, "boom")

	assert.Equal(t, "ok", entries[2].Target)
	assert.True(t, entries[2].OK)
	assert.Equal(t, "job.trigger", entries[2].Action)
	assert.Equal(t, "chat", entries[2].Source)
}
