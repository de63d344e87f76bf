package commitment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commitbot/internal/eventbus"
	"commitbot/internal/gateway"
	"commitbot/internal/storage"
	logx "commitbot/pkg/logx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine *Engine
	store  storage.Store
	gw     *gateway.Mock
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	gw := gateway.NewMock()
	seq := 0
	ids := func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	e := New(store, gw, logx.Nop(), nil, WithClock(clock.Now), WithIDs(ids))
	return &fixture{engine: e, store: store, gw: gw, clock: clock}
}

func (f *fixture) create(t *testing.T, in NewCommitment) Commitment {
	t.Helper()
	if in.Text == "" {
		in.Text = "Ship the onboarding flow"
	}
	if in.Channel == "" {
		in.Channel = "team-chan"
	}
	if in.UserID == "" {
		in.UserID = "u1"
	}
	if in.Deadline.IsZero() {
		in.Deadline = f.clock.Now().Add(24 * time.Hour)
	}
	res, err := f.engine.CreateCommitment(context.Background(), in)
	require.NoError(t, err)
	require.True(t, res.Success)
	return res.Commitment
}

func (f *fixture) remind(t *testing.T, id string) ReminderResult {
	t.Helper()
	res, err := f.engine.SendReminder(context.Background(), id)
	require.NoError(t, err)
	require.True(t, res.Success)
	return res
}

func TestCreateCommitment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	c := f.create(t, NewCommitment{Context: "Q3 roadmap"})
	assert.Equal(t, StatusPending, c.Status)
	assert.Equal(t, f.clock.Now(), c.CreatedAt)

	got, err := f.store.GetCommitment(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestCreateCommitmentValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.engine.CreateCommitment(context.Background(), NewCommitment{Text: "  ", Channel: "c"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "text")
	assert.Contains(t, res.Message, "deadline")
}

func TestCreateCommitmentPersistenceFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, f.store.Close())

	res, err := f.engine.CreateCommitment(context.Background(), NewCommitment{
		Text: "x", Channel: "c", UserID: "u", Deadline: f.clock.Now(),
	})
	assert.False(t, res.Success)
	assert.Equal(t, KindPersistence, KindOf(err))
}

func TestSendReminder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.create(t, NewCommitment{Context: "launch"})

	res := f.remind(t, c.ID)
	assert.Equal(t, "mock-1", res.MessageID)

	msg, ok := f.gw.Last()
	require.True(t, ok)
	assert.Equal(t, "team-chan", msg.Channel)
	assert.Contains(t, msg.Text, c.Text)
	require.NotNil(t, msg.Rich)
	assert.Equal(t, gateway.KindReminder, msg.Rich.Kind)
	assert.Equal(t, c.UserID, msg.Rich.UserID)
	assert.Equal(t, c.Deadline, msg.Rich.Deadline)
	assert.Equal(t, "launch", msg.Rich.Context)

	r, err := f.store.FindReminderByMessageID(context.Background(), "mock-1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, r.CommitmentID)
	assert.True(t, r.Unanswered())

	// Sending a reminder never changes status.
	got, err := f.store.GetCommitment(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestSendReminderNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.engine.SendReminder(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, res.Success)
	assert.Equal(t, MsgNotFound, res.Message)
	assert.Empty(t, f.gw.Sent())
}

func TestSendReminderGatewayFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.create(t, NewCommitment{})
	f.gw.Fail = errors.New("telegram down")

	res, err := f.engine.SendReminder(context.Background(), c.ID)
	require.Error(t, err)
	assert.Equal(t, KindGateway, KindOf(err))
	assert.False(t, res.Success)

	reminders, err := f.store.ListReminders(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, reminders)
}

func TestCollectResponseNoMatchingReminder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.create(t, NewCommitment{})
	other := f.create(t, NewCommitment{Text: "other"})
	otherMsg := f.remind(t, other.ID).MessageID

	for _, msgID := range []string{"nope", otherMsg} {
		res, err := f.engine.CollectResponse(context.Background(), c.ID, "done", msgID)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, MsgNoMatchingReminder, res.Message)
	}

	got, err := f.store.GetCommitment(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestCollectResponseMissingCommitment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.engine.CollectResponse(context.Background(), "missing", "done", "m1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, res.Success)
}

func TestCollectResponseTransitions(t *testing.T) {
	t.Parallel()

	priors := []Status{StatusPending, StatusInProgress, StatusBlocked, StatusDone, StatusOverdue, StatusEscalated}
	replies := map[string]ResponseType{
		"done":        ResponseDone,
		"working":     ResponseWorking,
		"blocked: QA": ResponseBlocked,
		"lol ok":      ResponseNone,
	}

	for _, prior := range priors {
		for text, rt := range replies {
			prior, text, rt := prior, text, rt
			t.Run(fmt.Sprintf("%s/%s", prior, rt), func(t *testing.T) {
				t.Parallel()
				f := newFixture(t)
				c := f.create(t, NewCommitment{})
				_, err := f.engine.UpdateStatus(context.Background(), c.ID, prior)
				require.NoError(t, err)
				msgID := f.remind(t, c.ID).MessageID

				res, err := f.engine.CollectResponse(context.Background(), c.ID, text, msgID)
				require.NoError(t, err)
				require.True(t, res.Success)
				assert.Equal(t, rt, res.ParsedResponse)

				got, err := f.store.GetCommitment(context.Background(), c.ID)
				require.NoError(t, err)
				assert.Equal(t, StatusFor(rt, prior), got.Status)
				if rt == ResponseNone {
					assert.Equal(t, prior, got.Status)
				}
			})
		}
	}
}

func TestCollectResponseLastWriteWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.create(t, NewCommitment{})
	msgID := f.remind(t, c.ID).MessageID

	_, err := f.engine.CollectResponse(context.Background(), c.ID, "working", msgID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.engine.CollectResponse(context.Background(), c.ID, "done", msgID)
	require.NoError(t, err)

	r, err := f.store.FindReminderByMessageID(context.Background(), msgID)
	require.NoError(t, err)
	assert.Equal(t, ResponseDone, r.ResponseType)
	assert.Equal(t, "done", r.ResponseText)
	require.NotNil(t, r.ResponseAt)
	assert.Equal(t, f.clock.Now(), *r.ResponseAt)
}

func TestCollectReply(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.create(t, NewCommitment{})
	msgID := f.remind(t, c.ID).MessageID

	res, err := f.engine.CollectReply(context.Background(), msgID, "⏳")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, c.ID, res.CommitmentID)
	assert.Equal(t, StatusInProgress, res.Status)

	res, err = f.engine.CollectReply(context.Background(), "unknown", "done")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, MsgNoMatchingReminder, res.Message)
}

func TestBlockedReplyEndToEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.create(t, NewCommitment{Deadline: f.clock.Now().Add(24 * time.Hour)})
	m1 := f.remind(t, c.ID).MessageID

	f.clock.Advance(10 * time.Minute)
	res, err := f.engine.CollectResponse(context.Background(), c.ID, "blocked: need design sign-off", m1)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, ResponseBlocked, res.ParsedResponse)
	assert.Equal(t, "need design sign-off", res.Details)

	got, err := f.store.GetCommitment(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, got.Status)

	sum, err := f.engine.CheckReminderStatus(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.Equal(t, 1, sum.TotalReminders)
	assert.Equal(t, 1, sum.RespondedReminders)
	assert.Equal(t, 0, sum.PendingReminders)
	require.NotNil(t, sum.LatestResponse)
	assert.Equal(t, ResponseBlocked, sum.LatestResponse.Type)
	assert.Equal(t, "blocked: need design sign-off", sum.LatestResponse.Text)
}

func TestCheckReminderStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.create(t, NewCommitment{})

	sum, err := f.engine.CheckReminderStatus(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.Zero(t, sum.TotalReminders)
	assert.Nil(t, sum.LatestResponse)

	m1 := f.remind(t, c.ID).MessageID
	f.clock.Advance(time.Hour)
	m2 := f.remind(t, c.ID).MessageID
	f.clock.Advance(time.Hour)
	f.remind(t, c.ID)

	// A newer reply on the older reminder wins latestResponse.
	_, err = f.engine.CollectResponse(context.Background(), c.ID, "working", m2)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.engine.CollectResponse(context.Background(), c.ID, "lol ok", m1)
	require.NoError(t, err)

	sum, err = f.engine.CheckReminderStatus(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalReminders)
	assert.Equal(t, 1, sum.RespondedReminders)
	assert.Equal(t, 2, sum.PendingReminders)
	require.NotNil(t, sum.LatestResponse)
	assert.Equal(t, ResponseNone, sum.LatestResponse.Type)
	assert.Equal(t, "lol ok", sum.LatestResponse.Text)
}

func TestCheckReminderStatusMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	sum, err := f.engine.CheckReminderStatus(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, sum.Success)
	assert.Zero(t, sum.TotalReminders)
	assert.Nil(t, sum.LatestResponse)
}

func TestEscalateNoop(t *testing.T) {
	t.Parallel()

	t.Run("zero reminders", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		c := f.create(t, NewCommitment{})

		res, err := f.engine.EscalateUnresponsive(context.Background(), c.ID, "")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, MsgNoEscalationNeeded, res.Message)
		assert.Empty(t, f.gw.Sent())
	})

	t.Run("all answered", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		c := f.create(t, NewCommitment{})
		for _, reply := range []string{"working", "blocked: infra", "done"} {
			msgID := f.remind(t, c.ID).MessageID
			_, err := f.engine.CollectResponse(context.Background(), c.ID, reply, msgID)
			require.NoError(t, err)
		}
		sent := len(f.gw.Sent())

		res, err := f.engine.EscalateUnresponsive(context.Background(), c.ID, "")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Len(t, f.gw.Sent(), sent)

		got, err := f.store.GetCommitment(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusDone, got.Status)
	})
}

func TestEscalateUnresponsive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.create(t, NewCommitment{PlatformUserID: "4242"})
	m1 := f.remind(t, c.ID).MessageID
	f.remind(t, c.ID)
	_, err := f.engine.CollectResponse(context.Background(), c.ID, "lol ok", m1)
	require.NoError(t, err)

	res, err := f.engine.EscalateUnresponsive(context.Background(), c.ID, "")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 2, res.UnansweredCount)
	assert.Equal(t, 1, res.EscalationCount)

	msg, ok := f.gw.Last()
	require.True(t, ok)
	assert.Equal(t, res.MessageID, msg.ID)
	assert.Contains(t, msg.Text, "@4242")
	assert.Contains(t, msg.Text, "2 reminders")
	require.NotNil(t, msg.Rich)
	assert.Equal(t, gateway.KindEscalation, msg.Rich.Kind)
	assert.Equal(t, 2, msg.Rich.UnansweredCount)
	assert.Equal(t, defaultEscalationReason, msg.Rich.Reason)

	got, err := f.store.GetCommitment(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, got.Status)
}

func TestEscalateMentionFallsBackToUserID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.create(t, NewCommitment{UserID: "alice"})
	f.remind(t, c.ID)

	res, err := f.engine.EscalateUnresponsive(context.Background(), c.ID, "custom")
	require.NoError(t, err)
	require.True(t, res.Success)

	msg, _ := f.gw.Last()
	assert.Equal(t, "alice", msg.Rich.Mention)
	assert.Contains(t, msg.Text, "Reason: custom")
}

func TestEscalationCountAccumulates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.create(t, NewCommitment{})

	f.remind(t, c.ID)
	first, err := f.engine.EscalateUnresponsive(context.Background(), c.ID, "")
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.Equal(t, 1, first.EscalationCount)

	f.clock.Advance(4 * time.Hour)
	f.remind(t, c.ID)
	second, err := f.engine.EscalateUnresponsive(context.Background(), c.ID, "")
	require.NoError(t, err)
	require.True(t, second.Success)
	assert.Equal(t, 2, second.EscalationCount)
}

func TestEngineEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	store := storage.NewMemory()
	e := New(store, gateway.NewMock(), logx.Nop(), bus)
	res, err := e.CreateCommitment(context.Background(), NewCommitment{
		Text: "t", Channel: "c", UserID: "u", Deadline: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	rem, err := e.SendReminder(context.Background(), res.Commitment.ID)
	require.NoError(t, err)
	_, err = e.CollectResponse(context.Background(), res.Commitment.ID, "done", rem.MessageID)
	require.NoError(t, err)

	var kinds []eventbus.Kind
	for len(ch) > 0 {
		kinds = append(kinds, (<-ch).Kind)
	}
	assert.Equal(t, []eventbus.Kind{
		eventbus.CommitmentCreated,
		eventbus.ReminderSent,
		eventbus.CommitmentStatus,
		eventbus.ResponseCollected,
	}, kinds)
}

func TestUpdateStatusRejectsUnknown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.create(t, NewCommitment{})

	_, err := f.engine.UpdateStatus(context.Background(), c.ID, Status("LATE"))
	assert.True(t, errors.Is(err, ErrValidation))
}
