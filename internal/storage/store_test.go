package storage

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "commitbot/pkg/logx"
)

// base is millisecond aligned so SQL round trips compare equal.
var base = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	lite, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "commitbot.db")}, logx.Nop())
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemory(),
		"sqlite": lite,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestOpenDriverSelection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := Open(ctx, Config{}, logx.Nop())
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = Open(ctx, Config{Driver: "cassandra"}, logx.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")

	_, err = Open(ctx, Config{Driver: "sqlite"}, logx.Nop())
	assert.ErrorContains(t, err, "path is required")

	s, err := Open(ctx, Config{Driver: "MEM"}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestCommitmentsAndReminders(t *testing.T) {
	t.Parallel()

	for name, s := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			c := Commitment{
				ID:       "c-1",
				UserID:   "u-1",
				Text:     "ship the report",
				Deadline: base.Add(48 * time.Hour),
				Channel:  "100",
				// PlatformUserID and Context stay empty
				CreatedAt: base,
				Status:    StatusPending,
			}
			require.NoError(t, s.CreateCommitment(ctx, c))
			require.Error(t, s.CreateCommitment(ctx, c), "duplicate id")
			require.NoError(t, s.CreateCommitment(ctx, Commitment{
				ID: "c-2", UserID: "u-2", Text: "other", Deadline: base, Channel: "100",
				CreatedAt: base.Add(time.Minute), Status: StatusPending,
			}))

			got, err := s.GetCommitment(ctx, "c-1")
			require.NoError(t, err)
			assert.Equal(t, c, got)

			_, err = s.GetCommitment(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			all, err := s.ListCommitments(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "c-1", all[0].ID)

			mine, err := s.ListCommitmentsByUser(ctx, "u-2")
			require.NoError(t, err)
			require.Len(t, mine, 1)
			assert.Equal(t, "c-2", mine[0].ID)

			require.NoError(t, s.UpdateCommitmentStatus(ctx, "c-1", StatusInProgress))
			got, err = s.GetCommitment(ctx, "c-1")
			require.NoError(t, err)
			assert.Equal(t, StatusInProgress, got.Status)
			assert.ErrorIs(t, s.UpdateCommitmentStatus(ctx, "missing", StatusDone), ErrNotFound)

			// Two reminders share a message id; the newer one wins the lookup.
			require.NoError(t, s.AddReminder(ctx, Reminder{ID: "r-1", CommitmentID: "c-1", SentAt: base.Add(time.Hour), MessageID: "100:7"}))
			require.NoError(t, s.AddReminder(ctx, Reminder{ID: "r-2", CommitmentID: "c-1", SentAt: base.Add(2 * time.Hour), MessageID: "100:7"}))
			require.NoError(t, s.AddReminder(ctx, Reminder{ID: "r-3", CommitmentID: "c-1", SentAt: base.Add(30 * time.Minute), MessageID: "100:5"}))

			r, err := s.FindReminderByMessageID(ctx, "100:7")
			require.NoError(t, err)
			assert.Equal(t, "r-2", r.ID)
			assert.True(t, r.Unanswered())

			_, err = s.FindReminderByMessageID(ctx, "100:999")
			assert.ErrorIs(t, err, ErrNotFound)

			at := base.Add(3 * time.Hour)
			require.NoError(t, s.UpdateReminderResponse(ctx, "r-2", Response{Type: ResponseWorking, Text: "on it", At: at}))
			assert.ErrorIs(t, s.UpdateReminderResponse(ctx, "missing", Response{Type: ResponseDone, At: at}), ErrNotFound)

			list, err := s.ListReminders(ctx, "c-1")
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []string{"r-3", "r-1", "r-2"}, []string{list[0].ID, list[1].ID, list[2].ID})
			assert.Equal(t, ResponseWorking, list[2].ResponseType)
			assert.Equal(t, "on it", list[2].ResponseText)
			require.NotNil(t, list[2].ResponseAt)
			assert.True(t, list[2].ResponseAt.Equal(at))
			assert.False(t, list[2].Unanswered())

			require.NoError(t, s.AddEscalation(ctx, Escalation{ID: "e-1", CommitmentID: "c-1", EscalatedAt: at, Reason: "No response to reminders"}))
			require.NoError(t, s.AddEscalation(ctx, Escalation{ID: "e-2", CommitmentID: "c-1", EscalatedAt: at.Add(time.Hour), Reason: "again", MessageID: "100:9"}))
			n, err := s.CountEscalations(ctx, "c-1")
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			n, err = s.CountEscalations(ctx, "c-2")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestJobSchedules(t *testing.T) {
	t.Parallel()

	for name, s := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.FindJobSchedule(ctx, "followup")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.UpsertJobSchedule(ctx, "followup", 24*time.Hour, base))
			// A second upsert changes the interval only.
			require.NoError(t, s.UpsertJobSchedule(ctx, "followup", 6*time.Hour, base.Add(time.Hour)))
			require.NoError(t, s.UpsertJobSchedule(ctx, "audit", 90*time.Minute, time.UnixMilli(0).UTC()))

			j, err := s.FindJobSchedule(ctx, "followup")
			require.NoError(t, err)
			assert.Equal(t, 6*time.Hour, j.Interval)
			assert.True(t, j.LastRunAt.Equal(base))
			assert.InDelta(t, 6.0, j.IntervalHours(), 1e-9)

			ok, err := s.ClaimJobRun(ctx, "followup", base.Add(time.Minute), base.Add(6*time.Hour))
			require.NoError(t, err)
			assert.False(t, ok, "stale expectation must lose")

			ok, err = s.ClaimJobRun(ctx, "followup", base, base.Add(6*time.Hour))
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.ClaimJobRun(ctx, "followup", base, base.Add(12*time.Hour))
			require.NoError(t, err)
			assert.False(t, ok, "second claim on the same value must lose")

			require.NoError(t, s.UpdateJobLastRun(ctx, "followup", base))
			j, err = s.FindJobSchedule(ctx, "followup")
			require.NoError(t, err)
			assert.True(t, j.LastRunAt.Equal(base))
			assert.ErrorIs(t, s.UpdateJobLastRun(ctx, "missing", base), ErrNotFound)

			all, err := s.ListJobSchedules(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "audit", all[0].JobName)
			assert.Equal(t, 90*time.Minute, all[0].Interval)
		})
	}
}

func TestClaimJobRunSingleWinner(t *testing.T) {
	t.Parallel()

	for name, s := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertJobSchedule(ctx, "race", time.Hour, base))

			var (
				wg   sync.WaitGroup
				wins atomic.Int32
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := s.ClaimJobRun(ctx, "race", base, base.Add(time.Hour))
					if assert.NoError(t, err) && ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestAuditNewestFirst(t *testing.T) {
	t.Parallel()

	for name, s := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, action := range []string{"trigger", "tick", "escalate"} {
				require.NoError(t, s.AppendAudit(ctx, AuditEntry{
					At:     base.Add(time.Duration(i) * time.Second),
					Actor:  "ops",
					Source: "cli",
					Action: action,
					Target: "followup",
					OK:     i != 1,
					TookMS: int64(i * 10),
				}))
			}
			require.NoError(t, s.AppendAudit(ctx, AuditEntry{At: base.Add(-time.Hour), Source: "http", Action: "old", Error: "boom"}))

			got, err := s.ListAudit(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "escalate", got[0].Action)
			assert.Equal(t, "tick", got[1].Action)
			assert.False(t, got[1].OK)
			assert.Equal(t, int64(10), got[1].TookMS)

			got, err = s.ListAudit(ctx, 0)
			require.NoError(t, err)
			require.Len(t, got, 4)
			last := got[3]
			assert.Equal(t, "old", last.Action)
			assert.Empty(t, last.Actor)
			assert.Equal(t, "boom", last.Error)
		})
	}
}

func TestAuditOrderedByTimeNotInsertion(t *testing.T) {
	t.Parallel()

	for name, s := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.AppendAudit(ctx, AuditEntry{At: base, Source: "http", Action: "new"}))
			require.NoError(t, s.AppendAudit(ctx, AuditEntry{At: base.Add(-time.Hour), Source: "cli", Action: "old"}))

			got, err := s.ListAudit(ctx, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "new", got[0].Action)
		})
	}
}

func TestClaimJobRunMissingRow(t *testing.T) {
	t.Parallel()

	for name, s := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.ClaimJobRun(context.Background(), "never-registered", base, base.Add(time.Hour))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemory()
	require.NoError(t, s.Close())

	_, err := s.GetCommitment(ctx, "c-1")
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = s.ClaimJobRun(ctx, "j", base, base)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.ErrorIs(t, s.AppendAudit(ctx, AuditEntry{Action: "x"}), ErrDisabled)
}

func TestMemoryOrphanRowsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemory()
	assert.ErrorIs(t, s.AddReminder(ctx, Reminder{ID: "r", CommitmentID: "nope"}), ErrNotFound)
	assert.ErrorIs(t, s.AddEscalation(ctx, Escalation{ID: "e", CommitmentID: "nope"}), ErrNotFound)
	assert.Error(t, s.CreateCommitment(ctx, Commitment{ID: "  "}))
}
