package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "commitbot/pkg/logx"
)

type CommitmentStore interface {
	CreateCommitment(ctx context.Context, c Commitment) error
	// GetCommitment returns ErrNotFound when no row has that id.
	GetCommitment(ctx context.Context, id string) (Commitment, error)
	ListCommitments(ctx context.Context) ([]Commitment, error)
	ListCommitmentsByUser(ctx context.Context, userID string) ([]Commitment, error)
	UpdateCommitmentStatus(ctx context.Context, id string, status Status) error
}

type ReminderStore interface {
	AddReminder(ctx context.Context, r Reminder) error
	UpdateReminderResponse(ctx context.Context, reminderID string, resp Response) error
	// FindReminderByMessageID returns the newest reminder sent with that platform
	// message id, or ErrNotFound.
	FindReminderByMessageID(ctx context.Context, messageID string) (Reminder, error)
	// ListReminders returns the commitment's reminders ordered by SentAt ascending.
	ListReminders(ctx context.Context, commitmentID string) ([]Reminder, error)
}

type EscalationStore interface {
	AddEscalation(ctx context.Context, e Escalation) error
	CountEscalations(ctx context.Context, commitmentID string) (int, error)
}

type JobScheduleStore interface {
	FindJobSchedule(ctx context.Context, name string) (JobSchedule, error)
	// UpsertJobSchedule creates the row with initialLastRun, or updates only the
	// interval when the row exists.
	UpsertJobSchedule(ctx context.Context, name string, interval time.Duration, initialLastRun time.Time) error
	UpdateJobLastRun(ctx context.Context, name string, at time.Time) error
	// ClaimJobRun moves last_run_at from expected to next atomically. It reports
	// false with a nil error when the row no longer holds expected (another
	// caller won) or no longer exists.
	ClaimJobRun(ctx context.Context, name string, expected, next time.Time) (bool, error)
	ListJobSchedules(ctx context.Context) ([]JobSchedule, error)
}

type AuditStore interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// ListAudit returns the newest entries first, at most limit (<= 0 means 100).
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}

// Store is the full persistence API used by the app.
type Store interface {
	CommitmentStore
	ReminderStore
	EscalationStore
	JobScheduleStore
	AuditStore
	Close() error
}

// Open initializes the configured store.
// It returns (nil, ErrDisabled) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none":
		return nil, ErrDisabled
	case "memory", "mem":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
