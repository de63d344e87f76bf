package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps, nothing survives a restart
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL, DSN in DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxOpenConn int           // postgres only; 0 means default
}

// Status is the lifecycle state of a commitment.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusBlocked    Status = "BLOCKED"
	StatusDone       Status = "DONE"
	StatusOverdue    Status = "OVERDUE"
	StatusEscalated  Status = "ESCALATED"
)

// Statuses lists every status in declaration order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusBlocked, StatusDone, StatusOverdue, StatusEscalated}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// ResponseType classifies a reply to a reminder.
type ResponseType string

const (
	ResponseDone    ResponseType = "DONE"
	ResponseWorking ResponseType = "WORKING"
	ResponseBlocked ResponseType = "BLOCKED"
	ResponseNone    ResponseType = "NO_RESPONSE"
)

// Commitment is a user's tracked promise to finish something by Deadline.
// PlatformUserID and Context are optional (empty when absent).
type Commitment struct {
	ID             string
	UserID         string
	PlatformUserID string
	Text           string
	Deadline       time.Time
	Context        string
	Channel        string
	CreatedAt      time.Time
	Status         Status
}

// Reminder is one outbound nudge. MessageID is the platform id of the sent message
// and is the key used to match an inbound reply back to this row.
type Reminder struct {
	ID           string
	CommitmentID string
	SentAt       time.Time
	MessageID    string

	// Response fields; ResponseType is empty until a reply was collected.
	ResponseType ResponseType
	ResponseText string
	ResponseAt   *time.Time
}

// Unanswered reports whether the reminder has no reply, or only a NO_RESPONSE one.
func (r Reminder) Unanswered() bool {
	return r.ResponseType == "" || r.ResponseType == ResponseNone
}

// Response is the single response update a reminder accepts.
type Response struct {
	Type ResponseType
	Text string
	At   time.Time
}

type Escalation struct {
	ID           string
	CommitmentID string
	EscalatedAt  time.Time
	Reason       string
	MessageID    string
}

// JobSchedule is the scheduler's durable per-job state.
type JobSchedule struct {
	JobName   string
	Interval  time.Duration
	LastRunAt time.Time
}

func (j JobSchedule) IntervalHours() float64 { return j.Interval.Hours() }

const defaultAuditLimit = 100

// AuditEntry records an operator action (manual job triggers and the like).
type AuditEntry struct {
	At     time.Time
	Actor  string
	Source string // "http" | "chat" | "cli"
	Action string
	Target string
	OK     bool
	Error  string
	TookMS int64
}
