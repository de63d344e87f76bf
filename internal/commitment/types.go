// Package commitment is the commitment engine: it creates commitments, sends
// reminders through the messaging gateway, classifies replies, and escalates
// commitments whose reminders went unanswered.
package commitment

import (
	"time"

	"commitbot/internal/storage"
)

// Re-export the persisted types so callers only import this package.
type (
	Commitment   = storage.Commitment
	Reminder     = storage.Reminder
	Escalation   = storage.Escalation
	Status       = storage.Status
	ResponseType = storage.ResponseType
)

const (
	StatusPending    = storage.StatusPending
	StatusInProgress = storage.StatusInProgress
	StatusBlocked    = storage.StatusBlocked
	StatusDone       = storage.StatusDone
	StatusOverdue    = storage.StatusOverdue
	StatusEscalated  = storage.StatusEscalated

	ResponseDone    = storage.ResponseDone
	ResponseWorking = storage.ResponseWorking
	ResponseBlocked = storage.ResponseBlocked
	ResponseNone    = storage.ResponseNone
)

// Store is what the engine needs from persistence.
type Store interface {
	storage.CommitmentStore
	storage.ReminderStore
	storage.EscalationStore
}

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

// NewCommitment is the input of CreateCommitment.
type NewCommitment struct {
	Text           string
	Deadline       time.Time
	Channel        string
	UserID         string
	PlatformUserID string // optional
	Context        string // optional
}

// Every result carries Success and a human-readable Message. A nil error with
// Success=false is an expected outcome, not a failure.

type CreateResult struct {
	Success    bool
	Message    string
	Commitment Commitment
}

type ReminderResult struct {
	Success    bool
	Message    string
	ReminderID string
	MessageID  string
}

type CollectResult struct {
	Success        bool
	Message        string
	CommitmentID   string
	ParsedResponse ResponseType
	Details        string
	Status         Status
}

// LatestResponse is the newest collected reply on a commitment.
type LatestResponse struct {
	Type ResponseType
	Text string
	At   time.Time
}

type ReminderSummary struct {
	Success            bool
	Message            string
	TotalReminders     int
	RespondedReminders int
	PendingReminders   int
	LatestResponse     *LatestResponse
}

type EscalationResult struct {
	Success         bool
	Message         string
	UnansweredCount int
	// EscalationCount is the number of escalations ever recorded for the commitment.
	EscalationCount int
	MessageID       string
}
