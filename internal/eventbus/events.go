package eventbus

// Kind names an event.
type Kind string

const (
	CommitmentCreated   Kind = "commitment.created"
	CommitmentStatus    Kind = "commitment.status"
	CommitmentEscalated Kind = "commitment.escalated"
	ReminderSent        Kind = "reminder.sent"
	ResponseCollected   Kind = "response.collected"

	JobRan     Kind = "job.ran"
	JobFailed  Kind = "job.failed"
	JobSkipped Kind = "job.skipped"
)

// StatusChange is the Data of CommitmentStatus events.
type StatusChange struct {
	CommitmentID string `json:"commitment_id"`
	From         string `json:"from"`
	To           string `json:"to"`
}

// JobRun is the Data of job events.
type JobRun struct {
	Name   string `json:"name"`
	Manual bool   `json:"manual,omitempty"`
	TookMS int64  `json:"took_ms"`
	Error  string `json:"error,omitempty"`
}
