package scheduler

import (
	"context"
	"errors"
	"time"

	"commitbot/internal/storage"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobBusy is returned by TriggerJob when another caller holds the claim.
	ErrJobBusy = errors.New("job is already running")
)

// Epoch is the initial last run of a new job, so it is due on the first tick.
var Epoch = time.Unix(0, 0).UTC()

// Config controls the scheduler service and its optional wake timer.
type Config struct {
	// DefaultTimeout bounds a handler run when the job sets none. Zero means no bound.
	DefaultTimeout time.Duration
	// Wake is an optional in-process tick schedule ("15m", "00:30", "*/10 * * * *").
	// Empty disables it; ticks then come only from inbound triggers.
	Wake     string
	Timezone string // IANA TZ for cron wake specs
	// TickOnStart runs one CheckAndRunDueJobs when the app starts.
	TickOnStart bool
}

// Store is the persistence the scheduler needs.
type Store = storage.JobScheduleStore

// Handler is a job body. Returning an error (or panicking) leaves the job due.
type Handler func(ctx context.Context) error

// Job is one entry of the job table.
type Job struct {
	Name     string
	Interval time.Duration
	Handler  Handler
	Timeout  time.Duration // optional, overrides Config.DefaultTimeout
}

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

// JobStatus is a read-only projection of a job's schedule.
type JobStatus struct {
	Name              string        `json:"name"`
	Interval          time.Duration `json:"-"`
	IntervalHours     float64       `json:"interval_hours"`
	LastRunAt         time.Time     `json:"last_run_at"`
	HoursSinceLastRun float64       `json:"hours_since_last_run"`
	IsDue             bool          `json:"is_due"`
	// NextRunIn is never negative.
	NextRunIn      time.Duration `json:"-"`
	NextRunInHours float64       `json:"next_run_in_hours"`
}

// Outcome of one job within a tick.
type Outcome string

const (
	OutcomeRan       Outcome = "ran"
	OutcomeNotDue    Outcome = "not_due"
	OutcomeContended Outcome = "contended" // another caller claimed it first
	OutcomeFailed    Outcome = "failed"
)

// JobResult is one job's entry in a RunReport.
type JobResult struct {
	Name    string        `json:"name"`
	Outcome Outcome       `json:"outcome"`
	Took    time.Duration `json:"-"`
	TookMS  int64         `json:"took_ms"`
	Err     error         `json:"-"`
	Error   string        `json:"error,omitempty"`
}

// RunReport is the result of CheckAndRunDueJobs. Handler failures are reported
// here, not as the call's error.
type RunReport struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Jobs    []JobResult `json:"jobs"`
}

// Ran returns the names of the jobs that ran to completion.
func (r RunReport) Ran() []string { return r.names(OutcomeRan) }

// Failed returns the names of the jobs whose handler or bookkeeping failed.
func (r RunReport) Failed() []string { return r.names(OutcomeFailed) }

func (r RunReport) names(o Outcome) []string {
	var out []string
	for _, j := range r.Jobs {
		if j.Outcome == o {
			out = append(out, j.Name)
		}
	}
	return out
}

// TriggerResult is the result of TriggerJob.
type TriggerResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Name    string        `json:"name"`
	Took    time.Duration `json:"-"`
}
