// Package followup is the follow-up policy that couples the scheduler to the
// commitment engine: it re-sends reminders on a fixed cadence, up to a bound, and
// escalates commitments that stayed unanswered past their deadline.
package followup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"commitbot/internal/commitment"
	"commitbot/internal/storage"
	"commitbot/internal/task/scheduler"
	logx "commitbot/pkg/logx"
)

const (
	JobName        = "followup.reminders"
	OverdueJobName = "followup.mark_overdue"

	DefaultReason = "Maximum reminders reached without response"
)

// Config is the policy. Zero values fall back to the defaults.
type Config struct {
	Interval     time.Duration // how often the job is due (1h)
	Cadence      time.Duration // minimum gap between reminders (4h)
	MaxReminders int           // follow-ups stop at this many reminders (3)
	Reason       string        // escalation reason
	// MarkOverdue registers a second job that moves PENDING/IN_PROGRESS
	// commitments past their deadline to OVERDUE.
	MarkOverdue bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Cadence <= 0 {
		c.Cadence = 4 * time.Hour
	}
	if c.MaxReminders <= 0 {
		c.MaxReminders = 3
	}
	if c.Reason == "" {
		c.Reason = DefaultReason
	}
	return c
}

// Engine is the part of the commitment engine the policy drives.
type Engine interface {
	SendReminder(ctx context.Context, commitmentID string) (commitment.ReminderResult, error)
	EscalateUnresponsive(ctx context.Context, commitmentID, reason string) (commitment.EscalationResult, error)
	UpdateStatus(ctx context.Context, commitmentID string, status commitment.Status) (commitment.Commitment, error)
}

// Store is what the policy reads.
type Store interface {
	ListCommitments(ctx context.Context) ([]storage.Commitment, error)
	ListReminders(ctx context.Context, commitmentID string) ([]storage.Reminder, error)
}

// Action is what the policy decided for one commitment.
type Action string

const (
	ActionNone     Action = "none"
	ActionRemind   Action = "remind"
	ActionEscalate Action = "escalate"
)

// Report summarizes one pass.
type Report struct {
	Checked   int
	Reminded  []string
	Escalated []string
	Overdue   []string
	// Failed lists commitments whose reminder or escalation failed this pass.
	Failed []string
}

type Policy struct {
	mu  sync.RWMutex
	cfg Config

	engine Engine
	store  Store
	log    logx.Logger
	now    func() time.Time
}

type Option func(*Policy)

func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

func New(cfg Config, engine Engine, store Store, log logx.Logger, opts ...Option) *Policy {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Policy{
		cfg:    cfg.withDefaults(),
		engine: engine,
		store:  store,
		log:    log,
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Apply swaps the policy config (hot reload). Interval changes and a newly
// enabled overdue sweep take effect once Jobs() is registered again.
func (p *Policy) Apply(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg.withDefaults()
	p.mu.Unlock()
}

func (p *Policy) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Jobs returns the scheduler jobs for this policy.
func (p *Policy) Jobs() []scheduler.Job {
	cfg := p.Config()
	jobs := []scheduler.Job{{
		Name:     JobName,
		Interval: cfg.Interval,
		Handler:  func(ctx context.Context) error { _, err := p.Run(ctx); return err },
	}}
	if cfg.MarkOverdue {
		jobs = append(jobs, scheduler.Job{
			Name:     OverdueJobName,
			Interval: cfg.Interval,
			Handler: func(ctx context.Context) error {
				// Registered jobs outlive a reload that turns the sweep off.
				if !p.Config().MarkOverdue {
					return nil
				}
				_, err := p.MarkOverdue(ctx)
				return err
			},
		})
	}
	return jobs
}

// Decide applies the policy to one commitment and its reminders (oldest first).
func Decide(cfg Config, c storage.Commitment, reminders []storage.Reminder, now time.Time) Action {
	cfg = cfg.withDefaults()
	if c.Status == storage.StatusDone || c.Status == storage.StatusEscalated {
		return ActionNone
	}
	if len(reminders) == 0 {
		// The first reminder is sent when the commitment is made, not here.
		return ActionNone
	}
	if len(reminders) < cfg.MaxReminders {
		if now.Sub(latestSent(reminders)) >= cfg.Cadence {
			return ActionRemind
		}
		return ActionNone
	}
	if (c.Status == storage.StatusPending || c.Status == storage.StatusOverdue) && now.After(c.Deadline) {
		return ActionEscalate
	}
	return ActionNone
}

func latestSent(rs []storage.Reminder) time.Time {
	var t time.Time
	for _, r := range rs {
		if r.SentAt.After(t) {
			t = r.SentAt
		}
	}
	return t
}

// Run is one pass of the follow-up job. A failure on one commitment is logged and
// collected; the pass continues with the next one.
func (p *Policy) Run(ctx context.Context) (Report, error) {
	cfg := p.Config()
	cs, err := p.store.ListCommitments(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("followup: list commitments: %w", err)
	}

	var (
		rep  Report
		errs []error
	)
	for _, c := range cs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if c.Status == storage.StatusDone || c.Status == storage.StatusEscalated {
			continue
		}
		rep.Checked++

		reminders, err := p.store.ListReminders(ctx, c.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("followup %s: list reminders: %w", c.ID, err))
			continue
		}

		switch Decide(cfg, c, reminders, p.now()) {
		case ActionRemind:
			if _, err := p.engine.SendReminder(ctx, c.ID); err != nil {
				p.log.Warn("follow-up reminder failed", logx.Commitment(c.ID), logx.Err(err))
				errs = append(errs, fmt.Errorf("followup %s: %w", c.ID, err))
				rep.Failed = append(rep.Failed, c.ID)
				continue
			}
			rep.Reminded = append(rep.Reminded, c.ID)
		case ActionEscalate:
			res, err := p.engine.EscalateUnresponsive(ctx, c.ID, cfg.Reason)
			if err != nil {
				p.log.Warn("escalation failed", logx.Commitment(c.ID), logx.Err(err))
				errs = append(errs, fmt.Errorf("followup %s: %w", c.ID, err))
				rep.Failed = append(rep.Failed, c.ID)
				continue
			}
			if res.Success {
				rep.Escalated = append(rep.Escalated, c.ID)
			}
		}
	}

	if len(rep.Failed) > 0 {
		// The job stays due until these succeed, so every tick repeats the pass.
		p.log.Warn("follow-up pass left commitments failing; job stays due",
			logx.Strs("commitment_ids", rep.Failed),
		)
	}
	if len(rep.Reminded) > 0 || len(rep.Escalated) > 0 || len(errs) > 0 {
		p.log.Info("follow-up pass",
			logx.Int("checked", rep.Checked),
			logx.Int("reminded", len(rep.Reminded)),
			logx.Int("escalated", len(rep.Escalated)),
			logx.Int("errors", len(errs)),
		)
	}
	return rep, errors.Join(errs...)
}

// MarkOverdue moves PENDING and IN_PROGRESS commitments whose deadline passed to
// OVERDUE.
func (p *Policy) MarkOverdue(ctx context.Context) (Report, error) {
	cs, err := p.store.ListCommitments(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("overdue: list commitments: %w", err)
	}
	now := p.now()
	var (
		rep  Report
		errs []error
	)
	for _, c := range cs {
		if c.Status != storage.StatusPending && c.Status != storage.StatusInProgress {
			continue
		}
		rep.Checked++
		if !now.After(c.Deadline) {
			continue
		}
		if _, err := p.engine.UpdateStatus(ctx, c.ID, storage.StatusOverdue); err != nil {
			errs = append(errs, fmt.Errorf("overdue %s: %w", c.ID, err))
			continue
		}
		rep.Overdue = append(rep.Overdue, c.ID)
	}
	if len(rep.Overdue) > 0 {
		p.log.Info("commitments overdue", logx.Int("count", len(rep.Overdue)))
	}
	return rep, errors.Join(errs...)
}
