package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"commitbot/internal/eventbus"
	"commitbot/internal/storage"
	logx "commitbot/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config

	reg   *Registry
	store Store
	log   logx.Logger
	bus   eventbus.Bus
	now   Clock
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.now = c
		}
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// New builds a scheduler over the given job table. A nil registry starts empty.
func New(reg *Registry, store Store, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if reg == nil {
		reg, _ = NewRegistry()
	}
	s := &Service{
		reg:   reg,
		store: store,
		log:   log,
		bus:   bus,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Registry exposes the job table (read-mostly; used by status listings).
func (s *Service) Registry() *Registry { return s.reg }

// Register adds the job to the table and ensures its schedule row exists. A new
// row starts at Epoch; an existing row only gets its interval updated.
func (s *Service) Register(ctx context.Context, j Job) error {
	j.Name = strings.TrimSpace(j.Name)
	if err := s.reg.Add(j); err != nil {
		return err
	}
	return s.upsert(ctx, j)
}

// Sync ensures a schedule row for every job already in the table.
func (s *Service) Sync(ctx context.Context) error {
	var errs []error
	for _, j := range s.reg.Jobs() {
		if err := s.upsert(ctx, j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) upsert(ctx context.Context, j Job) error {
	if err := s.store.UpsertJobSchedule(ctx, j.Name, j.Interval, Epoch); err != nil {
		return fmt.Errorf("register job %s: %w", j.Name, err)
	}
	s.log.Debug("job registered", logx.Job(j.Name), logx.Duration("interval", j.Interval))
	return nil
}

// CheckAndRunDueJobs runs every due job once, sequentially. A failing job is
// logged and reported and never stops the others. The returned error is only
// set when ctx ends before every job was checked.
func (s *Service) CheckAndRunDueJobs(ctx context.Context) (RunReport, error) {
	jobs := s.reg.Jobs()
	rep := RunReport{Jobs: make([]JobResult, 0, len(jobs))}

	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			rep.Message = "tick interrupted"
			return rep, err
		}
		res := s.checkOne(ctx, j)
		rep.Jobs = append(rep.Jobs, res)
	}

	ran, failed := len(rep.Ran()), len(rep.Failed())
	rep.Success = failed == 0
	rep.Message = fmt.Sprintf("%d ran, %d failed, %d checked", ran, failed, len(jobs))
	if ran > 0 || failed > 0 {
		s.log.Info("tick", logx.Int("ran", ran), logx.Int("failed", failed), logx.Int("jobs", len(jobs)))
	}
	return rep, nil
}

func (s *Service) checkOne(ctx context.Context, j Job) JobResult {
	row, err := s.store.FindJobSchedule(ctx, j.Name)
	if errors.Is(err, storage.ErrNotFound) {
		// Row lost (or the table was registered without Sync); recreate and run.
		if err = s.upsert(ctx, j); err == nil {
			row, err = s.store.FindJobSchedule(ctx, j.Name)
		}
	}
	if err != nil {
		s.log.Error("job schedule read failed", logx.Job(j.Name), logx.Err(err))
		return failed(j.Name, 0, fmt.Errorf("read schedule: %w", err))
	}

	if !isDue(row.LastRunAt, j.Interval, s.now()) {
		return JobResult{Name: j.Name, Outcome: OutcomeNotDue}
	}
	return s.run(ctx, j, row.LastRunAt, false)
}

// TriggerJob runs one job regardless of due-ness and advances its last run on
// success.
func (s *Service) TriggerJob(ctx context.Context, name string) (TriggerResult, error) {
	j, ok := s.reg.Get(name)
	if !ok {
		return TriggerResult{Name: name, Message: "unknown job"}, fmt.Errorf("trigger %q: %w", name, ErrUnknownJob)
	}
	row, err := s.store.FindJobSchedule(ctx, j.Name)
	if errors.Is(err, storage.ErrNotFound) {
		if err = s.upsert(ctx, j); err == nil {
			row, err = s.store.FindJobSchedule(ctx, j.Name)
		}
	}
	if err != nil {
		return TriggerResult{Name: name, Message: "failed to read schedule"}, fmt.Errorf("trigger %s: %w", name, err)
	}

	res := s.run(ctx, j, row.LastRunAt, true)
	out := TriggerResult{Name: name, Took: res.Took}
	switch res.Outcome {
	case OutcomeRan:
		out.Success = true
		out.Message = "job ran"
		return out, nil
	case OutcomeContended:
		out.Message = "job is already running"
		return out, fmt.Errorf("trigger %s: %w", name, ErrJobBusy)
	default:
		out.Message = "job failed"
		return out, fmt.Errorf("trigger %s: %w", name, res.Err)
	}
}

// run claims the job (last → claim), runs the handler, then moves the row to the
// completion time on success or back to last on failure. Both moves are
// conditional on the claim still being in place.
func (s *Service) run(ctx context.Context, j Job, last time.Time, manual bool) JobResult {
	// Stored timestamps are millisecond precision; the claim must differ from last there.
	claim := s.now().Truncate(time.Millisecond)
	if !claim.After(last) {
		claim = last.Add(time.Millisecond)
	}
	ok, err := s.store.ClaimJobRun(ctx, j.Name, last, claim)
	if err != nil {
		s.log.Error("job claim failed", logx.Job(j.Name), logx.Err(err))
		return failed(j.Name, 0, fmt.Errorf("claim: %w", err))
	}
	if !ok {
		s.log.Debug("job claimed elsewhere", logx.Job(j.Name))
		eventbus.Publish(s.bus, eventbus.JobSkipped, eventbus.JobRun{Name: j.Name, Manual: manual})
		return JobResult{Name: j.Name, Outcome: OutcomeContended}
	}

	start := time.Now()
	herr := s.invoke(ctx, j)
	took := time.Since(start)

	if herr != nil {
		// Context may be done (timeout); the rollback still has to land.
		rbCtx := context.WithoutCancel(ctx)
		if _, rerr := s.store.ClaimJobRun(rbCtx, j.Name, claim, last); rerr != nil {
			s.log.Error("job rollback failed", logx.Job(j.Name), logx.Err(rerr))
			herr = errors.Join(herr, fmt.Errorf("rollback: %w", rerr))
		}
		s.log.Warn("job failed", logx.Job(j.Name), logx.Bool("manual", manual), logx.Duration("took", took), logx.Err(herr))
		eventbus.Publish(s.bus, eventbus.JobFailed, eventbus.JobRun{Name: j.Name, Manual: manual, TookMS: took.Milliseconds(), Error: herr.Error()})
		return failed(j.Name, took, herr)
	}

	done := s.now()
	if done.Before(claim) {
		done = claim
	}
	moved, err := s.store.ClaimJobRun(context.WithoutCancel(ctx), j.Name, claim, done)
	if err != nil {
		// The claim stays in place, which still records a recent run.
		s.log.Warn("job completion not recorded", logx.Job(j.Name), logx.Err(err))
	} else if !moved {
		s.log.Warn("job schedule changed during run", logx.Job(j.Name))
	}

	lvl := s.log.Debug
	if took >= 750*time.Millisecond || manual {
		lvl = s.log.Info
	}
	lvl("job ran", logx.Job(j.Name), logx.Bool("manual", manual), logx.Duration("took", took))
	eventbus.Publish(s.bus, eventbus.JobRan, eventbus.JobRun{Name: j.Name, Manual: manual, TookMS: took.Milliseconds()})
	return JobResult{Name: j.Name, Outcome: OutcomeRan, Took: took, TookMS: took.Milliseconds()}
}

// invoke runs the handler with the job timeout and converts panics to errors.
func (s *Service) invoke(ctx context.Context, j Job) (err error) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = s.config().DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panic", logx.Job(j.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return j.Handler(ctx)
}

func failed(name string, took time.Duration, err error) JobResult {
	return JobResult{
		Name:    name,
		Outcome: OutcomeFailed,
		Took:    took,
		TookMS:  took.Milliseconds(),
		Err:     err,
		Error:   err.Error(),
	}
}

func isDue(last time.Time, interval time.Duration, now time.Time) bool {
	return now.Sub(last) >= interval
}
