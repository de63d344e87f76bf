package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "commitbot/pkg/logx"
)

// Waker ticks the scheduler from an in-process cron. It is optional: the
// scheduler is correct without it, the Waker only bounds how long due jobs wait
// when no inbound traffic arrives.
type Waker struct {
	mu sync.Mutex

	svc    *Service
	log    logx.Logger
	parser cron.Parser

	ctx  context.Context
	c    *cron.Cron
	spec string
	tz   string
}

func NewWaker(svc *Service, log logx.Logger) *Waker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Waker{
		svc: svc,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start installs the wake schedule from cfg. ctx bounds every tick and is kept for
// restarts by Apply.
func (w *Waker) Start(ctx context.Context, cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ctx = ctx
	return w.restartLocked(cfg)
}

// Apply re-installs the schedule when the wake spec or timezone changed.
func (w *Waker) Apply(cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return nil
	}
	if strings.TrimSpace(cfg.Wake) == w.spec && strings.TrimSpace(cfg.Timezone) == w.tz {
		return nil
	}
	return w.restartLocked(cfg)
}

// Stop halts the cron and waits for a running tick, bounded by ctx.
func (w *Waker) Stop(ctx context.Context) {
	w.mu.Lock()
	c := w.c
	w.c = nil
	w.spec, w.tz = "", ""
	w.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Next returns the next scheduled wake, or the zero time when disabled.
func (w *Waker) Next() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.c == nil {
		return time.Time{}
	}
	entries := w.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (w *Waker) restartLocked(cfg Config) error {
	if w.c != nil {
		<-w.c.Stop().Done()
		w.c = nil
	}
	spec := strings.TrimSpace(cfg.Wake)
	tz := strings.TrimSpace(cfg.Timezone)
	w.spec, w.tz = spec, tz
	if spec == "" {
		w.log.Info("wake timer disabled")
		return nil
	}

	ws, err := ParseWake(spec)
	if err != nil {
		return err
	}
	loc := loadLocation(tz, w.log)
	// SkipIfStillRunning: a slow tick must not pile up behind itself.
	c := cron.New(
		cron.WithParser(w.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	ctx := w.ctx
	job := cron.FuncJob(func() { w.tick(ctx) })

	switch ws.Kind {
	case WakeInterval:
		sched, jitter := intervalWithSpread(ws.Every, time.Now().In(loc), "wake")
		c.Schedule(sched, job)
		w.log.Info("wake timer started", logx.Duration("every", ws.Every), logx.Duration("spread", jitter))
	default:
		if _, err := c.AddJob(ws.Cron, job); err != nil {
			return err
		}
		w.log.Info("wake timer started", logx.String("cron", ws.Cron), logx.String("tz", loc.String()))
	}
	c.Start()
	w.c = c
	return nil
}

// tick must not take w.mu: restartLocked waits for a running tick while holding it.
func (w *Waker) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := w.svc.CheckAndRunDueJobs(ctx); err != nil {
		w.log.Debug("wake tick interrupted", logx.Err(err))
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
