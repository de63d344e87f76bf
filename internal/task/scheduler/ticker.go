package scheduler

import (
	"context"
	"sync"

	logx "commitbot/pkg/logx"
)

// Ticker turns frequent wake-ups (inbound chat updates, health probes, watchdog
// pings) into scheduler ticks. At most one tick runs at a time; pokes that arrive
// meanwhile fold into a single follow-up tick.
type Ticker struct {
	svc *Service
	log logx.Logger

	mu      sync.Mutex
	running bool
	pending bool
	done    chan struct{} // closed when the current run loop exits
}

func NewTicker(svc *Service, log logx.Logger) *Ticker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ticker{svc: svc, log: log}
}

// Poke requests a tick without waiting for it.
func (t *Ticker) Poke(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.pending = true
		t.mu.Unlock()
		return
	}
	t.running = true
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go t.loop(ctx, done)
}

// Wait blocks until no tick is running or ctx ends.
func (t *Ticker) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Ticker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if _, err := t.svc.CheckAndRunDueJobs(ctx); err != nil {
			t.log.Debug("tick interrupted", logx.Err(err))
		}

		t.mu.Lock()
		if !t.pending || ctx.Err() != nil {
			t.pending = false
			t.running = false
			t.mu.Unlock()
			return
		}
		t.pending = false
		t.mu.Unlock()
	}
}
