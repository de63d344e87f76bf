// Package adapter talks to the Telegram Bot API through telebot: long polling
// for inbound updates and plain sends for the gateway.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "commitbot/internal/runtime/supervisor"
	kit "commitbot/internal/transport"
	logx "commitbot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	dropReportEvery    = 5 * time.Second
	stopGrace          = 2 * time.Second
)

// Config for the polling bot.
type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter polls one bot and forwards the updates commitbot acts on: commands,
// replies to earlier messages and inline button presses. Everything else is
// dropped at the edge.
type Adapter struct {
	*Sender

	log logx.Logger

	mu   sync.Mutex
	out  chan<- kit.Update // nil while stopped
	sup  *rtsup.Supervisor
	menu []kit.BotCommand // last menu accepted by Telegram

	dropped atomic.Uint64
}

var errNoToken = errors.New("telegram token is empty")

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errNoToken
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{Sender: &Sender{bot: bot}, log: log}
	bot.Handle(tele.OnText, a.onText)
	bot.Handle(tele.OnCallback, a.onCallback)
	return a, nil
}

// Supervisor exposes the polling goroutines for health output; nil when stopped.
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil {
		return nil
	}
	msg := convertMessage(m)
	if !msg.IsCommand() && msg.ReplyToID == 0 {
		return nil
	}
	a.forward(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	return nil
}

func (a *Adapter) onCallback(c tele.Context) error {
	cb, m := c.Callback(), c.Message()
	if cb == nil || m == nil || m.Chat == nil {
		return nil
	}
	var from int64
	if cb.Sender != nil {
		from = cb.Sender.ID
	}
	a.forward(kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID:        cb.ID,
		FromID:    from,
		ChatID:    m.Chat.ID,
		ThreadID:  m.ThreadID,
		MessageID: m.ID,
		Data:      cb.Data,
	}})
	return nil
}

func convertMessage(m *tele.Message) *kit.Message {
	msg := &kit.Message{ID: m.ID, ThreadID: m.ThreadID, Text: m.Text}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if u := m.Sender; u != nil {
		msg.FromID, msg.FromUsername = u.ID, u.Username
	}
	if m.ReplyTo != nil {
		msg.ReplyToID = m.ReplyTo.ID
	}
	return msg
}

// forward never blocks the poller; a full consumer queue drops the update.
func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling and delivers updates to out until Stop or ctx ends.
// A second Start while running is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out = out
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.Component("telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)

	a.sup.Go0("updates.drops", func(c context.Context) {
		t := time.NewTicker(dropReportEvery)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-t.C:
				a.reportDrops(cap(out))
			}
		}
	})
	a.sup.Go0("telebot.stop", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start returns on network trouble as well as on Stop; restart until ctx ends.
	a.sup.GoRestart0("telebot.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDrops(queueCap int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("inbound updates dropped", logx.Int64("count", int64(n)), logx.Int("queue_cap", queueCap))
	}
}

// Stop ends polling. It waits at most stopGrace (or until ctx's deadline) for the
// in-flight getUpdates call.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	a.log.Info("stopping telegram polling")
	sup.Cancel()
	go a.bot.Stop()

	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
		} else {
			a.log.Debug("telegram supervisor ended with error", logx.Err(err))
		}
	}
	return nil
}
