// Package router dispatches inbound Telegram updates: slash commands, replies to
// reminder messages, and reminder buttons. Every update also pokes the scheduler.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"commitbot/internal/commitment"
	rtsup "commitbot/internal/runtime/supervisor"
	"commitbot/internal/task/scheduler"
	kit "commitbot/internal/transport"
	logx "commitbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	ReqID        string

	Logger logx.Logger
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

// UserID is the commitment user id of the sender.
func (r *Request) UserID() string { return strconv.FormatInt(r.FromID, 10) }

// CommitmentPort is the part of the commitment engine the chat surface uses.
type CommitmentPort interface {
	CreateCommitment(ctx context.Context, in commitment.NewCommitment) (commitment.CreateResult, error)
	SendReminder(ctx context.Context, commitmentID string) (commitment.ReminderResult, error)
	CollectReply(ctx context.Context, messageID, responseText string) (commitment.CollectResult, error)
	CheckReminderStatus(ctx context.Context, commitmentID string) (commitment.ReminderSummary, error)
	Get(ctx context.Context, commitmentID string) (commitment.Commitment, error)
	ListForUser(ctx context.Context, userID string) ([]commitment.Commitment, error)
}

// JobsPort is the part of the scheduler the chat surface uses.
type JobsPort interface {
	AllJobsStatus(ctx context.Context) ([]scheduler.JobStatus, error)
	TriggerJobAs(ctx context.Context, name string, who scheduler.Actor) (scheduler.TriggerResult, error)
}

// TickPort requests a scheduler tick without waiting for it.
type TickPort interface {
	Poke(ctx context.Context)
}

type Services struct {
	Commitments CommitmentPort
	Jobs        JobsPort
	Ticker      TickPort       // optional
	Location    *time.Location // deadline parsing and rendering (nil = UTC)
	Now         func() time.Time
}

type Router struct {
	mu       sync.RWMutex
	commands map[string]Command // name and aliases
	list     []Command
	owners   []int64

	log     logx.Logger
	adapter kit.Adapter
	svc     Services

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, svc Services, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if svc.Location == nil {
		svc.Location = time.UTC
	}
	if svc.Now == nil {
		svc.Now = time.Now
	}
	r := &Router{
		commands: map[string]Command{},
		owners:   append([]int64(nil), owners...),
		log:      log,
		adapter:  adapter,
		svc:      svc,
		jobs:     make(chan func(), 256),
	}
	r.SetCommands(r.builtinCommands())
	return r
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int64(nil), r.owners...)
}

// SetCommands replaces the command table and refreshes the Telegram command menu.
func (r *Router) SetCommands(cmds []Command) {
	table := map[string]Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		table[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, taken := table[a]; !taken {
					table[a] = c
				}
			}
		}
		list = append(list, c)
	}

	r.mu.Lock()
	r.commands = table
	r.list = list
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenuCommands(list)
		run := func(parent context.Context) {
			ctx, cancel := context.WithTimeout(parent, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				r.log.Debug("command menu update failed", logx.Err(err))
			}
		}
		r.runMu.Lock()
		sup := r.sup
		r.runMu.Unlock()
		if sup != nil {
			sup.Go0("telegram.menu.update", run)
		} else {
			go run(context.Background())
		}
	}
}

func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.list...)
}

func (r *Router) lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	return c, ok
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx ends or the channel closes. Handlers run
// on a bounded worker pool.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log.With(logx.Component("telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	r.runMu.Lock()
	r.sup, r.running = sup, true
	r.runMu.Unlock()
	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if p := recover(); p != nil {
								r.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		r.runMu.Lock()
		r.running = false
		r.runMu.Unlock()
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if r.svc.Ticker != nil {
				r.svc.Ticker.Poke(ctx)
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)

	if !msg.IsCommand() {
		if msg.ReplyToID != 0 && text != "" {
			req := r.newRequest(up, chat, msg.FromID, "reply")
			req.FromUsername = msg.FromUsername
			r.enqueue(ctx, req, 0, func(ctx context.Context, req *Request) error {
				return r.handleReply(ctx, req, kit.MessageID(msg.ChatID, msg.ReplyToID), text)
			}, func() { r.reply(ctx, chat, "busy, try again") })
		}
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	cmd, ok := r.lookup(word)
	if !ok {
		r.reply(ctx, chat, "unknown command, try /help")
		return
	}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, r.ownersSnapshot()) {
		r.reply(ctx, chat, "unauthorized")
		return
	}

	req := r.newRequest(up, chat, msg.FromID, cmd.Name)
	req.FromUsername = msg.FromUsername
	req.Args = parts[1:]
	r.enqueue(ctx, req, cmd.Timeout, cmd.Handle, func() { r.reply(ctx, chat, "busy, try again") })
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := r.newRequest(up, chat, cb.FromID, "callback")
	r.enqueue(ctx, req, 0, func(ctx context.Context, req *Request) error {
		return r.handleCallback(ctx, req, cb)
	}, func() { _ = r.adapter.AnswerCallback(ctx, cb.ID, "busy") })
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) enqueue(ctx context.Context, req *Request, timeout time.Duration, h HandlerFunc, busy func()) {
	final := wrap(h,
		recoverPanics(r.log),
		logOutcome(r.log),
		withTimeout(timeout),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		busy()
	}
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := r.adapter.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Debug("reply failed", logx.Err(err))
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
