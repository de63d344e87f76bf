// Package telegram is the Telegram implementation of the messaging gateway.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"commitbot/internal/gateway"
	kit "commitbot/internal/transport"
	"commitbot/internal/transport/telegram/adapter"
	logx "commitbot/pkg/logx"
	"commitbot/pkg/tgui"
)

// Callback data prefix of reminder buttons: "commit:<done|working|blocked>:<commitment id>".
const CallbackPrefix = "commit"

const (
	ActionDone    = "done"
	ActionWorking = "working"
	ActionBlocked = "blocked"
)

// Sender is the outbound half of the adapter.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// GatewayConfig configures outbound delivery.
type GatewayConfig struct {
	// UserTokens maps a commitment's user id to the bot token used for its
	// messages. Users without an entry go through the default bot. Only the
	// default bot is polled, so replies and button taps on messages sent by a
	// per-user bot are not collected; answer those through POST
	// /commitments/{id}/responses.
	UserTokens map[string]string
	// RatePerSec bounds outbound sends across all bots (0 = 20/s).
	RatePerSec int
	Location   *time.Location // deadline rendering (nil = UTC)
}

// Gateway implements gateway.Gateway over Telegram.
type Gateway struct {
	def Sender
	log logx.Logger

	mu        sync.Mutex
	cfg       GatewayConfig
	limiter   *rate.Limiter
	perUser   map[string]Sender
	newSender func(token string) (Sender, error)
}

var _ gateway.Gateway = (*Gateway)(nil)

func NewGateway(def Sender, cfg GatewayConfig, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gateway{
		def: def,
		log: log,
		newSender: func(token string) (Sender, error) {
			return adapter.NewSender(token)
		},
	}
	g.Apply(cfg)
	return g
}

// Apply swaps the config. Cached per-user senders are dropped.
func (g *Gateway) Apply(cfg GatewayConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	g.mu.Lock()
	g.cfg = cfg
	g.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	g.perUser = map[string]Sender{}
	g.mu.Unlock()
}

func (g *Gateway) SendMessage(ctx context.Context, channel, text string, rich *gateway.RichContent) (string, error) {
	to, err := kit.ParseChatTarget(channel)
	if err != nil {
		return "", fmt.Errorf("%w: %v", gateway.ErrInvalidChannel, err)
	}

	g.mu.Lock()
	lim := g.limiter
	loc := g.cfg.Location
	g.mu.Unlock()
	if err := lim.Wait(ctx); err != nil {
		return "", err
	}

	sender, err := g.senderFor(rich)
	if err != nil {
		return "", err
	}

	body, opt := render(text, rich, loc)
	ref, err := sender.SendText(ctx, to, body, opt)
	if err != nil {
		return "", fmt.Errorf("telegram send to %s: %w", channel, err)
	}
	id := ref.ID()
	g.log.Debug("message sent", logx.String("channel", channel), logx.String("message_id", id))
	return id, nil
}

// FormatMention returns an HTML mention: a tg://user link for numeric ids, an
// @username otherwise.
func (g *Gateway) FormatMention(platformUserID string) string {
	return FormatMention(platformUserID)
}

func FormatMention(platformUserID string) string {
	id := strings.TrimSpace(platformUserID)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > 0 {
		return tgui.Mention(fmt.Sprintf("user %d", n), n).String()
	}
	return "@" + tgui.Esc(strings.TrimPrefix(id, "@")).String()
}

func (g *Gateway) senderFor(rich *gateway.RichContent) (Sender, error) {
	if rich == nil || rich.UserID == "" {
		return g.def, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	token, ok := g.cfg.UserTokens[rich.UserID]
	if !ok || strings.TrimSpace(token) == "" {
		return g.def, nil
	}
	if s, ok := g.perUser[rich.UserID]; ok {
		return s, nil
	}
	s, err := g.newSender(token)
	if err != nil {
		return nil, fmt.Errorf("bot for user %s: %w", rich.UserID, err)
	}
	g.perUser[rich.UserID] = s
	return s, nil
}

// render builds the platform message: HTML plus reminder buttons for rich
// payloads, the plain line otherwise.
func render(text string, rich *gateway.RichContent, loc *time.Location) (string, *kit.SendOptions) {
	if rich == nil {
		return text, &kit.SendOptions{DisablePreview: true}
	}
	if loc == nil {
		loc = time.UTC
	}
	var m tgui.Message
	switch rich.Kind {
	case gateway.KindReminder:
		m = reminderMessage(rich, loc)
	case gateway.KindEscalation:
		m = escalationMessage(rich, loc)
	default:
		return text, &kit.SendOptions{DisablePreview: true}
	}
	return m.Text, m.Opt
}

const deadlineLayout = "Mon 02 Jan 15:04 MST"

func reminderMessage(r *gateway.RichContent, loc *time.Location) tgui.Message {
	b := tgui.New().
		Title("⏰", "Reminder").
		Line(r.CommitmentText).
		HTML(tgui.I("Due " + r.Deadline.In(loc).Format(deadlineLayout)))
	if r.Context != "" {
		b.Line(r.Context)
	}
	b.Blank().HTML(tgui.JoinH(" ",
		tgui.Raw("Reply to this message with"),
		tgui.Code("done")+",",
		tgui.Code("working"),
		tgui.Raw("or"),
		tgui.Code("blocked: reason")+",",
		tgui.Raw("or tap a button."),
	))
	if kb := reminderKeyboard(r.CommitmentID); kb != nil {
		b.Inline(kb)
	}
	return b.Build()
}

func escalationMessage(r *gateway.RichContent, loc *time.Location) tgui.Message {
	noun := "reminders"
	if r.UnansweredCount == 1 {
		noun = "reminder"
	}
	b := tgui.New().
		Title("🚨", "Escalation").
		HTML(mentionHTML(r.Mention) + tgui.Esc(fmt.Sprintf(" has not answered %d %s about:", r.UnansweredCount, noun))).
		HTML(tgui.B(r.CommitmentText)).
		HTML(tgui.I("Due " + r.Deadline.In(loc).Format(deadlineLayout)))
	if r.Reason != "" {
		b.Line("Reason: " + r.Reason)
	}
	return b.Build()
}

// mentionHTML passes through mentions built by FormatMention and escapes anything
// else (the engine falls back to the raw user id).
func mentionHTML(m string) tgui.H {
	if strings.HasPrefix(m, `<a href="tg://user?id=`) {
		return tgui.Raw(m)
	}
	return tgui.Esc(m)
}

// reminderKeyboard returns nil when the id does not fit in callback data; the
// reminder then relies on text replies.
func reminderKeyboard(commitmentID string) *tgui.Inline {
	row := make([]tele.Btn, 0, 3)
	for _, a := range []struct{ label, action string }{
		{"✅ Done", ActionDone},
		{"⏳ Working", ActionWorking},
		{"🚧 Blocked", ActionBlocked},
	} {
		data, err := CallbackData(a.action, commitmentID)
		if err != nil {
			return nil
		}
		row = append(row, tgui.Btn(a.label, data))
	}
	return tgui.NewInline().Row(row...)
}

// CallbackData encodes a reminder button.
func CallbackData(action, commitmentID string) (string, error) {
	return tgui.Data(CallbackPrefix, action, commitmentID)
}

// ParseCallbackData decodes a reminder button; ok is false for foreign data.
func ParseCallbackData(data string) (action, commitmentID string, ok bool) {
	action, commitmentID, ok = tgui.ParseData(CallbackPrefix, data)
	if !ok || commitmentID == "" {
		return "", "", false
	}
	switch action {
	case ActionDone, ActionWorking, ActionBlocked:
		return action, commitmentID, true
	}
	return "", "", false
}
