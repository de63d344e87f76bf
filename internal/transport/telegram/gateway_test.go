package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"commitbot/internal/gateway"
	kit "commitbot/internal/transport"
	logx "commitbot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeSender struct {
	mu    sync.Mutex
	name  string
	next  int
	calls []sent
	err   error
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.next++
	f.calls = append(f.calls, sent{to: to, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: 100 + f.next}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSender) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

var deadline = time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC)

func TestSendMessagePlain(t *testing.T) {
	t.Parallel()
	def := &fakeSender{}
	g := NewGateway(def, GatewayConfig{}, logx.Nop())

	id, err := g.SendMessage(context.Background(), "-100200/7", "hello <world>", nil)
	require.NoError(t, err)
	assert.Equal(t, "-100200:101", id)

	got := def.last()
	assert.Equal(t, kit.ChatTarget{ChatID: -100200, ThreadID: 7}, got.to)
	assert.Equal(t, "hello <world>", got.text)
	assert.Empty(t, got.opt.ParseMode)
}

func TestSendMessageInvalidChannel(t *testing.T) {
	t.Parallel()
	g := NewGateway(&fakeSender{}, GatewayConfig{}, logx.Nop())
	for _, ch := range []string{"", "ops", "12/x", "0"} {
		_, err := g.SendMessage(context.Background(), ch, "x", nil)
		assert.Truef(t, errors.Is(err, gateway.ErrInvalidChannel), "channel %q: %v", ch, err)
	}
}

func TestSendMessageError(t *testing.T) {
	t.Parallel()
	g := NewGateway(&fakeSender{err: errors.New("bad gateway")}, GatewayConfig{}, logx.Nop())
	_, err := g.SendMessage(context.Background(), "42", "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad gateway")
}

func TestReminderRendering(t *testing.T) {
	t.Parallel()
	def := &fakeSender{}
	g := NewGateway(def, GatewayConfig{}, logx.Nop())

	_, err := g.SendMessage(context.Background(), "42", "fallback", &gateway.RichContent{
		Kind:           gateway.KindReminder,
		UserID:         "u1",
		CommitmentID:   "c-1",
		CommitmentText: "Ship <v2> & tag",
		Deadline:       deadline,
		Context:        "from standup",
	})
	require.NoError(t, err)

	got := def.last()
	assert.Equal(t, tele.ModeHTML, got.opt.ParseMode)
	assert.Contains(t, got.text, "<b>Reminder</b>")
	assert.Contains(t, got.text, "Ship &lt;v2&gt; &amp; tag")
	assert.Contains(t, got.text, "<i>Due Mon 01 Jun 17:00 UTC</i>")
	assert.Contains(t, got.text, "from standup")
	assert.Contains(t, got.text, "<code>blocked: reason</code>")

	rm, ok := got.opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	require.True(t, ok)
	require.Len(t, rm.InlineKeyboard, 1)
	require.Len(t, rm.InlineKeyboard[0], 3)
	var data []string
	for _, b := range rm.InlineKeyboard[0] {
		data = append(data, b.Data)
	}
	assert.Equal(t, []string{"commit:done:c-1", "commit:working:c-1", "commit:blocked:c-1"}, data)
}

func TestReminderWithoutKeyboardForLongIDs(t *testing.T) {
	t.Parallel()
	m := reminderMessage(&gateway.RichContent{
		Kind:         gateway.KindReminder,
		CommitmentID: strings.Repeat("x", 80),
		Deadline:     deadline,
	}, time.UTC)
	assert.Nil(t, m.Opt.ReplyMarkupAdapter)
}

func TestEscalationRendering(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("WIB", 7*3600)
	text, opt := render("fallback", &gateway.RichContent{
		Kind:            gateway.KindEscalation,
		CommitmentText:  "Fix backups",
		Deadline:        deadline,
		Mention:         FormatMention("4242"),
		UnansweredCount: 1,
		Reason:          "no <reply>",
	}, loc)

	assert.Equal(t, tele.ModeHTML, opt.ParseMode)
	assert.Nil(t, opt.ReplyMarkupAdapter)
	assert.Contains(t, text, `<a href="tg://user?id=4242">user 4242</a> has not answered 1 reminder about:`)
	assert.Contains(t, text, "<b>Fix backups</b>")
	assert.Contains(t, text, "Tue 02 Jun 00:00 WIB")
	assert.Contains(t, text, "Reason: no &lt;reply&gt;")

	text, _ = render("", &gateway.RichContent{Kind: gateway.KindEscalation, Mention: "<alice>", UnansweredCount: 2}, nil)
	assert.Contains(t, text, "&lt;alice&gt; has not answered 2 reminders")
}

func TestFormatMention(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"4242":    `<a href="tg://user?id=4242">user 4242</a>`,
		" 7 ":     `<a href="tg://user?id=7">user 7</a>`,
		"alice":   "@alice",
		"@bob":    "@bob",
		"a<b":     "@a&lt;b",
		"-100123": "@-100123",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatMention(in), in)
	}
}

func TestPerUserTokens(t *testing.T) {
	t.Parallel()
	def := &fakeSender{name: "default"}
	g := NewGateway(def, GatewayConfig{UserTokens: map[string]string{"u2": "tok-2", "u3": " "}}, logx.Nop())

	var mu sync.Mutex
	built := map[string]*fakeSender{}
	g.newSender = func(token string) (Sender, error) {
		mu.Lock()
		defer mu.Unlock()
		s := &fakeSender{name: token}
		built[token] = s
		return s, nil
	}

	ctx := context.Background()
	for _, user := range []string{"u1", "u2", "u2", "u3"} {
		_, err := g.SendMessage(ctx, "42", "x", &gateway.RichContent{Kind: gateway.KindReminder, UserID: user, CommitmentID: "c"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, def.count())
	require.Len(t, built, 1)
	assert.Equal(t, 2, built["tok-2"].count())

	// Apply drops the cache.
	g.Apply(GatewayConfig{UserTokens: map[string]string{"u2": "tok-2b"}})
	_, err := g.SendMessage(ctx, "42", "x", &gateway.RichContent{UserID: "u2"})
	require.NoError(t, err)
	assert.Len(t, built, 2)

	g.newSender = func(string) (Sender, error) { return nil, errors.New("bad token") }
	g.Apply(GatewayConfig{UserTokens: map[string]string{"u9": "broken"}})
	_, err = g.SendMessage(ctx, "42", "x", &gateway.RichContent{UserID: "u9"})
	require.Error(t, err)
}

func TestCallbackData(t *testing.T) {
	t.Parallel()
	data, err := CallbackData(ActionBlocked, "c-9")
	require.NoError(t, err)
	assert.Equal(t, "commit:blocked:c-9", data)

	cases := []struct {
		in     string
		action string
		id     string
		ok     bool
	}{
		{"commit:done:abc", ActionDone, "abc", true},
		{"\fcommit:working:abc", ActionWorking, "abc", true},
		{"commit:blocked:a:b", ActionBlocked, "a:b", true},
		{"commit:done:", "", "", false},
		{"commit:later:abc", "", "", false},
		{"systemd:done:abc", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		action, id, ok := ParseCallbackData(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.action, action, tc.in)
		assert.Equal(t, tc.id, id, tc.in)
	}
}

func TestChatTargetRoundTrip(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"42", "-100200/7"} {
		to, err := kit.ParseChatTarget(in)
		require.NoError(t, err)
		assert.Equal(t, in, to.String())
	}
	assert.Equal(t, "-5:12", kit.MessageRef{ChatID: -5, ThreadID: 3, MessageID: 12}.ID())
	assert.Equal(t, "-5:12", kit.MessageID(-5, 12))
}
