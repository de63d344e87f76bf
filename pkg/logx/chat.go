package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"commitbot/internal/gateway"
)

// ChatConfig forwards log lines at or above MinLevel to an operator channel.
type ChatConfig struct {
	Enabled    bool
	Channel    string
	MinLevel   string
	RatePerSec int
}

// ChatSender is the subset of the messaging gateway the chat sink needs.
type ChatSender interface {
	SendMessage(ctx context.Context, channel, text string, rich *gateway.RichContent) (string, error)
}

const (
	chatQueueSize  = 256
	chatMaxMessage = 3500
	chatMaxValue   = 600
)

type chatLine struct {
	channel string
	text    string
}

// chatSink is a zerolog.LevelWriter that queues formatted lines for a single
// sender goroutine. Writes never block; a full queue or an exhausted limiter
// drops the line.
type chatSink struct {
	mu       sync.Mutex
	sender   ChatSender
	channel  string
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue   chan chatLine
	start   sync.Once
	cancel  context.CancelFunc
	stopped chan struct{}
}

func newChatSink() *chatSink {
	return &chatSink{queue: make(chan chatLine, chatQueueSize), minLevel: zerolog.WarnLevel}
}

func (c *chatSink) setSender(s ChatSender) {
	c.mu.Lock()
	c.sender = s
	c.mu.Unlock()
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.channel = strings.TrimSpace(cfg.Channel)
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if cfg.Enabled {
		c.start.Do(c.run)
	}
}

func (c *chatSink) run() {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.stopped = make(chan struct{})
	done := c.stopped
	c.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case line := <-c.queue:
				c.mu.Lock()
				sender := c.sender
				c.mu.Unlock()
				if sender != nil {
					_, _ = sender.SendMessage(ctx, line.channel, line.text, nil)
				}
			}
		}
	}()
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.stopped
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	channel, minLevel, lim := c.channel, c.minLevel, c.limiter
	c.mu.Unlock()

	if channel == "" || level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	if text := formatChatLine(p); text != "" {
		select {
		case c.queue <- chatLine{channel: channel, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatChatLine turns a JSON log line into "[LEVEL] message" followed by one
// "- key=value" line per remaining field, keys sorted.
func formatChatLine(p []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return truncate(strings.TrimSpace(string(p)), chatMaxMessage)
	}

	var b strings.Builder
	if lvl, _ := fields["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := fields["message"].(string)
	b.WriteString(msg)

	delete(fields, "level")
	delete(fields, "message")
	delete(fields, "time")
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(fields[k]), chatMaxValue))
	}
	return truncate(b.String(), chatMaxMessage)
}

func truncate(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	default:
		return s[:n-3] + "..."
	}
}
