package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// SentMessage is a message recorded by Mock.
type SentMessage struct {
	ID      string
	Channel string
	Text    string
	Rich    *RichContent
}

// Mock is an in-memory Gateway. It never touches the network.
//
// Set Fail to make the next SendMessage calls return that error.
type Mock struct {
	mu   sync.Mutex
	seq  int
	sent []SentMessage

	Fail error
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) SendMessage(ctx context.Context, channel, text string, rich *RichContent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return "", m.Fail
	}
	if strings.TrimSpace(channel) == "" {
		return "", ErrInvalidChannel
	}
	m.seq++
	id := fmt.Sprintf("mock-%d", m.seq)
	var cp *RichContent
	if rich != nil {
		c := *rich
		cp = &c
	}
	m.sent = append(m.sent, SentMessage{ID: id, Channel: channel, Text: text, Rich: cp})
	return id, nil
}

// SetFail sets Fail under the lock, for tests that send from other goroutines.
func (m *Mock) SetFail(err error) {
	m.mu.Lock()
	m.Fail = err
	m.mu.Unlock()
}

func (m *Mock) FormatMention(platformUserID string) string {
	return "@" + strings.TrimPrefix(strings.TrimSpace(platformUserID), "@")
}

// Sent returns a copy of every message sent so far.
func (m *Mock) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// Last returns the most recent message, if any.
func (m *Mock) Last() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}
