package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// ChatTarget addresses a chat, or a forum topic inside one.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// String renders the target as a gateway channel: "<chat>" or "<chat>/<thread>".
func (t ChatTarget) String() string {
	s := strconv.FormatInt(t.ChatID, 10)
	if t.ThreadID == 0 {
		return s
	}
	return s + "/" + strconv.Itoa(t.ThreadID)
}

// ParseChatTarget reads a channel written by ChatTarget.String.
func ParseChatTarget(channel string) (ChatTarget, error) {
	chatPart, threadPart, topic := strings.Cut(strings.TrimSpace(channel), "/")
	chat, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil || chat == 0 {
		return ChatTarget{}, fmt.Errorf("invalid chat %q", channel)
	}
	if !topic {
		return ChatTarget{ChatID: chat}, nil
	}
	thread, err := strconv.Atoi(strings.TrimSpace(threadPart))
	if err != nil || thread < 0 {
		return ChatTarget{}, fmt.Errorf("invalid thread in %q", channel)
	}
	return ChatTarget{ChatID: chat, ThreadID: thread}, nil
}

// MessageRef points at a sent message.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// ID is the correlation id stored with reminders: "<chat>:<message>". Thread
// ids are left out because message ids are unique per chat.
func (r MessageRef) ID() string { return MessageID(r.ChatID, r.MessageID) }

// MessageID builds the correlation id for message msg in chat.
func MessageID(chat int64, msg int) string {
	return strconv.FormatInt(chat, 10) + ":" + strconv.Itoa(msg)
}
