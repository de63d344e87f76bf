// Package gateway defines the messaging capability the commitment engine talks to.
//
// Implementations:
//   - transport/telegram: the real platform adapter
//   - Mock: synthetic message ids, no network I/O (tests, dry runs)
package gateway

import (
	"context"
	"errors"
	"time"
)

// PayloadKind tags the structured content attached to an outbound message so the
// platform adapter can render it (buttons, formatting, per-user credentials).
type PayloadKind string

const (
	KindReminder   PayloadKind = "reminder"
	KindEscalation PayloadKind = "escalation"
)

// RichContent is the structured payload carried next to the plain-text line.
// A nil *RichContent means "plain text only".
type RichContent struct {
	Kind PayloadKind

	UserID         string
	CommitmentID   string
	CommitmentText string
	Deadline       time.Time
	Context        string

	// Escalation only.
	Mention         string
	UnansweredCount int
	Reason          string
}

// Gateway sends messages to a channel or DM and formats user mentions.
type Gateway interface {
	// SendMessage returns the platform's identifier for the sent message.
	SendMessage(ctx context.Context, channel, text string, rich *RichContent) (string, error)
	FormatMention(platformUserID string) string
}

var ErrInvalidChannel = errors.New("invalid channel")
