package commitment

import (
	"fmt"
	"strings"
	"time"
)

const deadlineLayout = "Mon Jan 2, 15:04 MST"

func reminderText(c Commitment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ Reminder: %q is due %s.", c.Text, c.Deadline.Format(deadlineLayout))
	if c.Context != "" {
		b.WriteString("\nContext: ")
		b.WriteString(c.Context)
	}
	b.WriteString("\nReply with \"done\", \"working\", or \"blocked: <reason>\".")
	return b.String()
}

func escalationText(c Commitment, mention string, unanswered int, reason string) string {
	noun := "reminders"
	if unanswered == 1 {
		noun = "reminder"
	}
	return fmt.Sprintf("🚨 Escalation: %s has not responded to %d %s about %q (due %s).\nReason: %s",
		mention, unanswered, noun, c.Text, c.Deadline.Format(deadlineLayout), reason)
}

// FormatDeadline renders a deadline the way reminder messages do.
func FormatDeadline(t time.Time) string { return t.Format(deadlineLayout) }
