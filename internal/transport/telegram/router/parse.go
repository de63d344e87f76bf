package router

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID returns a short request id: base36 time, sequence and two random chars.
func newReqID() string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	n := ridSeq.Add(1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" +
		strconv.FormatUint(n, 36) +
		string(alpha[rand.IntN(len(alpha))]) + string(alpha[rand.IntN(len(alpha))])
}

// tokenizeCommandLine splits command text into tokens while supporting quotes
// and backslash escapes:
//
//	/commit 2h "ship the release" notes
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
		quote bool // current token had quotes, so keep it even when empty
	)
	flush := func() {
		if buf.Len() > 0 || quote {
			out = append(out, buf.String())
			buf.Reset()
		}
		quote = false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar, quote = true, ch, true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

var errBadDeadline = errors.New("deadline must look like 2h, 3d, 17:30, tomorrow, 2026-07-01 or 2026-07-01T09:00")

// parseDeadline reads the deadline argument of /commit relative to now, in loc.
//
//	90m, 2h, 1h30m   now + duration
//	3d               now + 3 days
//	17:30            today at 17:30, or tomorrow when that already passed
//	tomorrow         tomorrow at 09:00
//	2026-07-01       that day at 09:00
//	2026-07-01T17:30 that minute
func parseDeadline(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return time.Time{}, errBadDeadline
	}
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	if strings.HasSuffix(s, "d") {
		if n, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil {
			if n <= 0 {
				return time.Time{}, errBadDeadline
			}
			return now.AddDate(0, 0, n), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return time.Time{}, errBadDeadline
		}
		return now.Add(d), nil
	}
	if s == "tomorrow" {
		y, m, d := now.AddDate(0, 0, 1).Date()
		return time.Date(y, m, d, 9, 0, 0, 0, loc), nil
	}
	if t, err := time.ParseInLocation("15:04", s, loc); err == nil {
		y, m, d := now.Date()
		at := time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, nil
	}
	for _, layout := range []string{"2006-01-02t15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return futureOnly(t, now)
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return futureOnly(t.Add(9*time.Hour), now)
	}
	return time.Time{}, errBadDeadline
}

func futureOnly(t, now time.Time) (time.Time, error) {
	if !t.After(now) {
		return time.Time{}, fmt.Errorf("deadline %s is in the past", t.Format("2006-01-02 15:04"))
	}
	return t, nil
}
