package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// WakeKind is the normalized kind of a wake schedule string.
type WakeKind int

const (
	WakeCron WakeKind = iota
	WakeInterval
)

// WakeSpec is a parsed wake schedule.
//
// Accepted forms:
//   - cron: "*/10 * * * *", "@hourly", "@every 15m" (or forced with a "cron:" prefix)
//   - Go duration: "15m", "1h30m"
//   - HH:MM interval: "00:30" is thirty minutes, "02:00" two hours
//
// "every:" or "interval:" forces interval parsing.
type WakeSpec struct {
	Kind  WakeKind
	Cron  string
	Every time.Duration
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseWake parses a wake schedule.
func ParseWake(raw string) (WakeSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return WakeSpec{}, fmt.Errorf("wake schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return WakeSpec{}, fmt.Errorf("cron expression required after 'cron:'")
		}
		return WakeSpec{Kind: WakeCron, Cron: expr}, nil
	case strings.HasPrefix(low, "every:"):
		return parseEvery(s[len("every:"):])
	case strings.HasPrefix(low, "interval:"):
		return parseEvery(s[len("interval:"):])
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return WakeSpec{Kind: WakeCron, Cron: s}, nil
	}

	if ws, err := parseEvery(s); err == nil {
		return ws, nil
	}
	return WakeSpec{}, fmt.Errorf("invalid wake schedule %q (use cron like '*/10 * * * *', HH:MM like '00:30', or a duration like '15m')", raw)
}

func parseEvery(v string) (WakeSpec, error) {
	v = strings.TrimSpace(v)
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return WakeSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return WakeSpec{}, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d <= 0 {
		return WakeSpec{}, fmt.Errorf("interval must be > 0")
	}
	return WakeSpec{Kind: WakeInterval, Every: d}, nil
}
