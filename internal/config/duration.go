package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ParseDurationField parses an optional, non-negative duration. Empty is zero.
// Besides Go duration syntax a leading whole-day count is accepted, so follow-up
// cadences read naturally: "1d", "2d12h". Errors name the field path.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := parseDays(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func parseDays(s string) (time.Duration, error) {
	n, rest, ok := strings.Cut(s, "d")
	if !ok {
		return time.ParseDuration(s)
	}
	days, err := strconv.Atoi(n)
	if err != nil {
		return 0, fmt.Errorf("day count %q", n)
	}
	d := time.Duration(days) * day
	if rest == "" {
		return d, nil
	}
	tail, err := time.ParseDuration(rest)
	if err != nil {
		return 0, err
	}
	if days < 0 {
		return d - tail, nil
	}
	return d + tail, nil
}

// DurationOr parses a field Validate already accepted; zero or unparsable
// values give def.
func DurationOr(raw string, def time.Duration) time.Duration {
	if d, err := ParseDurationField("", raw); err == nil && d > 0 {
		return d
	}
	return def
}

// Location loads an IANA zone name; empty means UTC.
func Location(name string) (*time.Location, error) {
	if name = strings.TrimSpace(name); name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
