package scheduler

import (
	"hash/fnv"
	"math/rand/v2"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// Wake jitter is at most this, or the interval when that is shorter.
const maxWakeSpread = 30 * time.Second

// delayedStart is a cron.Schedule that fires at first, then follows every.
type delayedStart struct {
	every cron.ConstantDelaySchedule
	first time.Time
}

func (d delayedStart) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.every.Next(t)
}

// intervalWithSpread returns an every-interval schedule whose first fire is
// pushed back by a jitter derived from the host, pid and tag. Instances that
// start together then wake at different offsets.
func intervalWithSpread(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := min(every, maxWakeSpread)
	if window <= 0 {
		return base, 0
	}
	host, _ := os.Hostname()
	h := fnv.New64a()
	_, _ = h.Write([]byte(host + "/" + tag))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(os.Getpid())^uint64(now.UnixNano())))
	jitter := time.Duration(rng.Int64N(int64(window)))
	return delayedStart{every: base, first: now.Add(every + jitter)}, jitter
}
