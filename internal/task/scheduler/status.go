package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commitbot/internal/storage"
)

// JobStatus reports one registered job.
func (s *Service) JobStatus(ctx context.Context, name string) (JobStatus, error) {
	j, ok := s.reg.Get(name)
	if !ok {
		return JobStatus{Name: name}, fmt.Errorf("job status %q: %w", name, ErrUnknownJob)
	}
	row, err := s.store.FindJobSchedule(ctx, j.Name)
	if errors.Is(err, storage.ErrNotFound) {
		// Registered but never synced: it would run on the next tick.
		row = storage.JobSchedule{JobName: j.Name, Interval: j.Interval, LastRunAt: Epoch}
	} else if err != nil {
		return JobStatus{Name: name}, fmt.Errorf("job status %s: %w", name, err)
	}
	return project(row, j.Interval, s.now()), nil
}

// AllJobsStatus reports every registered job in registration order.
func (s *Service) AllJobsStatus(ctx context.Context) ([]JobStatus, error) {
	names := s.reg.Names()
	out := make([]JobStatus, 0, len(names))
	for _, n := range names {
		st, err := s.JobStatus(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func project(row storage.JobSchedule, interval time.Duration, now time.Time) JobStatus {
	// The job table's interval wins over a stale row.
	if interval <= 0 {
		interval = row.Interval
	}
	elapsed := now.Sub(row.LastRunAt)
	next := interval - elapsed
	if next < 0 {
		next = 0
	}
	return JobStatus{
		Name:              row.JobName,
		Interval:          interval,
		IntervalHours:     interval.Hours(),
		LastRunAt:         row.LastRunAt,
		HoursSinceLastRun: elapsed.Hours(),
		IsDue:             elapsed >= interval,
		NextRunIn:         next,
		NextRunInHours:    next.Hours(),
	}
}
