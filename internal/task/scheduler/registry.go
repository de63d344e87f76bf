package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Registry is the job table: name → job. It is built at startup and handed to
// the Service; registration order is the run order within a tick.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]Job
	order []string
}

func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{jobs: map[string]Job{}}
	for _, j := range jobs {
		if err := r.Add(j); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add inserts or replaces a job. Replacing keeps the original position.
func (r *Registry) Add(j Job) error {
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" {
		return errors.New("job name required")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be > 0", j.Name)
	}
	if j.Handler == nil {
		return fmt.Errorf("job %s: handler required", j.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.Name]; !ok {
		r.order = append(r.order, j.Name)
	}
	r.jobs[j.Name] = j
	return nil
}

func (r *Registry) Get(name string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[name]
	return j, ok
}

// Jobs returns the jobs in registration order.
func (r *Registry) Jobs() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Job, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.jobs[n])
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
