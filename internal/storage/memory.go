package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryStore keeps everything in maps guarded by one mutex. Each method is
// atomic, which matches the single-row atomicity the SQL drivers provide.
type memoryStore struct {
	mu sync.Mutex

	commitments map[string]Commitment
	reminders   map[string]Reminder
	escalations []Escalation
	jobs        map[string]JobSchedule
	audit       []AuditEntry

	closed bool
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		commitments: map[string]Commitment{},
		reminders:   map[string]Reminder{},
		jobs:        map[string]JobSchedule{},
	}
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) check() error {
	if s.closed {
		return ErrDisabled
	}
	return nil
}

func (s *memoryStore) CreateCommitment(ctx context.Context, c Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("create commitment: id required")
	}
	if _, ok := s.commitments[c.ID]; ok {
		return fmt.Errorf("create commitment %s: duplicate id", c.ID)
	}
	s.commitments[c.ID] = c
	return nil
}

func (s *memoryStore) GetCommitment(ctx context.Context, id string) (Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return Commitment{}, err
	}
	c, ok := s.commitments[id]
	if !ok {
		return Commitment{}, ErrNotFound
	}
	return c, nil
}

func (s *memoryStore) ListCommitments(ctx context.Context) ([]Commitment, error) {
	return s.listCommitments(func(Commitment) bool { return true })
}

func (s *memoryStore) ListCommitmentsByUser(ctx context.Context, userID string) ([]Commitment, error) {
	return s.listCommitments(func(c Commitment) bool { return c.UserID == userID })
}

func (s *memoryStore) listCommitments(keep func(Commitment) bool) ([]Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]Commitment, 0, len(s.commitments))
	for _, c := range s.commitments {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) UpdateCommitmentStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	c, ok := s.commitments[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	s.commitments[id] = c
	return nil
}

func (s *memoryStore) AddReminder(ctx context.Context, r Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.commitments[r.CommitmentID]; !ok {
		return fmt.Errorf("add reminder: commitment %s: %w", r.CommitmentID, ErrNotFound)
	}
	s.reminders[r.ID] = r
	return nil
}

func (s *memoryStore) UpdateReminderResponse(ctx context.Context, reminderID string, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	r, ok := s.reminders[reminderID]
	if !ok {
		return ErrNotFound
	}
	at := resp.At
	r.ResponseType = resp.Type
	r.ResponseText = resp.Text
	r.ResponseAt = &at
	s.reminders[reminderID] = r
	return nil
}

func (s *memoryStore) FindReminderByMessageID(ctx context.Context, messageID string) (Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return Reminder{}, err
	}
	var (
		found Reminder
		ok    bool
	)
	for _, r := range s.reminders {
		if r.MessageID != messageID {
			continue
		}
		if !ok || r.SentAt.After(found.SentAt) {
			found, ok = r, true
		}
	}
	if !ok {
		return Reminder{}, ErrNotFound
	}
	return found, nil
}

func (s *memoryStore) ListReminders(ctx context.Context, commitmentID string) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []Reminder
	for _, r := range s.reminders {
		if r.CommitmentID == commitmentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) AddEscalation(ctx context.Context, e Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.commitments[e.CommitmentID]; !ok {
		return fmt.Errorf("add escalation: commitment %s: %w", e.CommitmentID, ErrNotFound)
	}
	s.escalations = append(s.escalations, e)
	return nil
}

func (s *memoryStore) CountEscalations(ctx context.Context, commitmentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	n := 0
	for _, e := range s.escalations {
		if e.CommitmentID == commitmentID {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) FindJobSchedule(ctx context.Context, name string) (JobSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return JobSchedule{}, err
	}
	j, ok := s.jobs[name]
	if !ok {
		return JobSchedule{}, ErrNotFound
	}
	return j, nil
}

func (s *memoryStore) UpsertJobSchedule(ctx context.Context, name string, interval time.Duration, initialLastRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	j, ok := s.jobs[name]
	if !ok {
		j = JobSchedule{JobName: name, LastRunAt: initialLastRun}
	}
	j.Interval = interval
	s.jobs[name] = j
	return nil
}

func (s *memoryStore) UpdateJobLastRun(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	j, ok := s.jobs[name]
	if !ok {
		return ErrNotFound
	}
	j.LastRunAt = at
	s.jobs[name] = j
	return nil
}

func (s *memoryStore) ClaimJobRun(ctx context.Context, name string, expected, next time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}
	j, ok := s.jobs[name]
	if !ok || !j.LastRunAt.Equal(expected) {
		return false, nil
	}
	j.LastRunAt = next
	s.jobs[name] = j
	return true, nil
}

func (s *memoryStore) ListJobSchedules(ctx context.Context) ([]JobSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]JobSchedule, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobName < out[j].JobName })
	return out, nil
}

func (s *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *memoryStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	out := make([]AuditEntry, len(s.audit))
	for i, e := range s.audit {
		out[len(s.audit)-1-i] = e
	}
	// Equal timestamps keep the later append first.
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
