package scheduler

import (
	"context"

	"commitbot/internal/storage"
	logx "commitbot/pkg/logx"
)

// Actor identifies who asked for a manual run.
type Actor struct {
	Name   string // user id, token subject, or OS user
	Source string // "http" | "chat" | "cli"
}

// TriggerJobAs is TriggerJob plus an audit entry when the store keeps an audit log.
func (s *Service) TriggerJobAs(ctx context.Context, name string, who Actor) (TriggerResult, error) {
	res, err := s.TriggerJob(ctx, name)

	a, ok := s.store.(storage.AuditStore)
	if !ok {
		return res, err
	}
	e := storage.AuditEntry{
		At:     s.now(),
		Actor:  who.Name,
		Source: who.Source,
		Action: "job.trigger",
		Target: name,
		OK:     err == nil,
		TookMS: res.Took.Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := a.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		s.log.Warn("audit append failed", logx.Job(name), logx.Err(aerr))
	}
	return res, err
}
