package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"commitbot/internal/commitment"
	"commitbot/internal/config"
	"commitbot/internal/eventbus"
	"commitbot/internal/followup"
	"commitbot/internal/gateway"
	"commitbot/internal/storage"
	"commitbot/internal/task/scheduler"
	"commitbot/internal/transport/telegram"
	"commitbot/internal/transport/telegram/adapter"
	logx "commitbot/pkg/logx"
)

// Core is the transport-free part of the service: storage, the commitment
// engine, the follow-up policy and the scheduler with its jobs registered.
// The long-running App and the one-shot CLI commands both build one.
type Core struct {
	Store  storage.Store
	Bus    eventbus.Bus
	Engine *commitment.Engine
	Policy *followup.Policy
	Sched  *scheduler.Service
}

func NewCore(ctx context.Context, cfg *config.Config, gw gateway.Gateway, bus eventbus.Bus, log logx.Logger) (*Core, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	store, err := storage.Open(ctx, mapStorage(cfg), log.With(logx.Component("storage")))
	if errors.Is(err, storage.ErrDisabled) {
		return nil, errors.New("storage.driver must be set: the scheduler keeps its state in storage")
	}
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	eng := commitment.New(store, gw, log.With(logx.Component("commitment")), bus)
	pol := followup.New(mapFollowup(cfg), eng, store, log.With(logx.Component("followup")))
	reg, err := scheduler.NewRegistry(pol.Jobs()...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched := scheduler.New(reg, store, log.With(logx.Component("scheduler")), bus,
		scheduler.WithConfig(mapScheduler(cfg)))
	if err := sched.Sync(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("sync job schedules: %w", err)
	}
	log.Info("core ready",
		logx.String("storage", strings.ToLower(cfg.Storage.Driver)),
		logx.Strs("jobs", reg.Names()),
	)
	return &Core{Store: store, Bus: bus, Engine: eng, Policy: pol, Sched: sched}, nil
}

// ApplyFollowup swaps the policy and re-registers its jobs so interval changes
// and a newly enabled overdue sweep reach the scheduler.
func (c *Core) ApplyFollowup(ctx context.Context, cfg followup.Config) error {
	c.Policy.Apply(cfg)
	var errs []error
	for _, j := range c.Policy.Jobs() {
		if err := c.Sched.Register(ctx, j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Core) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// OutboundGateway returns the gateway for one-shot commands: a send-only bot
// when a token is configured, the in-memory mock otherwise.
func OutboundGateway(cfg *config.Config, log logx.Logger) (gateway.Gateway, error) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		log.Warn("telegram token not set; messages are recorded in memory only")
		return gateway.NewMock(), nil
	}
	s, err := adapter.NewSender(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram sender: %w", err)
	}
	return telegram.NewGateway(s, mapGateway(cfg), log.With(logx.Component("gateway"))), nil
}
