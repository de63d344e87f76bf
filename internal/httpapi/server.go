// Package httpapi is the HTTP surface: health checks that double as scheduler
// ticks, job inspection and triggers, and commitment operations for external
// callers.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"commitbot/internal/commitment"
	"commitbot/internal/storage"
	"commitbot/internal/task/scheduler"
	logx "commitbot/pkg/logx"
)

// Jobs is the scheduler surface the API exposes.
type Jobs interface {
	CheckAndRunDueJobs(ctx context.Context) (scheduler.RunReport, error)
	AllJobsStatus(ctx context.Context) ([]scheduler.JobStatus, error)
	JobStatus(ctx context.Context, name string) (scheduler.JobStatus, error)
	TriggerJobAs(ctx context.Context, name string, who scheduler.Actor) (scheduler.TriggerResult, error)
}

// Commitments is the engine surface the API exposes.
type Commitments interface {
	CreateCommitment(ctx context.Context, in commitment.NewCommitment) (commitment.CreateResult, error)
	Get(ctx context.Context, commitmentID string) (commitment.Commitment, error)
	SendReminder(ctx context.Context, commitmentID string) (commitment.ReminderResult, error)
	CollectResponse(ctx context.Context, commitmentID, responseText, messageID string) (commitment.CollectResult, error)
	CheckReminderStatus(ctx context.Context, commitmentID string) (commitment.ReminderSummary, error)
	EscalateUnresponsive(ctx context.Context, commitmentID, reason string) (commitment.EscalationResult, error)
}

// Poker requests a background scheduler tick.
type Poker interface {
	Poke(ctx context.Context)
}

type Deps struct {
	Jobs        Jobs
	Commitments Commitments
	Ticker      Poker
	Audit       storage.AuditStore // optional
	// Health adds runtime details to /healthz (supervisor snapshot and the like).
	Health func() any
}

type Config struct {
	Addr        string
	AdminToken  string
	CORSOrigins []string
	// Pprof mounts net/http/pprof under /debug, behind the admin token.
	Pprof bool
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	baseMu sync.RWMutex
	base   context.Context
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":8080"
	}
	return &Server{cfg: cfg, deps: deps, log: log, base: context.Background()}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.health)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.listJobs)
		r.Post("/run", s.runDueJobs)
		r.Get("/{name}", s.jobStatus)
		r.With(s.requireAdmin).Post("/{name}/trigger", s.triggerJob)
	})

	r.Route("/commitments", func(r chi.Router) {
		r.Get("/{id}/status", s.commitmentStatus)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/", s.createCommitment)
			r.Post("/{id}/remind", s.sendReminder)
			r.Post("/{id}/responses", s.collectResponse)
			r.Post("/{id}/escalate", s.escalate)
		})
	})

	r.With(s.requireAdmin).Get("/audit", s.listAudit)
	if s.cfg.Pprof {
		r.With(s.requireAdmin).Mount("/debug", middleware.Profiler())
	}
	return r
}

// Serve listens until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.baseMu.Lock()
	s.base = ctx
	s.baseMu.Unlock()

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("http listening", logx.String("addr", s.cfg.Addr), logx.Bool("admin", s.cfg.AdminToken != ""))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
	}
	return nil
}

// baseContext outlives a single request; ticks started from a request use it.
func (s *Server) baseContext() context.Context {
	s.baseMu.RLock()
	defer s.baseMu.RUnlock()
	return s.base
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		took := time.Since(start)

		fields := []logx.Field{
			logx.String("req_id", middleware.GetReqID(r.Context())),
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", took),
		}
		switch {
		case ww.Status() >= 500:
			s.log.Warn("http request failed", fields...)
		case took >= 750*time.Millisecond:
			s.log.Info("http request slow", fields...)
		default:
			s.log.Debug("http request", fields...)
		}
	})
}

// requireAdmin checks "Authorization: Bearer <token>". Without a configured
// token the guarded routes are off.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			writeError(w, http.StatusForbidden, "admin API disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !constantTimeEqual(strings.TrimSpace(token), s.cfg.AdminToken) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
