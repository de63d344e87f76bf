package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"commitbot/internal/commitment"
	"commitbot/internal/storage"
	"commitbot/internal/task/scheduler"
	logx "commitbot/pkg/logx"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeEngineError maps engine error kinds onto HTTP statuses. Messages of
// persistence failures stay in the log.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch commitment.KindOf(err) {
	case commitment.KindNotFound:
		writeError(w, http.StatusNotFound, commitment.MsgNotFound)
	case commitment.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case commitment.KindGateway:
		writeError(w, http.StatusBadGateway, "message delivery failed")
		s.log.Warn("gateway error", logx.String("path", r.URL.Path), logx.Err(err))
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
		s.log.Error("request failed", logx.String("path", r.URL.Path), logx.Err(err))
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ticker != nil {
		s.deps.Ticker.Poke(s.baseContext())
	}
	body := map[string]any{"ok": true, "time": time.Now().UTC()}
	if s.deps.Health != nil {
		body["runtime"] = s.deps.Health()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Jobs.AllJobsStatus(r.Context())
	if err != nil {
		s.log.Error("list jobs", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": st})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Jobs.JobStatus(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, scheduler.ErrUnknownJob) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.log.Error("job status", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// runDueJobs is the external-cron entry point: one synchronous tick.
func (s *Server) runDueJobs(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Jobs.CheckAndRunDueJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) triggerJob(w http.ResponseWriter, r *http.Request) {
	who := scheduler.Actor{Name: strings.TrimSpace(r.Header.Get("X-Actor")), Source: "http"}
	if who.Name == "" {
		who.Name = "admin"
	}
	res, err := s.deps.Jobs.TriggerJobAs(r.Context(), chi.URLParam(r, "name"), who)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrJobBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		body := map[string]any{
			"success": res.Success,
			"message": res.Message,
			"name":    res.Name,
			"took_ms": res.Took.Milliseconds(),
		}
		status := http.StatusOK
		if err != nil {
			status = http.StatusInternalServerError
			body["error"] = err.Error()
		}
		writeJSON(w, status, body)
	}
}

type createRequest struct {
	Text           string    `json:"text"`
	Deadline       time.Time `json:"deadline"`
	Channel        string    `json:"channel"`
	UserID         string    `json:"user_id"`
	PlatformUserID string    `json:"platform_user_id,omitempty"`
	Context        string    `json:"context,omitempty"`
	// Remind sends the first reminder right away.
	Remind bool `json:"remind,omitempty"`
}

type commitmentJSON struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	PlatformUserID string    `json:"platform_user_id,omitempty"`
	Text           string    `json:"text"`
	Deadline       time.Time `json:"deadline"`
	Context        string    `json:"context,omitempty"`
	Channel        string    `json:"channel"`
	CreatedAt      time.Time `json:"created_at"`
	Status         string    `json:"status"`
}

func toJSON(c commitment.Commitment) commitmentJSON {
	return commitmentJSON{
		ID:             c.ID,
		UserID:         c.UserID,
		PlatformUserID: c.PlatformUserID,
		Text:           c.Text,
		Deadline:       c.Deadline,
		Context:        c.Context,
		Channel:        c.Channel,
		CreatedAt:      c.CreatedAt,
		Status:         string(c.Status),
	}
}

func (s *Server) createCommitment(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := s.deps.Commitments.CreateCommitment(r.Context(), commitment.NewCommitment{
		Text:           req.Text,
		Deadline:       req.Deadline,
		Channel:        req.Channel,
		UserID:         req.UserID,
		PlatformUserID: req.PlatformUserID,
		Context:        req.Context,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	body := map[string]any{
		"success":    res.Success,
		"message":    res.Message,
		"commitment": toJSON(res.Commitment),
	}
	if req.Remind {
		rem, err := s.deps.Commitments.SendReminder(r.Context(), res.Commitment.ID)
		if err != nil {
			// The commitment exists; report the failed dispatch next to it.
			s.log.Warn("initial reminder failed", logx.String("commitment_id", res.Commitment.ID), logx.Err(err))
			body["reminder_error"] = err.Error()
		} else {
			body["reminder"] = reminderJSON(rem)
		}
	}
	writeJSON(w, http.StatusCreated, body)
}

func reminderJSON(r commitment.ReminderResult) map[string]any {
	return map[string]any{
		"success":     r.Success,
		"message":     r.Message,
		"reminder_id": r.ReminderID,
		"message_id":  r.MessageID,
	}
}

func (s *Server) commitmentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.deps.Commitments.Get(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	sum, err := s.deps.Commitments.CheckReminderStatus(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	body := map[string]any{
		"success":             sum.Success,
		"message":             sum.Message,
		"commitment":          toJSON(c),
		"total_reminders":     sum.TotalReminders,
		"responded_reminders": sum.RespondedReminders,
		"pending_reminders":   sum.PendingReminders,
	}
	if lr := sum.LatestResponse; lr != nil {
		body["latest_response"] = map[string]any{"type": lr.Type, "text": lr.Text, "at": lr.At}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) sendReminder(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Commitments.SendReminder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reminderJSON(res))
}

type responseRequest struct {
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
}

func (s *Server) collectResponse(w http.ResponseWriter, r *http.Request) {
	var req responseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := s.deps.Commitments.CollectResponse(r.Context(), chi.URLParam(r, "id"), req.Text, req.MessageID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	body := map[string]any{"success": res.Success, "message": res.Message}
	if res.Success {
		body["parsed_response"] = res.ParsedResponse
		body["details"] = res.Details
		body["status"] = res.Status
	}
	writeJSON(w, http.StatusOK, body)
}

type escalateRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) escalate(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an empty one uses the default reason.
	var req escalateRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := s.deps.Commitments.EscalateUnresponsive(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          res.Success,
		"message":          res.Message,
		"unanswered_count": res.UnansweredCount,
		"escalation_count": res.EscalationCount,
		"message_id":       res.MessageID,
	})
}

type auditJSON struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Source string    `json:"source"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeError(w, http.StatusNotFound, "audit log not available")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.deps.Audit.ListAudit(r.Context(), limit)
	if errors.Is(err, storage.ErrDisabled) {
		writeError(w, http.StatusNotFound, "audit log not available")
		return
	}
	if err != nil {
		s.log.Error("list audit", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]auditJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
