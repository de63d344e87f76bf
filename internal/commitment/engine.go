package commitment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"commitbot/internal/eventbus"
	"commitbot/internal/gateway"
	"commitbot/internal/storage"
	logx "commitbot/pkg/logx"
)

const (
	MsgNoMatchingReminder = "Could not find matching reminder for this response"
	MsgNoEscalationNeeded = "All reminders have been answered, no escalation needed"
	MsgNotFound           = "Commitment not found"

	defaultEscalationReason = "No response to reminders"
)

// Engine drives the commitment state machine. It holds no state of its own; every
// call reads and writes the store, so one Engine is safe to share.
type Engine struct {
	store Store
	gw    gateway.Gateway
	log   logx.Logger
	bus   eventbus.Bus

	now   Clock
	newID func() string
}

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.now = c
		}
	}
}

// WithIDs overrides id generation (uuid v4 by default).
func WithIDs(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

func New(store Store, gw gateway.Gateway, log logx.Logger, bus eventbus.Bus, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		store: store,
		gw:    gw,
		log:   log,
		bus:   bus,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CreateCommitment persists a new PENDING commitment.
func (e *Engine) CreateCommitment(ctx context.Context, in NewCommitment) (CreateResult, error) {
	const op = "create commitment"
	if err := validateNew(in); err != nil {
		return CreateResult{Message: err.Error()}, newError(KindValidation, op, err)
	}

	c := Commitment{
		ID:             e.newID(),
		UserID:         strings.TrimSpace(in.UserID),
		PlatformUserID: strings.TrimSpace(in.PlatformUserID),
		Text:           strings.TrimSpace(in.Text),
		Deadline:       in.Deadline,
		Context:        strings.TrimSpace(in.Context),
		Channel:        strings.TrimSpace(in.Channel),
		CreatedAt:      e.now(),
		Status:         StatusPending,
	}
	if err := e.store.CreateCommitment(ctx, c); err != nil {
		e.log.Error("commitment persist failed", logx.String("user", c.UserID), logx.Err(err))
		return CreateResult{Message: "Failed to save commitment"}, newError(KindPersistence, op, err)
	}

	e.log.Info("commitment created", logx.String("id", c.ID), logx.String("user", c.UserID), logx.Time("deadline", c.Deadline))
	eventbus.Publish(e.bus, eventbus.CommitmentCreated, c)
	return CreateResult{Success: true, Message: "Commitment created", Commitment: c}, nil
}

func validateNew(in NewCommitment) error {
	var missing []string
	if strings.TrimSpace(in.Text) == "" {
		missing = append(missing, "text")
	}
	if strings.TrimSpace(in.Channel) == "" {
		missing = append(missing, "channel")
	}
	if strings.TrimSpace(in.UserID) == "" {
		missing = append(missing, "user id")
	}
	if in.Deadline.IsZero() {
		missing = append(missing, "deadline")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Get loads one commitment.
func (e *Engine) Get(ctx context.Context, commitmentID string) (Commitment, error) {
	return e.load(ctx, "get commitment", commitmentID)
}

// ListForUser returns the user's commitments, oldest first.
func (e *Engine) ListForUser(ctx context.Context, userID string) ([]Commitment, error) {
	cs, err := e.store.ListCommitmentsByUser(ctx, userID)
	if err != nil {
		return nil, newError(KindPersistence, "list commitments", err)
	}
	return cs, nil
}

// SendReminder sends a reminder for the commitment and records it under the
// returned platform message id. It does not change the commitment's status.
func (e *Engine) SendReminder(ctx context.Context, commitmentID string) (ReminderResult, error) {
	const op = "send reminder"
	c, err := e.load(ctx, op, commitmentID)
	if err != nil {
		return ReminderResult{Message: messageFor(err)}, err
	}

	rich := &gateway.RichContent{
		Kind:           gateway.KindReminder,
		UserID:         c.UserID,
		CommitmentID:   c.ID,
		CommitmentText: c.Text,
		Deadline:       c.Deadline,
		Context:        c.Context,
	}
	msgID, err := e.gw.SendMessage(ctx, c.Channel, reminderText(c), rich)
	if err != nil {
		e.log.Warn("reminder send failed", logx.Commitment(c.ID), logx.String("channel", c.Channel), logx.Err(err))
		return ReminderResult{Message: "Failed to send reminder"}, newError(KindGateway, op, err)
	}

	r := Reminder{
		ID:           e.newID(),
		CommitmentID: c.ID,
		SentAt:       e.now(),
		MessageID:    msgID,
	}
	if err := e.store.AddReminder(ctx, r); err != nil {
		// The message is out; only the bookkeeping failed.
		e.log.Error("reminder persist failed", logx.Commitment(c.ID), logx.String("message_id", msgID), logx.Err(err))
		return ReminderResult{Message: "Reminder sent but not recorded", MessageID: msgID}, newError(KindPersistence, op, err)
	}

	e.log.Info("reminder sent", logx.Commitment(c.ID), logx.String("message_id", msgID))
	eventbus.Publish(e.bus, eventbus.ReminderSent, r)
	return ReminderResult{Success: true, Message: "Reminder sent", ReminderID: r.ID, MessageID: msgID}, nil
}

// CollectResponse records a reply to the reminder sent as messageID and moves the
// commitment to the status the reply implies. A second reply to the same reminder
// overwrites the first.
func (e *Engine) CollectResponse(ctx context.Context, commitmentID, responseText, messageID string) (CollectResult, error) {
	const op = "collect response"
	c, err := e.load(ctx, op, commitmentID)
	if err != nil {
		return CollectResult{Message: messageFor(err), CommitmentID: commitmentID}, err
	}

	r, err := e.store.FindReminderByMessageID(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && r.CommitmentID != c.ID) {
		e.log.Debug("response without matching reminder", logx.Commitment(c.ID), logx.String("message_id", messageID))
		return CollectResult{Message: MsgNoMatchingReminder, CommitmentID: c.ID, Status: c.Status}, nil
	}
	if err != nil {
		return CollectResult{Message: "Failed to load reminder", CommitmentID: c.ID, Status: c.Status}, newError(KindPersistence, op, err)
	}

	parsed := ParseResponse(responseText)
	next := StatusFor(parsed.Type, c.Status)

	resp := storage.Response{Type: parsed.Type, Text: responseText, At: e.now()}
	if err := e.store.UpdateReminderResponse(ctx, r.ID, resp); err != nil {
		return CollectResult{Message: "Failed to save response", CommitmentID: c.ID, Status: c.Status}, newError(KindPersistence, op, err)
	}
	if err := e.setStatus(ctx, c, next); err != nil {
		return CollectResult{Message: "Failed to update status", CommitmentID: c.ID, Status: c.Status}, newError(KindPersistence, op, err)
	}

	e.log.Info("response collected",
		logx.Commitment(c.ID),
		logx.String("type", string(parsed.Type)),
		logx.String("status", string(next)),
	)
	eventbus.Publish(e.bus, eventbus.ResponseCollected, parsed)
	return CollectResult{
		Success:        true,
		Message:        "Response recorded",
		CommitmentID:   c.ID,
		ParsedResponse: parsed.Type,
		Details:        parsed.Details,
		Status:         next,
	}, nil
}

// CollectReply is CollectResponse for callers that only know the message the user
// replied to (chat replies, reminder buttons).
func (e *Engine) CollectReply(ctx context.Context, messageID, responseText string) (CollectResult, error) {
	r, err := e.store.FindReminderByMessageID(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return CollectResult{Message: MsgNoMatchingReminder}, nil
	}
	if err != nil {
		return CollectResult{Message: "Failed to load reminder"}, newError(KindPersistence, "collect reply", err)
	}
	return e.CollectResponse(ctx, r.CommitmentID, responseText, messageID)
}

// CheckReminderStatus summarizes the reminders of a commitment.
func (e *Engine) CheckReminderStatus(ctx context.Context, commitmentID string) (ReminderSummary, error) {
	const op = "check reminder status"
	if _, err := e.load(ctx, op, commitmentID); err != nil {
		return ReminderSummary{Message: messageFor(err)}, err
	}
	reminders, err := e.store.ListReminders(ctx, commitmentID)
	if err != nil {
		return ReminderSummary{Message: "Failed to load reminders"}, newError(KindPersistence, op, err)
	}

	sum := ReminderSummary{Success: true, TotalReminders: len(reminders)}
	var answered []Reminder
	for _, r := range reminders {
		if !r.Unanswered() {
			sum.RespondedReminders++
		}
		if r.ResponseAt != nil {
			answered = append(answered, r)
		}
	}
	sum.PendingReminders = sum.TotalReminders - sum.RespondedReminders

	sort.SliceStable(answered, func(i, j int) bool {
		return answered[i].ResponseAt.After(*answered[j].ResponseAt)
	})
	if len(answered) > 0 {
		r := answered[0]
		sum.LatestResponse = &LatestResponse{Type: r.ResponseType, Text: r.ResponseText, At: *r.ResponseAt}
	}
	sum.Message = fmt.Sprintf("%d of %d reminders answered", sum.RespondedReminders, sum.TotalReminders)
	return sum, nil
}

// EscalateUnresponsive sends an escalation when at least one reminder is still
// unanswered, and marks the commitment ESCALATED.
func (e *Engine) EscalateUnresponsive(ctx context.Context, commitmentID, reason string) (EscalationResult, error) {
	const op = "escalate"
	c, err := e.load(ctx, op, commitmentID)
	if err != nil {
		return EscalationResult{Message: messageFor(err)}, err
	}
	reminders, err := e.store.ListReminders(ctx, c.ID)
	if err != nil {
		return EscalationResult{Message: "Failed to load reminders"}, newError(KindPersistence, op, err)
	}

	unanswered := 0
	for _, r := range reminders {
		if r.Unanswered() {
			unanswered++
		}
	}
	if unanswered == 0 {
		return EscalationResult{Message: MsgNoEscalationNeeded}, nil
	}

	if strings.TrimSpace(reason) == "" {
		reason = defaultEscalationReason
	}
	mention := c.UserID
	if c.PlatformUserID != "" {
		mention = e.gw.FormatMention(c.PlatformUserID)
	}

	rich := &gateway.RichContent{
		Kind:            gateway.KindEscalation,
		UserID:          c.UserID,
		CommitmentID:    c.ID,
		CommitmentText:  c.Text,
		Deadline:        c.Deadline,
		Context:         c.Context,
		Mention:         mention,
		UnansweredCount: unanswered,
		Reason:          reason,
	}
	msgID, err := e.gw.SendMessage(ctx, c.Channel, escalationText(c, mention, unanswered, reason), rich)
	if err != nil {
		e.log.Warn("escalation send failed", logx.Commitment(c.ID), logx.Err(err))
		return EscalationResult{Message: "Failed to send escalation", UnansweredCount: unanswered}, newError(KindGateway, op, err)
	}

	esc := Escalation{
		ID:           e.newID(),
		CommitmentID: c.ID,
		EscalatedAt:  e.now(),
		Reason:       reason,
		MessageID:    msgID,
	}
	if err := e.store.AddEscalation(ctx, esc); err != nil {
		return EscalationResult{Message: "Escalation sent but not recorded", UnansweredCount: unanswered, MessageID: msgID}, newError(KindPersistence, op, err)
	}
	if err := e.setStatus(ctx, c, StatusEscalated); err != nil {
		return EscalationResult{Message: "Failed to update status", UnansweredCount: unanswered, MessageID: msgID}, newError(KindPersistence, op, err)
	}
	count, err := e.store.CountEscalations(ctx, c.ID)
	if err != nil {
		return EscalationResult{Message: "Failed to count escalations", UnansweredCount: unanswered, MessageID: msgID}, newError(KindPersistence, op, err)
	}

	e.log.Warn("commitment escalated",
		logx.Commitment(c.ID),
		logx.Int("unanswered", unanswered),
		logx.Int("escalations", count),
		logx.String("reason", reason),
	)
	eventbus.Publish(e.bus, eventbus.CommitmentEscalated, esc)
	return EscalationResult{
		Success:         true,
		Message:         fmt.Sprintf("Escalated after %d unanswered reminders", unanswered),
		UnansweredCount: unanswered,
		EscalationCount: count,
		MessageID:       msgID,
	}, nil
}

// UpdateStatus sets the status directly. The engine itself only uses it for replies
// and escalations; the overdue sweep and operators use it for OVERDUE.
func (e *Engine) UpdateStatus(ctx context.Context, commitmentID string, status Status) (Commitment, error) {
	const op = "update status"
	if !status.Valid() {
		return Commitment{}, newError(KindValidation, op, fmt.Errorf("unknown status %q", status))
	}
	c, err := e.load(ctx, op, commitmentID)
	if err != nil {
		return Commitment{}, err
	}
	if err := e.setStatus(ctx, c, status); err != nil {
		return c, newError(KindPersistence, op, err)
	}
	c.Status = status
	return c, nil
}

func (e *Engine) setStatus(ctx context.Context, c Commitment, next Status) error {
	if err := e.store.UpdateCommitmentStatus(ctx, c.ID, next); err != nil {
		return err
	}
	if next != c.Status {
		eventbus.Publish(e.bus, eventbus.CommitmentStatus, eventbus.StatusChange{
			CommitmentID: c.ID,
			From:         string(c.Status),
			To:           string(next),
		})
	}
	return nil
}

func (e *Engine) load(ctx context.Context, op, id string) (Commitment, error) {
	c, err := e.store.GetCommitment(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Commitment{}, newError(KindNotFound, op, fmt.Errorf("commitment %q", id))
	}
	if err != nil {
		return Commitment{}, newError(KindPersistence, op, err)
	}
	return c, nil
}

func messageFor(err error) string {
	switch KindOf(err) {
	case KindNotFound:
		return MsgNotFound
	case KindPersistence:
		return "Failed to load commitment"
	default:
		return err.Error()
	}
}
