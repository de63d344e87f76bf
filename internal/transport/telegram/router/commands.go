package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"commitbot/internal/commitment"
	"commitbot/internal/task/scheduler"
	kit "commitbot/internal/transport"
	"commitbot/internal/transport/telegram"
	logx "commitbot/pkg/logx"
	"commitbot/pkg/tgui"
)

const listLimit = 20

func (r *Router) builtinCommands() []Command {
	return []Command{
		{
			Name:        "commit",
			Aliases:     []string{"c"},
			Description: "make a commitment",
			Usage:       "/commit <deadline> <text> [| context]",
			Timeout:     15 * time.Second,
			Handle:      r.cmdCommit,
		},
		{
			Name:        "mine",
			Description: "list your open commitments",
			Usage:       "/mine [all]",
			Timeout:     10 * time.Second,
			Handle:      r.cmdMine,
		},
		{
			Name:        "status",
			Description: "reminder status of a commitment",
			Usage:       "/status <id>",
			Timeout:     10 * time.Second,
			Handle:      r.cmdStatus,
		},
		{
			Name:        "jobs",
			Description: "scheduled jobs",
			Usage:       "/jobs",
			Access:      AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      r.cmdJobs,
		},
		{
			Name:        "run",
			Description: "run a job now",
			Usage:       "/run <job>",
			Access:      AccessOwnerOnly,
			Timeout:     5 * time.Minute,
			Handle:      r.cmdRun,
		},
		{
			Name:        "help",
			Aliases:     []string{"start", "h"},
			Description: "show help",
			Usage:       "/help",
			Handle:      r.cmdHelp,
		},
	}
}

func (r *Router) send(ctx context.Context, req *Request, m tgui.Message) error {
	_, err := m.Send(ctx, r.adapter, req.Chat)
	return err
}

func (r *Router) sendText(ctx context.Context, req *Request, text string) error {
	_, err := r.adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (r *Router) cmdCommit(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		return r.sendText(ctx, req, "usage: /commit <deadline> <text> [| context]")
	}
	deadline, err := parseDeadline(req.Args[0], r.svc.Now(), r.svc.Location)
	if err != nil {
		return r.sendText(ctx, req, err.Error())
	}
	text, note, _ := strings.Cut(strings.Join(req.Args[1:], " "), "|")

	uid := req.UserID()
	res, err := r.svc.Commitments.CreateCommitment(ctx, commitment.NewCommitment{
		Text:           strings.TrimSpace(text),
		Deadline:       deadline,
		Channel:        req.Chat.String(),
		UserID:         uid,
		PlatformUserID: uid,
		Context:        strings.TrimSpace(note),
	})
	if err != nil {
		_ = r.sendText(ctx, req, res.Message)
		if commitment.KindOf(err) == commitment.KindValidation {
			return nil
		}
		return err
	}

	c := res.Commitment
	b := tgui.New().
		Title("📌", "Commitment saved").
		KV("id", c.ID).
		KV("due", deadline.In(r.svc.Location).Format("Mon 02 Jan 15:04 MST"))
	if err := r.send(ctx, req, b.Build()); err != nil {
		req.Logger.Debug("commit ack failed", logx.Err(err))
	}

	// The first reminder goes out right away; follow-ups come from the scheduler.
	if _, err := r.svc.Commitments.SendReminder(ctx, c.ID); err != nil {
		_ = r.sendText(ctx, req, "saved, but the first reminder could not be sent; it will be retried")
		return err
	}
	return nil
}

func (r *Router) cmdMine(ctx context.Context, req *Request) error {
	cs, err := r.svc.Commitments.ListForUser(ctx, req.UserID())
	if err != nil {
		_ = r.sendText(ctx, req, "could not load your commitments")
		return err
	}
	all := len(req.Args) > 0 && strings.EqualFold(req.Args[0], "all")
	open := cs[:0:0]
	for _, c := range cs {
		if all || (c.Status != commitment.StatusDone && c.Status != commitment.StatusEscalated) {
			open = append(open, c)
		}
	}
	if len(open) == 0 {
		return r.sendText(ctx, req, "no open commitments")
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].Deadline.Before(open[j].Deadline) })

	b := tgui.New().Title("🗂", fmt.Sprintf("Your commitments (%d)", len(open)))
	for i, c := range open {
		if i == listLimit {
			b.Line(fmt.Sprintf("… and %d more", len(open)-listLimit))
			break
		}
		b.HTML(tgui.JoinH(" ",
			tgui.Raw("•"),
			tgui.Code(string(c.Status)),
			tgui.Esc(tgui.TruncRunes(c.Text, 60)),
			tgui.I("due "+c.Deadline.In(r.svc.Location).Format("02 Jan 15:04")),
			tgui.Code(c.ID),
		))
	}
	return r.send(ctx, req, b.Build())
}

func (r *Router) cmdStatus(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return r.sendText(ctx, req, "usage: /status <id>")
	}
	id := req.Args[0]
	c, err := r.svc.Commitments.Get(ctx, id)
	if err != nil {
		if commitment.KindOf(err) == commitment.KindNotFound {
			return r.sendText(ctx, req, commitment.MsgNotFound)
		}
		return err
	}
	sum, err := r.svc.Commitments.CheckReminderStatus(ctx, id)
	if err != nil {
		return err
	}

	b := tgui.New().
		Title("📋", tgui.TruncRunes(c.Text, 80)).
		KV("status", string(c.Status)).
		KV("due", c.Deadline.In(r.svc.Location).Format("Mon 02 Jan 15:04 MST")).
		KV("reminders", fmt.Sprintf("%d sent, %d answered, %d pending", sum.TotalReminders, sum.RespondedReminders, sum.PendingReminders))
	if lr := sum.LatestResponse; lr != nil {
		b.KV("latest", fmt.Sprintf("%s %q at %s", lr.Type, lr.Text, lr.At.In(r.svc.Location).Format("02 Jan 15:04")))
	}
	return r.send(ctx, req, b.Build())
}

func (r *Router) cmdJobs(ctx context.Context, req *Request) error {
	jobs, err := r.svc.Jobs.AllJobsStatus(ctx)
	if err != nil {
		_ = r.sendText(ctx, req, "could not load jobs")
		return err
	}
	if len(jobs) == 0 {
		return r.sendText(ctx, req, "no jobs registered")
	}
	b := tgui.New().Title("⏱", "Jobs")
	for _, j := range jobs {
		state := "next in " + j.NextRunIn.Round(time.Minute).String()
		if j.IsDue {
			state = "due"
		}
		last := "never"
		if j.LastRunAt.After(scheduler.Epoch) {
			last = j.LastRunAt.In(r.svc.Location).Format("02 Jan 15:04")
		}
		b.HTML(tgui.JoinH(" ",
			tgui.Raw("•"),
			tgui.Code(j.Name),
			tgui.Esc(fmt.Sprintf("every %s, last %s, %s", j.Interval, last, state)),
		))
	}
	return r.send(ctx, req, b.Build())
}

func (r *Router) cmdRun(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return r.sendText(ctx, req, "usage: /run <job>")
	}
	res, err := r.svc.Jobs.TriggerJobAs(ctx, req.Args[0], scheduler.Actor{Name: req.UserID(), Source: "chat"})
	if err != nil {
		_ = r.sendText(ctx, req, fmt.Sprintf("%s: %s", res.Name, res.Message))
		return err
	}
	return r.sendText(ctx, req, fmt.Sprintf("%s: %s in %s", res.Name, res.Message, res.Took.Round(time.Millisecond)))
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	owner := isOwner(req.FromID, r.ownersSnapshot())
	b := tgui.New().Title("🤝", "Commitments")
	for _, c := range r.Commands() {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		b.HTML(tgui.JoinH(" - ", tgui.Code(c.Usage), tgui.Esc(c.Description)))
	}
	b.Blank().Line("Reply to a reminder with done, working or blocked: reason, or tap its buttons.")
	return r.send(ctx, req, b.Build())
}

// handleReply treats a reply to a bot message as a response to the reminder it
// quotes. Replies to anything else are ignored.
func (r *Router) handleReply(ctx context.Context, req *Request, messageID, text string) error {
	res, err := r.svc.Commitments.CollectReply(ctx, messageID, text)
	if err != nil {
		return err
	}
	if !res.Success {
		return nil
	}
	return r.sendText(ctx, req, ackText(res))
}

func (r *Router) handleCallback(ctx context.Context, req *Request, cb *kit.Callback) error {
	action, id, ok := telegram.ParseCallbackData(cb.Data)
	if !ok {
		return r.adapter.AnswerCallback(ctx, cb.ID, "")
	}

	c, err := r.svc.Commitments.Get(ctx, id)
	if err != nil {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, commitment.MsgNotFound)
		if commitment.KindOf(err) == commitment.KindNotFound {
			return nil
		}
		return err
	}
	if c.PlatformUserID != "" && c.PlatformUserID != req.UserID() && !isOwner(req.FromID, r.ownersSnapshot()) {
		return r.adapter.AnswerCallback(ctx, cb.ID, "this commitment is not yours")
	}

	res, err := r.svc.Commitments.CollectReply(ctx, kit.MessageID(cb.ChatID, cb.MessageID), action)
	if err != nil {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "failed, try again")
		return err
	}
	if !res.Success {
		return r.adapter.AnswerCallback(ctx, cb.ID, res.Message)
	}
	return r.adapter.AnswerCallback(ctx, cb.ID, ackText(res))
}

func ackText(res commitment.CollectResult) string {
	s := fmt.Sprintf("Noted: %s → %s", res.ParsedResponse, res.Status)
	if res.Details != "" {
		s += " (" + res.Details + ")"
	}
	return s
}
