package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "commitbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store on database/sql. Queries are written with "?"
// placeholders and rebound for PostgreSQL.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

// NewSQL wraps an already opened database. driver selects the placeholder style
// ("sqlite" or "postgres"). It does not run migrations; see Migrate.
func NewSQL(db *sql.DB, driver string, log logx.Logger) Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := dialectSQLite
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		d = dialectPostgres
	}
	return &sqlStore{db: db, dialect: d, log: log}
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, migrationsSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites "?" placeholders to "$1..$n" for PostgreSQL.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

// execOne runs an UPDATE that must touch exactly one row.
func (s *sqlStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const commitmentColumns = `id, user_id, platform_user_id, commitment_text, deadline, context, channel, created_at, status`

func (s *sqlStore) CreateCommitment(ctx context.Context, c Commitment) error {
	_, err := s.exec(ctx,
		`INSERT INTO commitments(`+commitmentColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		c.ID, c.UserID, nullStr(c.PlatformUserID), c.Text, toMS(c.Deadline), nullStr(c.Context),
		c.Channel, toMS(c.CreatedAt), string(c.Status),
	)
	if err != nil {
		return fmt.Errorf("create commitment %s: %w", c.ID, err)
	}
	return nil
}

func (s *sqlStore) GetCommitment(ctx context.Context, id string) (Commitment, error) {
	if s == nil || s.db == nil {
		return Commitment{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+commitmentColumns+` FROM commitments WHERE id = ?`), id)
	c, err := scanCommitment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Commitment{}, ErrNotFound
	}
	if err != nil {
		return Commitment{}, fmt.Errorf("get commitment %s: %w", id, err)
	}
	return c, nil
}

func (s *sqlStore) ListCommitments(ctx context.Context) ([]Commitment, error) {
	return s.queryCommitments(ctx, `SELECT `+commitmentColumns+` FROM commitments ORDER BY created_at, id`)
}

func (s *sqlStore) ListCommitmentsByUser(ctx context.Context, userID string) ([]Commitment, error) {
	return s.queryCommitments(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE user_id = ? ORDER BY created_at, id`, userID)
}

func (s *sqlStore) queryCommitments(ctx context.Context, query string, args ...any) ([]Commitment, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()
	var out []Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("list commitments: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateCommitmentStatus(ctx context.Context, id string, status Status) error {
	err := s.execOne(ctx, `UPDATE commitments SET status = ? WHERE id = ?`, string(status), id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("update commitment %s status: %w", id, err)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommitment(r rowScanner) (Commitment, error) {
	var (
		c                   Commitment
		platformID, ctxText sql.NullString
		deadline, created   int64
		status              string
	)
	if err := r.Scan(&c.ID, &c.UserID, &platformID, &c.Text, &deadline, &ctxText, &c.Channel, &created, &status); err != nil {
		return Commitment{}, err
	}
	c.PlatformUserID = platformID.String
	c.Context = ctxText.String
	c.Deadline = fromMS(deadline)
	c.CreatedAt = fromMS(created)
	c.Status = Status(status)
	return c, nil
}

const reminderColumns = `id, commitment_id, sent_at, message_id, response_type, response_text, response_at`

func (s *sqlStore) AddReminder(ctx context.Context, r Reminder) error {
	var respAt any
	if r.ResponseAt != nil {
		respAt = toMS(*r.ResponseAt)
	}
	_, err := s.exec(ctx,
		`INSERT INTO reminders(`+reminderColumns+`) VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.CommitmentID, toMS(r.SentAt), r.MessageID, nullStr(string(r.ResponseType)), nullStr(r.ResponseText), respAt,
	)
	if err != nil {
		return fmt.Errorf("add reminder for %s: %w", r.CommitmentID, err)
	}
	return nil
}

func (s *sqlStore) UpdateReminderResponse(ctx context.Context, reminderID string, resp Response) error {
	err := s.execOne(ctx,
		`UPDATE reminders SET response_type = ?, response_text = ?, response_at = ? WHERE id = ?`,
		string(resp.Type), nullStr(resp.Text), toMS(resp.At), reminderID,
	)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("update reminder %s response: %w", reminderID, err)
	}
	return err
}

func (s *sqlStore) FindReminderByMessageID(ctx context.Context, messageID string) (Reminder, error) {
	if s == nil || s.db == nil {
		return Reminder{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+reminderColumns+` FROM reminders WHERE message_id = ? ORDER BY sent_at DESC LIMIT 1`),
		messageID,
	)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, ErrNotFound
	}
	if err != nil {
		return Reminder{}, fmt.Errorf("find reminder by message %s: %w", messageID, err)
	}
	return r, nil
}

func (s *sqlStore) ListReminders(ctx context.Context, commitmentID string) ([]Reminder, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+reminderColumns+` FROM reminders WHERE commitment_id = ? ORDER BY sent_at, id`),
		commitmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminders for %s: %w", commitmentID, err)
	}
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("list reminders for %s: %w", commitmentID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReminder(r rowScanner) (Reminder, error) {
	var (
		rem            Reminder
		sent           int64
		respType, text sql.NullString
		respAt         sql.NullInt64
	)
	if err := r.Scan(&rem.ID, &rem.CommitmentID, &sent, &rem.MessageID, &respType, &text, &respAt); err != nil {
		return Reminder{}, err
	}
	rem.SentAt = fromMS(sent)
	rem.ResponseType = ResponseType(respType.String)
	rem.ResponseText = text.String
	if respAt.Valid {
		t := fromMS(respAt.Int64)
		rem.ResponseAt = &t
	}
	return rem, nil
}

func (s *sqlStore) AddEscalation(ctx context.Context, e Escalation) error {
	_, err := s.exec(ctx,
		`INSERT INTO escalations(id, commitment_id, escalated_at, reason, message_id) VALUES(?,?,?,?,?)`,
		e.ID, e.CommitmentID, toMS(e.EscalatedAt), e.Reason, e.MessageID,
	)
	if err != nil {
		return fmt.Errorf("add escalation for %s: %w", e.CommitmentID, err)
	}
	return nil
}

func (s *sqlStore) CountEscalations(ctx context.Context, commitmentID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM escalations WHERE commitment_id = ?`), commitmentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count escalations for %s: %w", commitmentID, err)
	}
	return n, nil
}

func (s *sqlStore) FindJobSchedule(ctx context.Context, name string) (JobSchedule, error) {
	if s == nil || s.db == nil {
		return JobSchedule{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT job_name, interval_hours, last_run_at FROM job_schedules WHERE job_name = ?`), name)
	j, err := scanJobSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobSchedule{}, ErrNotFound
	}
	if err != nil {
		return JobSchedule{}, fmt.Errorf("find job schedule %s: %w", name, err)
	}
	return j, nil
}

func (s *sqlStore) UpsertJobSchedule(ctx context.Context, name string, interval time.Duration, initialLastRun time.Time) error {
	_, err := s.exec(ctx,
		`INSERT INTO job_schedules(job_name, interval_hours, last_run_at) VALUES(?,?,?)
		 ON CONFLICT(job_name) DO UPDATE SET interval_hours = excluded.interval_hours`,
		name, interval.Hours(), toMS(initialLastRun),
	)
	if err != nil {
		return fmt.Errorf("upsert job schedule %s: %w", name, err)
	}
	return nil
}

func (s *sqlStore) UpdateJobLastRun(ctx context.Context, name string, at time.Time) error {
	err := s.execOne(ctx, `UPDATE job_schedules SET last_run_at = ? WHERE job_name = ?`, toMS(at), name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("update job %s last run: %w", name, err)
	}
	return err
}

func (s *sqlStore) ClaimJobRun(ctx context.Context, name string, expected, next time.Time) (bool, error) {
	err := s.execOne(ctx,
		`UPDATE job_schedules SET last_run_at = ? WHERE job_name = ? AND last_run_at = ?`,
		toMS(next), name, toMS(expected),
	)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", name, err)
	}
	return true, nil
}

func (s *sqlStore) ListJobSchedules(ctx context.Context) ([]JobSchedule, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT job_name, interval_hours, last_run_at FROM job_schedules ORDER BY job_name`)
	if err != nil {
		return nil, fmt.Errorf("list job schedules: %w", err)
	}
	defer rows.Close()
	var out []JobSchedule
	for rows.Next() {
		j, err := scanJobSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("list job schedules: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJobSchedule(r rowScanner) (JobSchedule, error) {
	var (
		j     JobSchedule
		hours float64
		last  int64
	)
	if err := r.Scan(&j.JobName, &hours, &last); err != nil {
		return JobSchedule{}, err
	}
	j.Interval = time.Duration(hours * float64(time.Hour))
	j.LastRunAt = fromMS(last)
	return j, nil
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO audit(at, actor, source, action, target, ok, err, took_ms) VALUES(?,?,?,?,?,?,?,?)`,
		toMS(e.At), nullStr(e.Actor), e.Source, e.Action, nullStr(e.Target), e.OK, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqlStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT at, actor, source, action, target, ok, err, took_ms FROM audit ORDER BY at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                  AuditEntry
			at                 int64
			actor, target, msg sql.NullString
		)
		if err := rows.Scan(&at, &actor, &e.Source, &e.Action, &target, &e.OK, &msg, &e.TookMS); err != nil {
			return nil, err
		}
		e.At = fromMS(at)
		e.Actor, e.Target, e.Error = actor.String, target.String, msg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func toMS(t time.Time) int64 { return t.UnixMilli() }

func fromMS(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
