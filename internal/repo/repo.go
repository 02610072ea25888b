package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"plazos/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) conn(tx *sql.Tx) dbtx {
	if tx != nil {
		return tx
	}
	return r.DB
}

const eventColumns = `id,owner_id,source,fingerprint,case_ref,title,notes,priority,tags_json,end_iso,end_unix,due_local_day,tz,ruleset_id,minutes_before_json,alerts_json,status,muted,notify_to,last_send_hash,imminent_notified,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (domain.Event, error) {
	var (
		e                             domain.Event
		caseRef                       sql.NullString
		tagsJSON, minutesJSON, alerts string
		muted, imminent               int
	)
	err := row.Scan(&e.ID, &e.OwnerID, &e.Source, &e.Fingerprint, &caseRef, &e.Title, &e.Notes, &e.Priority, &tagsJSON,
		&e.EndISO, &e.EndUnix, &e.DueLocalDay, &e.TZ, &e.RulesetID, &minutesJSON, &alerts, &e.Status, &muted,
		&e.NotifyTo, &e.LastSendHash, &imminent, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if caseRef.Valid {
		e.CaseRef = &caseRef.String
	}
	e.Muted = muted != 0
	e.ImminentNotified = imminent != 0
	if err := decodeJSON(tagsJSON, &e.Tags); err != nil {
		return e, fmt.Errorf("event %s tags: %w", e.ID, err)
	}
	if err := decodeJSON(minutesJSON, &e.MinutesBefore); err != nil {
		return e, fmt.Errorf("event %s minutes_before: %w", e.ID, err)
	}
	if err := decodeJSON(alerts, &e.Alerts); err != nil {
		return e, fmt.Errorf("event %s alerts: %w", e.ID, err)
	}
	return e, nil
}

func decodeJSON(raw string, out any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func encodeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return "[]"
	}
	return string(data)
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

// UpsertOutcome reports what UpsertDeadline did. Reason is set when Skipped.
type UpsertOutcome struct {
	ID      string
	Created bool
	Skipped bool
	Reason  string
}

// UpsertDeadline inserts e or refreshes the record with the same identity
// in one statement. Muted or canceled records are left untouched.
func (r Repo) UpsertDeadline(ctx context.Context, tx *sql.Tx, e domain.Event) (UpsertOutcome, error) {
	q := r.conn(tx)
	var id string
	err := q.QueryRowContext(ctx, `INSERT INTO agenda_events(`+eventColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,'active',0,?,'',0,?,?)
ON CONFLICT(owner_id,source,fingerprint) DO UPDATE SET
  title=excluded.title,
  notes=excluded.notes,
  priority=excluded.priority,
  tags_json=excluded.tags_json,
  end_iso=excluded.end_iso,
  end_unix=excluded.end_unix,
  due_local_day=excluded.due_local_day,
  tz=excluded.tz,
  ruleset_id=excluded.ruleset_id,
  minutes_before_json=excluded.minutes_before_json,
  alerts_json=excluded.alerts_json,
  notify_to=excluded.notify_to,
  status='active',
  muted=0,
  updated_at=excluded.updated_at
WHERE agenda_events.muted=0 AND agenda_events.status<>'canceled'
RETURNING id`,
		e.ID, e.OwnerID, e.Source, e.Fingerprint, nullableStringPtr(e.CaseRef), e.Title, e.Notes, e.Priority, encodeJSON(e.Tags),
		e.EndISO, e.EndUnix, e.DueLocalDay, e.TZ, e.RulesetID, encodeJSON(e.MinutesBefore), encodeJSON(e.Alerts),
		e.NotifyTo, e.CreatedAt, e.UpdatedAt).Scan(&id)
	if err == nil {
		return UpsertOutcome{ID: id, Created: id == e.ID}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return UpsertOutcome{}, fmt.Errorf("upsert deadline: %w", err)
	}

	var (
		muted  int
		status string
	)
	err = q.QueryRowContext(ctx, `SELECT id,muted,status FROM agenda_events WHERE owner_id=? AND source=? AND fingerprint=?`,
		e.OwnerID, e.Source, e.Fingerprint).Scan(&id, &muted, &status)
	if err != nil {
		return UpsertOutcome{}, fmt.Errorf("read skipped deadline: %w", err)
	}
	reason := status
	if muted != 0 {
		reason = "muted"
	}
	return UpsertOutcome{ID: id, Skipped: true, Reason: reason}, nil
}

// InsertEvent stores a manual agenda record.
func (r Repo) InsertEvent(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO agenda_events(`+eventColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.OwnerID, e.Source, e.Fingerprint, nullableStringPtr(e.CaseRef), e.Title, e.Notes, e.Priority, encodeJSON(e.Tags),
		e.EndISO, e.EndUnix, e.DueLocalDay, e.TZ, e.RulesetID, encodeJSON(e.MinutesBefore), encodeJSON(e.Alerts),
		e.Status, boolInt(e.Muted), e.NotifyTo, e.LastSendHash, boolInt(e.ImminentNotified), e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	return r.GetEventTx(ctx, nil, id)
}

func (r Repo) GetEventTx(ctx context.Context, tx *sql.Tx, id string) (domain.Event, error) {
	q := r.conn(tx)
	e, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM agenda_events WHERE id=?`, id))
	if err != nil {
		return e, err
	}
	e.Alerted, err = alerted(ctx, q, e.ID)
	return e, err
}

type EventFilters struct {
	OwnerID       string
	Status        string
	Source        string
	CaseRef       string
	FromUnix      int64
	ToUnix        int64
	Limit         int
	CursorEndUnix int64
	CursorID      string
}

// ListEvents returns records ordered by due instant, soonest first.
func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, f.Source)
	}
	if f.CaseRef != "" {
		clauses = append(clauses, "case_ref=?")
		args = append(args, f.CaseRef)
	}
	if f.FromUnix > 0 {
		clauses = append(clauses, "end_unix>=?")
		args = append(args, f.FromUnix)
	}
	if f.ToUnix > 0 {
		clauses = append(clauses, "end_unix<=?")
		args = append(args, f.ToUnix)
	}
	if f.CursorID != "" {
		clauses = append(clauses, "(end_unix > ? OR (end_unix = ? AND id > ?))")
		args = append(args, f.CursorEndUnix, f.CursorEndUnix, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + eventColumns + ` FROM agenda_events ` + where + ` ORDER BY end_unix ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	res, err := r.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Alerted, err = alerted(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ListAlertable returns active, unmuted records due within [from, until].
func (r Repo) ListAlertable(ctx context.Context, fromUnix, untilUnix int64) ([]domain.Event, error) {
	res, err := r.queryEvents(ctx, `SELECT `+eventColumns+` FROM agenda_events
WHERE status='active' AND muted=0 AND end_unix>=? AND end_unix<=? ORDER BY end_unix ASC, id ASC`, fromUnix, untilUnix)
	if err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Alerted, err = alerted(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// queryEvents drains the rows before returning so callers can issue further
// queries on a single-connection pool.
func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) UpdateStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE agenda_events SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetMuted(ctx context.Context, tx *sql.Tx, id string, muted bool, updatedAt string) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE agenda_events SET muted=?, updated_at=? WHERE id=?`, boolInt(muted), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Reschedule moves the due instant and clears the send hash, the imminent
// flag and every alert claim for the record.
func (r Repo) Reschedule(ctx context.Context, tx *sql.Tx, id, endISO string, endUnix int64, dueLocalDay, updatedAt string) error {
	q := r.conn(tx)
	res, err := q.ExecContext(ctx, `UPDATE agenda_events SET end_iso=?, end_unix=?, due_local_day=?, last_send_hash='', imminent_notified=0, updated_at=? WHERE id=?`,
		endISO, endUnix, dueLocalDay, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = q.ExecContext(ctx, `DELETE FROM event_alerts WHERE event_id=?`, id)
	return err
}

func (r Repo) LastSendHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := r.DB.QueryRowContext(ctx, `SELECT last_send_hash FROM agenda_events WHERE id=?`, id).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return hash, err
}

func (r Repo) SetSendHash(ctx context.Context, id, hash string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE agenda_events SET last_send_hash=? WHERE id=?`, hash, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetImminent(ctx context.Context, id string, notified bool) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE agenda_events SET imminent_notified=? WHERE id=?`, boolInt(notified), id)
	return err
}
