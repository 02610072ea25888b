package repo

import (
	"context"
	"errors"
	"sort"
)

// ErrClaimLost means another sweep took over a stale claim before confirm.
var ErrClaimLost = errors.New("alert claim lost")

// ClaimAlert reserves threshold hours of event for runID. It succeeds when
// no claim exists or the existing pending claim is older than staleBefore.
// Sent thresholds are never reclaimed.
func (r Repo) ClaimAlert(ctx context.Context, eventID string, hours int, runID string, nowUnix, staleBefore int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO event_alerts(event_id,threshold_hours,state,claimed_at,run_id) VALUES (?,?,'pending',?,?)
ON CONFLICT(event_id,threshold_hours) DO UPDATE SET claimed_at=excluded.claimed_at, run_id=excluded.run_id
WHERE event_alerts.state='pending' AND event_alerts.claimed_at<?`,
		eventID, hours, nowUnix, runID, staleBefore)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ConfirmAlert marks a claimed threshold as sent.
func (r Repo) ConfirmAlert(ctx context.Context, eventID string, hours int, runID string, nowUnix int64) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE event_alerts SET state='sent', sent_at=? WHERE event_id=? AND threshold_hours=? AND run_id=? AND state='pending'`,
		nowUnix, eventID, hours, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClaimLost
	}
	return nil
}

// ReleaseAlert drops a pending claim so the next sweep can retry.
func (r Repo) ReleaseAlert(ctx context.Context, eventID string, hours int, runID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM event_alerts WHERE event_id=? AND threshold_hours=? AND run_id=? AND state='pending'`,
		eventID, hours, runID)
	return err
}

func alerted(ctx context.Context, q dbtx, eventID string) ([]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT threshold_hours FROM event_alerts WHERE event_id=? AND state='sent'`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []int{}
	for rows.Next() {
		var h int
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out, rows.Err()
}
