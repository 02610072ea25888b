package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"plazos/internal/domain"
)

const (
	EventCreated     = "event.created"
	EventUpdated     = "event.updated"
	EventSkipped     = "event.skipped"
	EventMuted       = "event.muted"
	EventCanceled    = "event.canceled"
	EventDone        = "event.done"
	EventRescheduled = "event.rescheduled"
	AlertSent        = "alert.sent"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one audit row inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, ownerID, entityKind, entityID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,owner_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, ownerID, entityKind, nullable(entityID), string(data))
	return err
}

// AppendDB writes one audit row outside a transaction.
func (w Writer) AppendDB(ctx context.Context, evtType, ownerID, entityKind, entityID string, payload EventPayload) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evtType, ownerID, entityKind, entityID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// List returns audit rows for owner, newest first.
func (w Writer) List(ctx context.Context, ownerID, entityID string, limit int) ([]domain.AuditEvent, error) {
	query := `SELECT id,ts,type,owner_id,entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE owner_id=?`
	args := []any{ownerID}
	if entityID != "" {
		query += ` AND entity_id=?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OwnerID, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
