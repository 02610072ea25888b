package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"plazos/internal/domain"
)

// Message is one outbound notification.
type Message struct {
	RecordID    string `json:"record_id"`
	OwnerID     string `json:"owner_id"`
	Destination string `json:"destination"`
	Mode        string `json:"mode"`
	EndUnix     int64  `json:"end_unix"`
	Threshold   int    `json:"threshold_hours"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// HashStore persists the last delivered hash per record. repo.Repo satisfies it.
type HashStore interface {
	LastSendHash(ctx context.Context, id string) (string, error)
	SetSendHash(ctx context.Context, id, hash string) error
}

// Hash identifies a delivery. The same record, destination, mode, due instant
// and body always hash to the same value.
func Hash(recordID, destination, mode string, endUnix int64, body string) string {
	parts := []string{recordID, destination, mode, strconv.FormatInt(endUnix, 10), body}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Guard drops a message identical to the last one delivered for its record.
type Guard struct {
	Store     HashStore
	Transport Transport
	Logger    *zap.Logger
}

// Deliver reports whether the message was sent. A duplicate returns false and
// no error. The hash is stored only after the transport succeeds.
func (g Guard) Deliver(ctx context.Context, msg Message) (bool, error) {
	logger := g.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hash := Hash(msg.RecordID, msg.Destination, msg.Mode, msg.EndUnix, msg.Body)
	last, err := g.Store.LastSendHash(ctx, msg.RecordID)
	if err != nil {
		return false, fmt.Errorf("load send hash: %w", err)
	}
	if last == hash {
		logger.Debug("duplicate notification suppressed", zap.String("record_id", msg.RecordID))
		return false, nil
	}
	if err := g.Transport.Send(ctx, msg); err != nil {
		return false, err
	}
	if err := g.Store.SetSendHash(ctx, msg.RecordID, hash); err != nil {
		// the message is already out
		logger.Warn("send hash not stored", zap.String("record_id", msg.RecordID), zap.Error(err))
	}
	return true, nil
}

// AlertNotifier turns fired thresholds into guarded messages.
type AlertNotifier struct {
	Guard Guard
	Mode  string
}

func (n AlertNotifier) Notify(ctx context.Context, ev domain.Event, hours int) error {
	_, err := n.Guard.Deliver(ctx, BuildAlert(ev, hours, n.Mode))
	return err
}

// BuildAlert renders the alert for threshold hours. The destination falls
// back to the owner when the record has no notify target.
func BuildAlert(ev domain.Event, hours int, mode string) Message {
	dest := ev.NotifyTo
	if dest == "" {
		dest = ev.OwnerID
	}
	subject := "Recordatorio: " + ev.Title
	body := fmt.Sprintf("%s vence el %s. Quedan %s.", ev.Title, ev.DueLocalDay, hoursLabel(hours))
	if ev.CaseRef != nil && *ev.CaseRef != "" {
		body = fmt.Sprintf("[%s] %s", *ev.CaseRef, body)
	}
	return Message{
		RecordID:    ev.ID,
		OwnerID:     ev.OwnerID,
		Destination: dest,
		Mode:        mode,
		EndUnix:     ev.EndUnix,
		Threshold:   hours,
		Subject:     subject,
		Body:        body,
	}
}

func hoursLabel(h int) string {
	switch {
	case h == 1:
		return "1 hora"
	case h%24 == 0 && h >= 24:
		if h == 24 {
			return "1 dia"
		}
		return fmt.Sprintf("%d dias", h/24)
	default:
		return fmt.Sprintf("%d horas", h)
	}
}
