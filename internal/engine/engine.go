package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plazos/internal/config"
	"plazos/internal/deadline"
	"plazos/internal/domain"
	"plazos/internal/engine/auth"
	"plazos/internal/events"
	"plazos/internal/holidays"
	"plazos/internal/repo"
	"plazos/internal/rules"
)

// ErrInvalidTransition is returned for status changes the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid event status transition")

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Auth       auth.Service
	Config     *config.Config
	Calculator *deadline.Calculator
	Logger     *zap.Logger
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config, calc *deadline.Calculator) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if calc == nil {
		calc = deadline.New(rules.NewResolver(rules.DefaultRegistry()), holidays.NewProvider(cfg.HolidaySource(), nil))
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Auth:       auth.Service{DB: db},
		Config:     cfg,
		Calculator: calc,
		Logger:     zap.NewNop(),
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// ComputeDeadline runs the calculator with the engine clock. It has no side
// effects.
func (e Engine) ComputeDeadline(in deadline.Input) (deadline.Computation, error) {
	calc := *e.Calculator
	calc.Now = e.now
	return calc.Compute(in)
}

// AgendaOptions is the caller-supplied metadata of a deadline record.
type AgendaOptions struct {
	OwnerID       string   `json:"owner_id"`
	CaseRef       string   `json:"case_ref,omitempty"`
	Title         string   `json:"title,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	MinutesBefore []int    `json:"minutes_before,omitempty"`
	NotifyTo      string   `json:"notify_to,omitempty"`
}

// DeadlinePayload couples a computation with its agenda metadata.
type DeadlinePayload struct {
	Domain      string
	Act         string
	Agenda      AgendaOptions
	Computation deadline.Computation
}

type UpsertResult struct {
	Created bool         `json:"created"`
	Skipped bool         `json:"skipped"`
	Reason  string       `json:"reason,omitempty"`
	Event   domain.Event `json:"event"`
}

// BuildDeadlineEvent fills template defaults and the fingerprint.
func (e Engine) BuildDeadlineEvent(p DeadlinePayload) domain.Event {
	comp := p.Computation
	tmpl := comp.Config.AgendaTemplate
	title := strings.TrimSpace(p.Agenda.Title)
	if title == "" {
		title = tmpl.Title
	}
	if title == "" {
		title = "Vencimiento de plazo"
	}
	priority := p.Agenda.Priority
	if priority == "" {
		priority = tmpl.Priority
	}
	notes := p.Agenda.Notes
	if notes == "" {
		notes = tmpl.Notes
	}
	minutes := p.Agenda.MinutesBefore
	if len(minutes) == 0 {
		minutes = tmpl.MinutesBefore
	}
	minutes = rules.NormalizeMinutes(minutes)
	tags := rules.NormalizeTags(append(append([]string(nil), tmpl.Tags...), p.Agenda.Tags...))

	endISO := comp.End.UTC().Format(time.RFC3339)
	var caseRef *string
	if ref := strings.TrimSpace(p.Agenda.CaseRef); ref != "" {
		caseRef = &ref
	}
	now := e.now().UTC().Format(time.RFC3339)
	return domain.Event{
		ID:      uuid.NewString(),
		OwnerID: p.Agenda.OwnerID,
		Source:  domain.SourcePlazo,
		Fingerprint: Fingerprint(FingerprintFields{
			OwnerID:    p.Agenda.OwnerID,
			Source:     domain.SourcePlazo,
			CaseRef:    p.Agenda.CaseRef,
			Domain:     p.Domain,
			Act:        p.Act,
			RulesetID:  comp.RulesetID,
			Type:       string(comp.Type),
			Quantity:   comp.Quantity,
			EndISO:     endISO,
			DisplayDay: comp.DueLocalDay,
			Title:      title,
		}),
		CaseRef:       caseRef,
		Title:         title,
		Notes:         notes,
		Priority:      priority,
		Tags:          tags,
		EndISO:        endISO,
		EndUnix:       comp.EndUnix,
		DueLocalDay:   comp.DueLocalDay,
		TZ:            comp.TZ,
		RulesetID:     comp.RulesetID,
		MinutesBefore: minutes,
		Alerts:        domain.AlertHours(minutes),
		Status:        domain.StatusActive,
		NotifyTo:      strings.TrimSpace(p.Agenda.NotifyTo),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// UpsertDeadline persists a computed deadline idempotently. A muted or
// canceled record with the same fingerprint is reported as skipped and left
// untouched.
func (e Engine) UpsertDeadline(ctx context.Context, p DeadlinePayload) (UpsertResult, error) {
	if strings.TrimSpace(p.Agenda.OwnerID) == "" {
		return UpsertResult{}, auth.ErrOwnerRequired
	}
	ev := e.BuildDeadlineEvent(p)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, err
	}
	defer tx.Rollback()

	out, err := e.Repo.UpsertDeadline(ctx, tx, ev)
	if err != nil {
		return UpsertResult{}, err
	}
	evtType := events.EventUpdated
	switch {
	case out.Skipped:
		evtType = events.EventSkipped
	case out.Created:
		evtType = events.EventCreated
	}
	if err := e.Events.Append(ctx, tx, evtType, ev.OwnerID, "agenda_event", out.ID, events.EventPayload{
		"fingerprint": ev.Fingerprint,
		"ruleset_id":  ev.RulesetID,
		"end_iso":     ev.EndISO,
		"reason":      out.Reason,
	}); err != nil {
		return UpsertResult{}, err
	}
	stored, err := e.Repo.GetEventTx(ctx, tx, out.ID)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("reload event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Created: out.Created, Skipped: out.Skipped, Reason: out.Reason, Event: stored}, nil
}

type ComputeRequest struct {
	Input  deadline.Input
	Agenda *AgendaOptions
}

type ComputeResponse struct {
	Computation deadline.Computation `json:"computation"`
	Agenda      *UpsertResult        `json:"agenda,omitempty"`
	AgendaError string               `json:"agenda_error,omitempty"`
}

// ComputeAndSchedule computes a deadline and, when requested, records it.
// Persistence failures are reported in AgendaError and never fail the call.
func (e Engine) ComputeAndSchedule(ctx context.Context, req ComputeRequest) (ComputeResponse, error) {
	comp, err := e.ComputeDeadline(req.Input)
	if err != nil {
		return ComputeResponse{}, err
	}
	resp := ComputeResponse{Computation: comp}
	if req.Agenda == nil {
		return resp, nil
	}
	res, err := e.UpsertDeadline(ctx, DeadlinePayload{
		Domain:      req.Input.Domain,
		Act:         req.Input.Act,
		Agenda:      *req.Agenda,
		Computation: comp,
	})
	if err != nil {
		e.logger().Warn("deadline computed but not recorded",
			zap.String("owner_id", req.Agenda.OwnerID),
			zap.String("ruleset_id", comp.RulesetID),
			zap.Error(err))
		resp.AgendaError = err.Error()
		return resp, nil
	}
	resp.Agenda = &res
	return resp, nil
}

// EventCreateOptions describe a manual agenda entry.
type EventCreateOptions struct {
	OwnerID       string
	Title         string
	Notes         string
	Priority      string
	Tags          []string
	CaseRef       string
	When          string
	TZ            string
	MinutesBefore []int
	NotifyTo      string
}

// CreateEvent stores a manual agenda record. When accepts a date or an
// RFC 3339 instant.
func (e Engine) CreateEvent(ctx context.Context, opts EventCreateOptions) (domain.Event, error) {
	if strings.TrimSpace(opts.OwnerID) == "" {
		return domain.Event{}, auth.ErrOwnerRequired
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Event{}, &deadline.InputError{Field: "title", Reason: "required"}
	}
	when, err := parseWhen(opts.When)
	if err != nil {
		return domain.Event{}, err
	}
	tz := opts.TZ
	if tz == "" && e.Config != nil {
		tz = e.Config.Timezone
	}
	if tz == "" {
		tz = "UTC"
	}
	minutes := rules.NormalizeMinutes(opts.MinutesBefore)
	var caseRef *string
	if ref := strings.TrimSpace(opts.CaseRef); ref != "" {
		caseRef = &ref
	}
	id := uuid.NewString()
	now := e.now().UTC().Format(time.RFC3339)
	ev := domain.Event{
		ID:            id,
		OwnerID:       opts.OwnerID,
		Source:        domain.SourceAgenda,
		Fingerprint:   id,
		CaseRef:       caseRef,
		Title:         title,
		Notes:         opts.Notes,
		Priority:      opts.Priority,
		Tags:          rules.NormalizeTags(opts.Tags),
		EndISO:        when.Format(time.RFC3339),
		EndUnix:       when.Unix(),
		DueLocalDay:   when.Format(holidays.DateLayout),
		TZ:            tz,
		MinutesBefore: minutes,
		Alerts:        domain.AlertHours(minutes),
		Alerted:       []int{},
		Status:        domain.StatusActive,
		NotifyTo:      strings.TrimSpace(opts.NotifyTo),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEvent(ctx, tx, ev); err != nil {
		return domain.Event{}, fmt.Errorf("insert event: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.EventCreated, ev.OwnerID, "agenda_event", ev.ID, events.EventPayload{"title": ev.Title, "end_iso": ev.EndISO}); err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

func parseWhen(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &deadline.InputError{Field: "when", Reason: "required"}
	}
	if t, err := time.Parse(holidays.DateLayout, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, &deadline.InputError{Field: "when", Reason: "expected YYYY-MM-DD or RFC 3339"}
}

func (e Engine) GetEvent(ctx context.Context, ownerID, id string) (domain.Event, error) {
	ev, err := e.Repo.GetEvent(ctx, id)
	if err != nil {
		return ev, err
	}
	if err := auth.RequireOwner(ownerID, ev.OwnerID, id); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

// ListEvents is always scoped to ownerID.
func (e Engine) ListEvents(ctx context.Context, ownerID string, f repo.EventFilters) ([]domain.Event, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, auth.ErrOwnerRequired
	}
	if f.Status != "" && !validStatus(f.Status) {
		return nil, &deadline.InputError{Field: "status", Reason: "must be active, done or canceled"}
	}
	f.OwnerID = ownerID
	return e.Repo.ListEvents(ctx, f)
}

// History returns the audit trail of one record.
func (e Engine) History(ctx context.Context, ownerID, id string) ([]domain.AuditEvent, error) {
	if _, err := e.GetEvent(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return e.Events.List(ctx, ownerID, id, 0)
}

func validStatus(s string) bool {
	return s == domain.StatusActive || s == domain.StatusDone || s == domain.StatusCanceled
}

func ensureEventTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.StatusActive:
		if newStatus == domain.StatusDone || newStatus == domain.StatusCanceled {
			return nil
		}
	case domain.StatusDone:
		if newStatus == domain.StatusActive || newStatus == domain.StatusCanceled {
			return nil
		}
	}
	return fmt.Errorf("%w %s -> %s", ErrInvalidTransition, oldStatus, newStatus)
}

// MuteEvent sets the never-revive flag. Muted records are skipped by the
// scheduler and by repeated deadline upserts.
func (e Engine) MuteEvent(ctx context.Context, ownerID, id string, muted bool) (domain.Event, error) {
	return e.mutate(ctx, ownerID, id, func(tx *sql.Tx, ev domain.Event, now string) (string, events.EventPayload, error) {
		if err := e.Repo.SetMuted(ctx, tx, id, muted, now); err != nil {
			return "", nil, err
		}
		return events.EventMuted, events.EventPayload{"muted": muted}, nil
	})
}

func (e Engine) CancelEvent(ctx context.Context, ownerID, id string) (domain.Event, error) {
	return e.setStatus(ctx, ownerID, id, domain.StatusCanceled, events.EventCanceled)
}

func (e Engine) CompleteEvent(ctx context.Context, ownerID, id string) (domain.Event, error) {
	return e.setStatus(ctx, ownerID, id, domain.StatusDone, events.EventDone)
}

func (e Engine) setStatus(ctx context.Context, ownerID, id, status, evtType string) (domain.Event, error) {
	return e.mutate(ctx, ownerID, id, func(tx *sql.Tx, ev domain.Event, now string) (string, events.EventPayload, error) {
		if err := ensureEventTransition(ev.Status, status); err != nil {
			return "", nil, err
		}
		if err := e.Repo.UpdateStatus(ctx, tx, id, status, now); err != nil {
			return "", nil, err
		}
		return evtType, events.EventPayload{"from": ev.Status, "to": status}, nil
	})
}

// RescheduleEvent moves the due instant. The send hash, the imminent flag
// and the fired thresholds are reset in the same transaction.
func (e Engine) RescheduleEvent(ctx context.Context, ownerID, id, when string) (domain.Event, error) {
	at, err := parseWhen(when)
	if err != nil {
		return domain.Event{}, err
	}
	return e.mutate(ctx, ownerID, id, func(tx *sql.Tx, ev domain.Event, now string) (string, events.EventPayload, error) {
		if ev.Status == domain.StatusCanceled {
			return "", nil, fmt.Errorf("%w: event %s is canceled", ErrInvalidTransition, id)
		}
		endISO := at.Format(time.RFC3339)
		if err := e.Repo.Reschedule(ctx, tx, id, endISO, at.Unix(), at.Format(holidays.DateLayout), now); err != nil {
			return "", nil, err
		}
		return events.EventRescheduled, events.EventPayload{"from": ev.EndISO, "to": endISO}, nil
	})
}

type mutation func(tx *sql.Tx, ev domain.Event, now string) (string, events.EventPayload, error)

func (e Engine) mutate(ctx context.Context, ownerID, id string, fn mutation) (domain.Event, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureOwner(ctx, tx, ownerID, id); err != nil {
		return domain.Event{}, err
	}
	ev, err := e.Repo.GetEventTx(ctx, tx, id)
	if err != nil {
		return domain.Event{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	evtType, payload, err := fn(tx, ev, now)
	if err != nil {
		return domain.Event{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, ownerID, "agenda_event", id, payload); err != nil {
		return domain.Event{}, err
	}
	updated, err := e.Repo.GetEventTx(ctx, tx, id)
	if err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return updated, nil
}
