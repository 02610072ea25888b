package plazossdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal plazos HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// OwnerID is sent as X-Owner-Id when no token is set. Servers accept it
	// only when started with --allow-owner-header.
	OwnerID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// DeadlineInput is the computation request. Zero values use ruleset defaults.
type DeadlineInput struct {
	Start           string   `json:"start,omitempty"`
	Country         string   `json:"country,omitempty"`
	Domain          string   `json:"domain,omitempty"`
	Act             string   `json:"act,omitempty"`
	Quantity        *float64 `json:"quantity,omitempty"`
	Type            string   `json:"type,omitempty"`
	HolidayOverride []string `json:"holiday_override,omitempty"`
	CarryIfInhabil  *bool    `json:"carry_if_inhabil,omitempty"`
	TZ              string   `json:"tz,omitempty"`
}

// Agenda is the record metadata attached to a scheduled deadline.
type Agenda struct {
	CaseRef       string   `json:"case_ref,omitempty"`
	Title         string   `json:"title,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	MinutesBefore []int    `json:"minutes_before,omitempty"`
	NotifyTo      string   `json:"notify_to,omitempty"`
}

// Computation represents a computed deadline (partial).
type Computation struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	EndUnix     int64  `json:"end_unix"`
	DueLocalDay string `json:"due_local_day"`
	RulesetID   string `json:"ruleset_id"`
	TZ          string `json:"tz"`
	Type        string `json:"type"`
	Quantity    int    `json:"quantity"`
	Carry       bool   `json:"carry"`
	Workweek    string `json:"workweek"`
	Trail       struct {
		Candidates   []string `json:"candidates"`
		CarryApplied bool     `json:"carry_applied"`
		CarryDays    int      `json:"carry_days"`
	} `json:"trail"`
}

// Event represents an agenda record.
type Event struct {
	ID               string   `json:"id"`
	OwnerID          string   `json:"owner_id"`
	Source           string   `json:"source"`
	CaseRef          *string  `json:"case_ref,omitempty"`
	Title            string   `json:"title"`
	Notes            string   `json:"notes,omitempty"`
	Priority         string   `json:"priority,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	EndISO           string   `json:"end_iso"`
	EndUnix          int64    `json:"end_unix"`
	DueLocalDay      string   `json:"due_local_day"`
	TZ               string   `json:"tz"`
	RulesetID        string   `json:"ruleset_id,omitempty"`
	Alerts           []int    `json:"alerts"`
	Alerted          []int    `json:"alerted"`
	Status           string   `json:"status"`
	Muted            bool     `json:"muted"`
	NotifyTo         string   `json:"notify_to,omitempty"`
	ImminentNotified bool     `json:"imminent_notified"`
}

// ScheduleResult is returned by Schedule. Agenda is nil and AgendaError set
// when the deadline was computed but could not be recorded.
type ScheduleResult struct {
	Computation Computation `json:"computation"`
	Agenda      *struct {
		Created bool   `json:"created"`
		Skipped bool   `json:"skipped"`
		Reason  string `json:"reason"`
		Event   Event  `json:"event"`
	} `json:"agenda"`
	AgendaError string `json:"agenda_error"`
}

// HistoryEntry is one audit row.
type HistoryEntry struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	Payload string `json:"payload_json"`
}

// Resolution explains which ruleset applies.
type Resolution struct {
	RulesetID string         `json:"ruleset_id"`
	Trail     []string       `json:"trail"`
	MergedAct string         `json:"merged_act"`
	Workweek  string         `json:"workweek"`
	Config    map[string]any `json:"config"`
}

// SweepResult reports one scheduler pass.
type SweepResult struct {
	RunID   string `json:"run_id"`
	Checked int    `json:"checked"`
	Fired   int    `json:"fired"`
	Errors  int    `json:"errors"`
}

// ListOptions filter ListEvents.
type ListOptions struct {
	Status  string
	Source  string
	CaseRef string
	Limit   int
	Cursor  string
}

// EventPage wraps list responses with cursors.
type EventPage struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Compute returns a deadline without recording it.
func (c *Client) Compute(ctx context.Context, in DeadlineInput) (Computation, error) {
	var resp struct {
		Computation Computation `json:"computation"`
	}
	err := c.do(ctx, http.MethodPost, "deadlines/compute", in, &resp)
	return resp.Computation, err
}

// Schedule computes a deadline and records it on the agenda.
func (c *Client) Schedule(ctx context.Context, in DeadlineInput, agenda Agenda) (ScheduleResult, error) {
	body := struct {
		DeadlineInput
		Agenda Agenda `json:"agenda"`
	}{DeadlineInput: in, Agenda: agenda}
	var resp ScheduleResult
	err := c.do(ctx, http.MethodPost, "deadlines", body, &resp)
	return resp, err
}

// CreateEvent stores a manual agenda record. when is a date or RFC 3339 instant.
func (c *Client) CreateEvent(ctx context.Context, title, when string, agenda Agenda) (Event, error) {
	body := map[string]any{
		"title": title,
		"when":  when,
	}
	if agenda.CaseRef != "" {
		body["case_ref"] = agenda.CaseRef
	}
	if agenda.Notes != "" {
		body["notes"] = agenda.Notes
	}
	if agenda.Priority != "" {
		body["priority"] = agenda.Priority
	}
	if len(agenda.Tags) > 0 {
		body["tags"] = agenda.Tags
	}
	if len(agenda.MinutesBefore) > 0 {
		body["minutes_before"] = agenda.MinutesBefore
	}
	if agenda.NotifyTo != "" {
		body["notify_to"] = agenda.NotifyTo
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, "events", body, &resp)
	return resp, err
}

// ListEvents returns one page of agenda records.
func (c *Client) ListEvents(ctx context.Context, opts ListOptions) (EventPage, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Source != "" {
		q.Set("source", opts.Source)
	}
	if opts.CaseRef != "" {
		q.Set("case_ref", opts.CaseRef)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprint(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp EventPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetEvent fetches a record by id.
func (c *Client) GetEvent(ctx context.Context, id string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodGet, eventPath(id, ""), nil, &resp)
	return resp, err
}

// History returns the audit trail of a record, newest first.
func (c *Client) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, eventPath(id, "history"), nil, &resp)
	return resp, err
}

func (c *Client) Mute(ctx context.Context, id string, muted bool) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, eventPath(id, "mute"), map[string]bool{"muted": muted}, &resp)
	return resp, err
}

func (c *Client) Cancel(ctx context.Context, id string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, eventPath(id, "cancel"), nil, &resp)
	return resp, err
}

func (c *Client) Done(ctx context.Context, id string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, eventPath(id, "done"), nil, &resp)
	return resp, err
}

// Reschedule moves the due instant and resets alert state.
func (c *Client) Reschedule(ctx context.Context, id, when string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, eventPath(id, "reschedule"), map[string]string{"when": when}, &resp)
	return resp, err
}

// Resolve explains which ruleset applies to country, domain and act.
func (c *Client) Resolve(ctx context.Context, country, domain, act string) (Resolution, error) {
	q := url.Values{}
	q.Set("country", country)
	q.Set("domain", domain)
	q.Set("act", act)
	var resp Resolution
	err := c.do(ctx, http.MethodGet, "rulesets/resolve?"+q.Encode(), nil, &resp)
	return resp, err
}

// Sweep runs one scheduler pass on the server.
func (c *Client) Sweep(ctx context.Context) (SweepResult, error) {
	var resp SweepResult
	err := c.do(ctx, http.MethodPost, "scheduler/sweep", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.OwnerID != "":
		req.Header.Set("X-Owner-Id", c.OwnerID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func eventPath(id, action string) string {
	p := "events/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
