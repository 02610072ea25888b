package domain

import "sort"

const (
	SourcePlazo  = "plazo"
	SourceAgenda = "agenda"
)

const (
	StatusActive   = "active"
	StatusDone     = "done"
	StatusCanceled = "canceled"
)

// Event is a persisted agenda record. Deadline records use source "plazo";
// manual entries use "agenda".
type Event struct {
	ID               string   `json:"id"`
	OwnerID          string   `json:"owner_id"`
	Source           string   `json:"source" enum:"plazo,agenda"`
	Fingerprint      string   `json:"fingerprint"`
	CaseRef          *string  `json:"case_ref,omitempty"`
	Title            string   `json:"title"`
	Notes            string   `json:"notes,omitempty"`
	Priority         string   `json:"priority,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	EndISO           string   `json:"end_iso" format:"date-time"`
	EndUnix          int64    `json:"end_unix"`
	DueLocalDay      string   `json:"due_local_day"`
	TZ               string   `json:"tz"`
	RulesetID        string   `json:"ruleset_id,omitempty"`
	MinutesBefore    []int    `json:"minutes_before"`
	Alerts           []int    `json:"alerts"`
	Alerted          []int    `json:"alerted"`
	Status           string   `json:"status" enum:"active,done,canceled"`
	Muted            bool     `json:"muted"`
	NotifyTo         string   `json:"notify_to,omitempty"`
	LastSendHash     string   `json:"-"`
	ImminentNotified bool     `json:"imminent_notified"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

// Pending lists thresholds that have not fired yet, largest first.
func (e Event) Pending() []int {
	fired := make(map[int]struct{}, len(e.Alerted))
	for _, h := range e.Alerted {
		fired[h] = struct{}{}
	}
	var out []int
	for _, h := range e.Alerts {
		if _, ok := fired[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}

// AuditEvent is one row of the append-only audit log.
type AuditEvent struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OwnerID    string `json:"owner_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// AlertHours converts minute thresholds into hour thresholds, rounding up,
// deduplicated and sorted descending.
func AlertHours(minutes []int) []int {
	seen := make(map[int]struct{}, len(minutes))
	out := make([]int, 0, len(minutes))
	for _, m := range minutes {
		if m < 0 {
			continue
		}
		h := (m + 59) / 60
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}
