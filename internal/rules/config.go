// Package rules resolves a (country, domain, act) triple into a concrete
// deadline configuration through a static, immutable registry.
package rules

import (
	"sort"
	"strings"

	"plazos/internal/holidays"
)

// CountType selects business-day or calendar-day counting.
type CountType string

const (
	CountBusiness CountType = "business"
	CountCalendar CountType = "calendar"
)

func (c CountType) Valid() bool {
	return c == CountBusiness || c == CountCalendar
}

// StartRule decides whether counting begins on the start date or the next day.
type StartRule string

const (
	StartSameDay StartRule = "same_day"
	StartNextDay StartRule = "next_day"
)

func (s StartRule) Valid() bool {
	return s == StartSameDay || s == StartNextDay
}

// HolidayScope names which holiday calendar applies.
type HolidayScope struct {
	Mode    holidays.Mode `json:"mode" yaml:"mode"`
	Country string        `json:"country,omitempty" yaml:"country,omitempty"`
}

// AgendaTemplate seeds the agenda record created for a computed deadline.
type AgendaTemplate struct {
	Title         string   `json:"title" yaml:"title"`
	Priority      string   `json:"priority,omitempty" yaml:"priority"`
	Tags          []string `json:"tags,omitempty" yaml:"tags"`
	Notes         string   `json:"notes,omitempty" yaml:"notes"`
	MinutesBefore []int    `json:"minutes_before" yaml:"minutesBefore"`
}

// Config is a fully resolved ruleset. Each resolution returns a fresh value.
type Config struct {
	RulesetID      string            `json:"ruleset_id"`
	TZDefault      string            `json:"tz_default"`
	TypeDefault    CountType         `json:"type_default"`
	Quantity       *int              `json:"quantity,omitempty"`
	StartRule      StartRule         `json:"start_rule"`
	CarryIfInhabil bool              `json:"carry_if_inhabil"`
	Workweek       holidays.Workweek `json:"-"`
	Holidays       HolidayScope      `json:"holidays"`
	ExtraHolidays  []string          `json:"extra_holidays,omitempty"`
	AgendaTemplate AgendaTemplate    `json:"agenda_template"`
}

// WorkweekName is the display form of the workweek.
func (c Config) WorkweekName() string {
	return c.Workweek.String()
}

// Entry is one registry record as written in YAML. Unset fields fall back to
// the built-in default when the entry is finalized.
type Entry struct {
	TZ            string             `yaml:"tz,omitempty"`
	Type          CountType          `yaml:"type,omitempty"`
	Quantity      *int               `yaml:"quantity,omitempty"`
	StartRule     StartRule          `yaml:"startRule,omitempty"`
	Carry         *bool              `yaml:"carryIfInhabil,omitempty"`
	Workweek      *holidays.Workweek `yaml:"workweek,omitempty"`
	Holidays      map[string]string  `yaml:"holidays,omitempty"`
	ExtraHolidays []string           `yaml:"extraHolidays,omitempty"`
	Agenda        *AgendaTemplate    `yaml:"agenda,omitempty"`
	Actos         map[string]Entry   `yaml:"actos,omitempty"`
}

func builtinEntry() Entry {
	carry := true
	ww := holidays.MonFri()
	return Entry{
		TZ:        "UTC",
		Type:      CountBusiness,
		StartRule: StartNextDay,
		Carry:     &carry,
		Workweek:  &ww,
		Holidays:  map[string]string{"mode": string(holidays.ModeCountry)},
		Agenda: &AgendaTemplate{
			Title:         "Vencimiento de plazo",
			Priority:      "media",
			MinutesBefore: []int{1440},
		},
	}
}

// mergeEntry overlays over onto base. Scalars from over win; holidays merge
// shallowly; extra holidays concatenate; agenda lists union.
func mergeEntry(base, over Entry) Entry {
	out := cloneEntry(base)
	out.Actos = nil
	if over.TZ != "" {
		out.TZ = over.TZ
	}
	if over.Type != "" {
		out.Type = over.Type
	}
	if over.Quantity != nil {
		q := *over.Quantity
		out.Quantity = &q
	}
	if over.StartRule != "" {
		out.StartRule = over.StartRule
	}
	if over.Carry != nil {
		c := *over.Carry
		out.Carry = &c
	}
	if over.Workweek != nil {
		ww := *over.Workweek
		out.Workweek = &ww
	}
	if len(over.Holidays) > 0 {
		if out.Holidays == nil {
			out.Holidays = make(map[string]string, len(over.Holidays))
		}
		for k, v := range over.Holidays {
			out.Holidays[k] = v
		}
	}
	out.ExtraHolidays = append(out.ExtraHolidays, over.ExtraHolidays...)
	if over.Agenda != nil {
		if out.Agenda == nil {
			a := cloneAgenda(*over.Agenda)
			out.Agenda = &a
		} else {
			merged := mergeAgenda(*out.Agenda, *over.Agenda)
			out.Agenda = &merged
		}
	}
	return out
}

func mergeAgenda(base, over AgendaTemplate) AgendaTemplate {
	out := cloneAgenda(base)
	if over.Title != "" {
		out.Title = over.Title
	}
	if over.Priority != "" {
		out.Priority = over.Priority
	}
	if over.Notes != "" {
		out.Notes = over.Notes
	}
	out.Tags = NormalizeTags(append(out.Tags, over.Tags...))
	out.MinutesBefore = NormalizeMinutes(append(out.MinutesBefore, over.MinutesBefore...))
	return out
}

// finalize turns an entry into a concrete Config, filling gaps from the
// built-in default.
func finalize(id string, e Entry) Config {
	full := mergeEntry(builtinEntry(), e)
	if e.Agenda != nil && len(e.Agenda.MinutesBefore) > 0 {
		// an entry that lists its own thresholds replaces the built-in ones
		full.Agenda.MinutesBefore = append([]int(nil), e.Agenda.MinutesBefore...)
	}
	cfg := Config{
		RulesetID:      id,
		TZDefault:      full.TZ,
		TypeDefault:    full.Type,
		StartRule:      full.StartRule,
		CarryIfInhabil: *full.Carry,
		Workweek:       *full.Workweek,
		Holidays: HolidayScope{
			Mode:    holidays.Mode(full.Holidays["mode"]),
			Country: strings.ToUpper(strings.TrimSpace(full.Holidays["country"])),
		},
		ExtraHolidays: append([]string(nil), full.ExtraHolidays...),
	}
	if full.Quantity != nil {
		q := *full.Quantity
		cfg.Quantity = &q
	}
	if cfg.Holidays.Mode == "" {
		cfg.Holidays.Mode = holidays.ModeCountry
	}
	if cfg.Workweek.IsZero() {
		cfg.Workweek = holidays.MonFri()
	}
	if full.Agenda != nil {
		cfg.AgendaTemplate = cloneAgenda(*full.Agenda)
	}
	cfg.AgendaTemplate.Tags = NormalizeTags(cfg.AgendaTemplate.Tags)
	cfg.AgendaTemplate.MinutesBefore = NormalizeMinutes(cfg.AgendaTemplate.MinutesBefore)
	return cfg
}

// NormalizeMinutes dedups, drops negatives and sorts descending so the
// furthest-in-advance alert comes first.
func NormalizeMinutes(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, m := range in {
		if m < 0 {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// NormalizeTags trims, drops empties and dedups, keeping first-seen order.
func NormalizeTags(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func cloneAgenda(a AgendaTemplate) AgendaTemplate {
	a.Tags = append([]string(nil), a.Tags...)
	a.MinutesBefore = append([]int(nil), a.MinutesBefore...)
	return a
}

func cloneEntry(e Entry) Entry {
	out := e
	if e.Quantity != nil {
		q := *e.Quantity
		out.Quantity = &q
	}
	if e.Carry != nil {
		c := *e.Carry
		out.Carry = &c
	}
	if e.Workweek != nil {
		ww := *e.Workweek
		out.Workweek = &ww
	}
	if e.Holidays != nil {
		out.Holidays = make(map[string]string, len(e.Holidays))
		for k, v := range e.Holidays {
			out.Holidays[k] = v
		}
	}
	out.ExtraHolidays = append([]string(nil), e.ExtraHolidays...)
	if e.Agenda != nil {
		a := cloneAgenda(*e.Agenda)
		out.Agenda = &a
	}
	if e.Actos != nil {
		out.Actos = make(map[string]Entry, len(e.Actos))
		for k, v := range e.Actos {
			out.Actos[k] = cloneEntry(v)
		}
	}
	return out
}
