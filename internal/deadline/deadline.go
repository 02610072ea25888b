// Package deadline computes legal due dates on UTC calendar days.
package deadline

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"plazos/internal/holidays"
	"plazos/internal/rules"
)

// maxWalkDays bounds every day-by-day walk to roughly ten years.
const maxWalkDays = 3653

// ErrWalkLimit is returned when carry-over cannot find a business day.
var ErrWalkLimit = errors.New("deadline walk exceeded ten years")

// InputError rejects a request; Field names the offending input.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Input is one computation request. Nil pointers and empty strings mean
// "use the ruleset default".
type Input struct {
	Start           string   `json:"start,omitempty"`
	Country         string   `json:"country,omitempty"`
	Domain          string   `json:"domain,omitempty"`
	Act             string   `json:"act,omitempty"`
	Quantity        *float64 `json:"quantity,omitempty"`
	Type            string   `json:"type,omitempty"`
	HolidayOverride []string `json:"holiday_override,omitempty"`
	Carry           *bool    `json:"carry,omitempty"`
	TZ              string   `json:"tz,omitempty"`
}

// YearTouch records one holiday set consulted during a computation.
type YearTouch struct {
	Year     int  `json:"year"`
	Size     int  `json:"size"`
	Override bool `json:"override,omitempty"`
}

// Trail is diagnostic output. Nothing downstream reads it as state.
type Trail struct {
	Candidates   []string    `json:"candidates"`
	MergedAct    string      `json:"merged_act,omitempty"`
	HolidayYears []YearTouch `json:"holiday_years"`
	CarryApplied bool        `json:"carry_applied"`
	CarryDays    int         `json:"carry_days,omitempty"`
}

// Computation is the result of Compute.
type Computation struct {
	Start       time.Time       `json:"-"`
	End         time.Time       `json:"-"`
	StartISO    string          `json:"start"`
	EndISO      string          `json:"end"`
	EndUnix     int64           `json:"end_unix"`
	DueLocalDay string          `json:"due_local_day"`
	RulesetID   string          `json:"ruleset_id"`
	TZ          string          `json:"tz"`
	Type        rules.CountType `json:"type"`
	Quantity    int             `json:"quantity"`
	StartRule   rules.StartRule `json:"start_rule"`
	Carry       bool            `json:"carry"`
	Workweek    string          `json:"workweek"`
	Config      rules.Config    `json:"-"`
	Trail       Trail           `json:"trail"`
}

// Calculator is stateless between calls. Now is used only when Start is empty.
type Calculator struct {
	Resolver *rules.Resolver
	Holidays *holidays.Provider
	Now      func() time.Time
}

func New(resolver *rules.Resolver, provider *holidays.Provider) *Calculator {
	return &Calculator{
		Resolver: resolver,
		Holidays: provider,
		Now:      time.Now,
	}
}

// Compute resolves the ruleset for in and counts the deadline.
func (c *Calculator) Compute(in Input) (Computation, error) {
	resolver := c.Resolver
	if resolver == nil {
		resolver = rules.NewResolver(nil)
	}
	res := resolver.Resolve(in.Country, in.Domain, in.Act)
	cfg := res.Config

	start, err := c.parseStart(in.Start)
	if err != nil {
		return Computation{}, err
	}
	n, err := quantity(in.Quantity, cfg.Quantity)
	if err != nil {
		return Computation{}, err
	}
	countType := cfg.TypeDefault
	if t := strings.ToLower(strings.TrimSpace(in.Type)); t != "" {
		countType = rules.CountType(t)
		if !countType.Valid() {
			return Computation{}, &InputError{Field: "type", Reason: "must be business or calendar"}
		}
	}
	// Calendar counts ignore non-business days, so the ruleset carry policy
	// applies to them only when the caller asks for it.
	carry := cfg.CarryIfInhabil && countType == rules.CountBusiness
	if in.Carry != nil {
		carry = *in.Carry
	}
	if in.HolidayOverride != nil {
		if err := holidays.ValidateDates(in.HolidayOverride); err != nil {
			return Computation{}, &InputError{Field: "holiday_override", Reason: err.Error()}
		}
	}
	tz := strings.TrimSpace(in.TZ)
	if tz == "" {
		tz = cfg.TZDefault
	}

	country := cfg.Holidays.Country
	if country == "" {
		country = strings.ToUpper(strings.TrimSpace(in.Country))
	}
	w := &walker{
		provider: c.Holidays,
		country:  country,
		mode:     cfg.Holidays.Mode,
		workweek: cfg.Workweek,
		extra:    cfg.ExtraHolidays,
		sets:     make(map[int]holidays.Set),
	}
	if in.HolidayOverride != nil {
		w.override = holidays.NewSet(in.HolidayOverride...)
	}

	cursor := start
	if cfg.StartRule == rules.StartNextDay {
		cursor = cursor.AddDate(0, 0, 1)
	}

	var end time.Time
	switch {
	case n == 0:
		end = start
	case countType == rules.CountCalendar:
		if n-1 > maxWalkDays {
			return Computation{}, &InputError{Field: "quantity", Reason: "deadline exceeds ten years"}
		}
		end = cursor.AddDate(0, 0, n-1)
	default:
		end, err = w.countBusiness(cursor, n)
		if err != nil {
			return Computation{}, &InputError{Field: "quantity", Reason: err.Error()}
		}
	}

	trail := Trail{Candidates: res.Trail, MergedAct: res.MergedAct}
	if carry {
		landed, moved, err := w.carry(end)
		if err != nil {
			return Computation{}, err
		}
		if moved > 0 {
			trail.CarryApplied = true
			trail.CarryDays = moved
			end = landed
		}
	}
	trail.HolidayYears = w.touched

	endISO := end.Format(holidays.DateLayout)
	return Computation{
		Start:       start,
		End:         end,
		StartISO:    start.Format(holidays.DateLayout),
		EndISO:      endISO,
		EndUnix:     end.Unix(),
		DueLocalDay: endISO,
		RulesetID:   res.RulesetID,
		TZ:          tz,
		Type:        countType,
		Quantity:    n,
		StartRule:   cfg.StartRule,
		Carry:       carry,
		Workweek:    cfg.WorkweekName(),
		Config:      cfg,
		Trail:       trail,
	}, nil
}

func (c *Calculator) parseStart(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		now := time.Now
		if c.Now != nil {
			now = c.Now
		}
		return dateOf(now()), nil
	}
	if t, err := time.Parse(holidays.DateLayout, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return dateOf(t), nil
	}
	return time.Time{}, &InputError{Field: "start", Reason: "expected YYYY-MM-DD or RFC 3339"}
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func quantity(in *float64, fallback *int) (int, error) {
	if in == nil {
		switch {
		case fallback == nil:
			return 0, &InputError{Field: "quantity", Reason: "required"}
		case *fallback < 0:
			return 0, &InputError{Field: "quantity", Reason: "ruleset default must be non-negative"}
		case *fallback > maxWalkDays:
			return 0, &InputError{Field: "quantity", Reason: "ruleset default exceeds ten years"}
		}
		return *fallback, nil
	}
	q := *in
	switch {
	case math.IsNaN(q) || math.IsInf(q, 0):
		return 0, &InputError{Field: "quantity", Reason: "must be finite"}
	case q < 0:
		return 0, &InputError{Field: "quantity", Reason: "must be non-negative"}
	case q != math.Trunc(q):
		return 0, &InputError{Field: "quantity", Reason: "must be a whole number"}
	case q > maxWalkDays:
		return 0, &InputError{Field: "quantity", Reason: "deadline exceeds ten years"}
	}
	return int(q), nil
}

// walker answers business-day questions with a per-call holiday cache.
type walker struct {
	provider *holidays.Provider
	country  string
	mode     holidays.Mode
	workweek holidays.Workweek
	extra    []string
	override holidays.Set

	sets    map[int]holidays.Set
	touched []YearTouch
}

func (w *walker) setFor(year int) holidays.Set {
	if s, ok := w.sets[year]; ok {
		return s
	}
	var s holidays.Set
	switch {
	case w.override != nil:
		s = w.override
	case w.provider != nil && w.country != "":
		s = w.provider.Get(w.country, year, w.mode).Union(w.extra...)
	default:
		s = holidays.NewSet(w.extra...)
	}
	w.sets[year] = s
	w.touched = append(w.touched, YearTouch{Year: year, Size: countYear(s, year), Override: w.override != nil})
	return s
}

func (w *walker) nonBusiness(day time.Time) bool {
	return holidays.IsNonBusinessDay(day, w.workweek, w.setFor(day.Year()))
}

// countBusiness lands on the n-th business day at or after cursor.
func (w *walker) countBusiness(cursor time.Time, n int) (time.Time, error) {
	day := cursor
	remaining := n
	for steps := 0; steps <= maxWalkDays; steps++ {
		if !w.nonBusiness(day) {
			remaining--
			if remaining == 0 {
				return day, nil
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, errors.New("deadline exceeds ten years")
}

// carry moves end forward to the first business day, re-querying holidays
// for every year it enters.
func (w *walker) carry(end time.Time) (time.Time, int, error) {
	day := end
	for moved := 0; moved <= maxWalkDays; moved++ {
		if !w.nonBusiness(day) {
			return day, moved, nil
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, 0, ErrWalkLimit
}

func countYear(s holidays.Set, year int) int {
	prefix := fmt.Sprintf("%04d-", year)
	n := 0
	for d := range s {
		if strings.HasPrefix(d, prefix) {
			n++
		}
	}
	return n
}
