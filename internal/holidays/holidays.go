// Package holidays supplies non-business dates per country and year and decides
// whether a calendar day is a business day under a given workweek.
package holidays

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DateLayout is the canonical calendar-date format used for holiday keys.
const DateLayout = "2006-01-02"

// Mode scopes a holiday lookup. Only ModeCountry is implemented; the other
// values are accepted and resolved as country-level data.
type Mode string

const (
	ModeCountry  Mode = "country"
	ModeRegion   Mode = "region"
	ModeJudicial Mode = "judicial"
	ModeCustom   Mode = "custom"
)

// Set is a set of YYYY-MM-DD dates. Sets returned by Provider are shared with
// its cache and must be treated as read-only.
type Set map[string]struct{}

// NewSet builds a set from date strings, dropping blanks.
func NewSet(days ...string) Set {
	s := make(Set, len(days))
	for _, d := range days {
		s.Add(d)
	}
	return s
}

func (s Set) Add(day string) {
	day = strings.TrimSpace(day)
	if day == "" {
		return
	}
	s[day] = struct{}{}
}

func (s Set) Has(day string) bool {
	_, ok := s[day]
	return ok
}

func (s Set) Len() int { return len(s) }

// Union returns a new set holding the members of s and every extra day.
func (s Set) Union(extra ...string) Set {
	out := make(Set, len(s)+len(extra))
	for d := range s {
		out[d] = struct{}{}
	}
	for _, d := range extra {
		out.Add(d)
	}
	return out
}

// Sorted lists the members in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Source loads the base holiday list for one country and year. A nil or
// empty slice means no data.
type Source interface {
	Holidays(country string, year int) ([]string, error)
}

type cacheKey struct {
	country string
	year    int
	mode    Mode
}

// Provider caches holiday sets for the process lifetime. Concurrent misses
// for the same key may load twice; the last writer wins.
type Provider struct {
	source Source
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[cacheKey]Set
}

func NewProvider(src Source, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if src == nil {
		src = StaticSource{}
	}
	return &Provider{
		source: src,
		logger: logger,
		cache:  make(map[cacheKey]Set),
	}
}

// Get returns the holiday set for country/year. Missing data yields an empty
// set; a failing source yields an empty set that is not cached.
func (p *Provider) Get(country string, year int, mode Mode) Set {
	key := cacheKey{country: strings.ToUpper(strings.TrimSpace(country)), year: year, mode: normalizeMode(mode)}
	p.mu.RLock()
	set, ok := p.cache[key]
	p.mu.RUnlock()
	if ok {
		return set
	}
	days, err := p.source.Holidays(key.country, year)
	if err != nil {
		p.logger.Warn("holiday source unavailable, continuing without holidays",
			zap.String("country", key.country),
			zap.Int("year", year),
			zap.Error(err))
		return Set{}
	}
	set = NewSet(days...)
	p.mu.Lock()
	p.cache[key] = set
	p.mu.Unlock()
	return set
}

// normalizeMode collapses every mode onto the country list until region and
// judicial calendars have a data source.
func normalizeMode(Mode) Mode {
	return ModeCountry
}

// IsNonBusinessDay reports whether day falls outside the workweek or in the
// holiday set. A zero time is treated as non-business.
func IsNonBusinessDay(day time.Time, ww Workweek, set Set) bool {
	if day.IsZero() {
		return true
	}
	day = day.UTC()
	if !ww.Has(day.Weekday()) {
		return true
	}
	return set.Has(day.Format(DateLayout))
}

// IsNonBusinessISO is IsNonBusinessDay for a YYYY-MM-DD string. Unparseable
// input is treated as non-business.
func IsNonBusinessISO(day string, ww Workweek, set Set) bool {
	t, err := time.Parse(DateLayout, strings.TrimSpace(day))
	if err != nil {
		return true
	}
	return IsNonBusinessDay(t, ww, set)
}

// ValidateDates checks every entry is a YYYY-MM-DD date.
func ValidateDates(days []string) error {
	for _, d := range days {
		if _, err := time.Parse(DateLayout, strings.TrimSpace(d)); err != nil {
			return fmt.Errorf("invalid holiday date %q", d)
		}
	}
	return nil
}
