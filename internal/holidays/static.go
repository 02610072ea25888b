package holidays

import (
	"fmt"
	"strings"
)

// StaticSource serves holiday lists from memory, keyed by ISO country code
// and year.
type StaticSource map[string]map[int][]string

func (s StaticSource) Holidays(country string, year int) ([]string, error) {
	years, ok := s[strings.ToUpper(country)]
	if !ok {
		return nil, nil
	}
	days := years[year]
	out := make([]string, len(days))
	copy(out, days)
	return out, nil
}

// Merge returns a new source with the lists of other appended to those of s.
func (s StaticSource) Merge(other StaticSource) StaticSource {
	out := make(StaticSource, len(s)+len(other))
	for _, src := range []StaticSource{s, other} {
		for country, years := range src {
			country = strings.ToUpper(country)
			if out[country] == nil {
				out[country] = make(map[int][]string)
			}
			for year, days := range years {
				out[country][year] = append(out[country][year], days...)
			}
		}
	}
	return out
}

// Builtin returns the bundled national holiday lists.
func Builtin() StaticSource {
	return StaticSource{
		"PE": {
			2024: peFixed(2024, "2024-03-28", "2024-03-29"),
			2025: peFixed(2025, "2025-04-17", "2025-04-18"),
			2026: peFixed(2026, "2026-04-02", "2026-04-03"),
		},
		"CL": {
			2025: {
				"2025-01-01", "2025-04-18", "2025-04-19", "2025-05-01", "2025-05-21",
				"2025-06-20", "2025-06-29", "2025-07-16", "2025-08-15", "2025-09-18",
				"2025-09-19", "2025-10-12", "2025-10-31", "2025-11-01", "2025-12-08",
				"2025-12-25",
			},
		},
	}
}

// peFixed expands the fixed-date national holidays of Peru for year and adds
// the Holy Week dates, which move with Easter.
func peFixed(year int, holyWeek ...string) []string {
	fixed := []string{
		"01-01", "05-01", "06-07", "06-29", "07-23", "07-28", "07-29",
		"08-06", "08-30", "10-08", "11-01", "12-08", "12-09", "12-25",
	}
	prefix := fmt.Sprintf("%04d-", year)
	out := make([]string, 0, len(fixed)+len(holyWeek))
	for _, md := range fixed {
		out = append(out, prefix+md)
	}
	return append(out, holyWeek...)
}
