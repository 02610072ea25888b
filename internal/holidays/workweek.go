package holidays

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Workweek is the set of weekdays counted as business days, indexed by
// time.Weekday.
type Workweek [7]bool

const defaultPreset = "mon-fri"

var presets = map[string][]time.Weekday{
	"mon-fri": {time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	"mon-sat": {time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
	"sun-sat": {time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday, "dom": time.Sunday,
	"mon": time.Monday, "monday": time.Monday, "lun": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday, "mar": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday, "mie": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday, "jue": time.Thursday,
	"fri": time.Friday, "friday": time.Friday, "vie": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday, "sab": time.Saturday,
}

// MonFri is the default workweek.
func MonFri() Workweek {
	return fromDays(presets[defaultPreset])
}

// ParseWorkweek resolves a preset name. Unknown presets fall back to mon-fri.
func ParseWorkweek(preset string) Workweek {
	days, ok := presets[strings.ToLower(strings.TrimSpace(preset))]
	if !ok {
		return MonFri()
	}
	return fromDays(days)
}

// WorkweekOf builds a workweek from an explicit weekday list. An empty list
// falls back to mon-fri.
func WorkweekOf(days ...time.Weekday) Workweek {
	if len(days) == 0 {
		return MonFri()
	}
	return fromDays(days)
}

func fromDays(days []time.Weekday) Workweek {
	var ww Workweek
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			ww[d] = true
		}
	}
	return ww
}

func (w Workweek) Has(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return w[d]
}

// IsZero reports whether no weekday is set.
func (w Workweek) IsZero() bool {
	return w == Workweek{}
}

func (w Workweek) Days() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w[d] {
			out = append(out, d)
		}
	}
	return out
}

// String returns the preset name when one matches, else a comma list.
func (w Workweek) String() string {
	for name, days := range presets {
		if fromDays(days) == w {
			return name
		}
	}
	var parts []string
	for _, d := range w.Days() {
		parts = append(parts, strings.ToLower(d.String()[:3]))
	}
	return strings.Join(parts, ",")
}

// UnmarshalYAML accepts a preset scalar ("mon-sat") or a sequence of weekday
// names or numbers (0=Sunday).
func (w *Workweek) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*w = ParseWorkweek(node.Value)
		return nil
	case yaml.SequenceNode:
		var days []time.Weekday
		for _, item := range node.Content {
			d, err := parseWeekday(item.Value)
			if err != nil {
				return err
			}
			days = append(days, d)
		}
		*w = WorkweekOf(days...)
		return nil
	default:
		return fmt.Errorf("workweek: unsupported yaml node at line %d", node.Line)
	}
}

func (w Workweek) MarshalYAML() (any, error) {
	return w.String(), nil
}

func parseWeekday(v string) (time.Weekday, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("workweek: weekday %d out of range", n)
		}
		return time.Weekday(n), nil
	}
	if d, ok := weekdayNames[v]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("workweek: unknown weekday %q", v)
}
