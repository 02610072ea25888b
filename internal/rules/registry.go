package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"plazos/internal/holidays"
)

// GlobalDefault is the key of the final fallback entry.
const GlobalDefault = "global.default"

//go:embed registry.yml
var builtinRegistry []byte

// Registry is an immutable table of ruleset entries. Lookups hand out copies.
type Registry struct {
	entries map[string]Entry
	ids     map[string]string
}

type registryFile struct {
	Rulesets map[string]Entry `yaml:"rulesets"`
}

// NewRegistry copies entries into a new registry. global.default is injected
// when missing.
func NewRegistry(entries map[string]Entry) *Registry {
	r := &Registry{
		entries: make(map[string]Entry, len(entries)+1),
		ids:     make(map[string]string, len(entries)+1),
	}
	for key, e := range entries {
		id := canonicalKey(key)
		if id == "" {
			continue
		}
		norm := strings.ToLower(id)
		e = cloneEntry(e)
		if len(e.Actos) > 0 {
			actos := make(map[string]Entry, len(e.Actos))
			for act, sub := range e.Actos {
				actos[strings.ToLower(strings.TrimSpace(act))] = sub
			}
			e.Actos = actos
		}
		r.entries[norm] = e
		r.ids[norm] = id
	}
	if _, ok := r.entries[GlobalDefault]; !ok {
		r.entries[GlobalDefault] = builtinEntry()
		r.ids[GlobalDefault] = GlobalDefault
	}
	return r
}

// ParseRegistry decodes a YAML document with a top-level rulesets map.
func ParseRegistry(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rulesets: %w", err)
	}
	for key, e := range f.Rulesets {
		if err := validateEntry(key, e); err != nil {
			return nil, err
		}
		for act, sub := range e.Actos {
			if err := validateEntry(key+".actos."+act, sub); err != nil {
				return nil, err
			}
		}
	}
	return NewRegistry(f.Rulesets), nil
}

// LoadRegistry reads a rulesets file from disk.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRegistry(data)
}

// DefaultRegistry returns the bundled rulesets.
func DefaultRegistry() *Registry {
	reg, err := ParseRegistry(builtinRegistry)
	if err != nil {
		return NewRegistry(nil)
	}
	return reg
}

// Lookup returns a copy of the entry stored under key and its canonical id.
func (r *Registry) Lookup(key string) (Entry, string, bool) {
	if r == nil {
		return Entry{}, "", false
	}
	norm := strings.ToLower(canonicalKey(key))
	e, ok := r.entries[norm]
	if !ok {
		return Entry{}, "", false
	}
	return cloneEntry(e), r.ids[norm], true
}

// Keys lists the canonical ids in sorted order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// canonicalKey uppercases the country segment and lowercases the rest.
func canonicalKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	head, rest, found := strings.Cut(key, ".")
	if strings.EqualFold(head, "global") {
		head = "global"
	} else {
		head = strings.ToUpper(head)
	}
	if !found {
		return head
	}
	return head + "." + strings.ToLower(rest)
}

func validateEntry(key string, e Entry) error {
	if e.Type != "" && !e.Type.Valid() {
		return fmt.Errorf("ruleset %s: invalid type %q", key, e.Type)
	}
	if e.StartRule != "" && !e.StartRule.Valid() {
		return fmt.Errorf("ruleset %s: invalid startRule %q", key, e.StartRule)
	}
	if e.Quantity != nil && *e.Quantity < 0 {
		return fmt.Errorf("ruleset %s: quantity must be non-negative", key)
	}
	if err := holidays.ValidateDates(e.ExtraHolidays); err != nil {
		return fmt.Errorf("ruleset %s: %w", key, err)
	}
	return nil
}
