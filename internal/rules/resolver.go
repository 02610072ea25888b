package rules

import "strings"

// Resolution is the outcome of one Resolve call.
type Resolution struct {
	RulesetID string   `json:"ruleset_id"`
	Config    Config   `json:"config"`
	Trail     []string `json:"trail"`
	// MergedAct is set when a matter base was merged with its actos entry.
	MergedAct string `json:"merged_act,omitempty"`
}

// Resolver maps (country, domain, act) onto a registry entry.
type Resolver struct {
	registry *Registry
}

// NewResolver wraps reg. A nil registry resolves everything to the built-in
// default.
func NewResolver(reg *Registry) *Resolver {
	return &Resolver{registry: reg}
}

func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Candidates lists the registry keys tried for a request, most specific first.
func Candidates(country, domain, act string) []string {
	country = strings.ToUpper(strings.TrimSpace(country))
	domain = strings.ToLower(strings.TrimSpace(domain))
	act = strings.ToLower(strings.TrimSpace(act))

	var out []string
	if country != "" && domain != "" {
		if act != "" {
			out = append(out, country+"."+domain+".acto."+act)
		}
		out = append(out, country+"."+domain)
	}
	if country != "" {
		out = append(out, country+".default")
	}
	return append(out, GlobalDefault)
}

// Resolve walks the candidates and returns the first match. It never fails.
func (r *Resolver) Resolve(country, domain, act string) Resolution {
	act = strings.ToLower(strings.TrimSpace(act))
	candidates := Candidates(country, domain, act)
	matterBase := ""
	if c, d := strings.TrimSpace(country), strings.TrimSpace(domain); c != "" && d != "" {
		matterBase = strings.ToUpper(c) + "." + strings.ToLower(d)
	}

	var trail []string
	for _, key := range candidates {
		entry, id, ok := r.registry.Lookup(key)
		if !ok {
			trail = append(trail, key+": miss")
			continue
		}
		trail = append(trail, key+": hit")
		if key == matterBase && act != "" {
			if sub, ok := entry.Actos[act]; ok {
				merged := mergeEntry(entry, sub)
				mergedID := id + ".actos." + act
				trail = append(trail, "merged actos."+act)
				return Resolution{
					RulesetID: mergedID,
					Config:    finalize(mergedID, merged),
					Trail:     trail,
					MergedAct: act,
				}
			}
		}
		return Resolution{RulesetID: id, Config: finalize(id, entry), Trail: trail}
	}

	// only reachable with a nil registry
	trail = append(trail, "builtin default")
	return Resolution{
		RulesetID: GlobalDefault,
		Config:    finalize(GlobalDefault, builtinEntry()),
		Trail:     trail,
	}
}
