package response

import (
	"sort"
	"strings"

	"github.com/techdev-loop/leaderboard-sub002/internal/browser"
	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

// DefaultSuccessThreshold is the confidence at which the oracle is assumed
// to be done when it says nothing else.
const DefaultSuccessThreshold = 80.0

// Fields is the normalized content of an oracle response. Every field has a
// usable zero value.
type Fields struct {
	Confidence        float64
	Finished          bool
	Commands          []browser.Command
	Corrections       []Correction
	Rules             *Rules
	Switchers         []Switcher
	Inactive          []InactiveLeaderboard
	SourcePreferences []SourcePreference
	Issues            []string
	Reasoning         string
}

// Correction is the oracle's verdict on one named leaderboard.
type Correction struct {
	Leaderboard string
	Incorrect   bool
	Entries     []model.Entry
	Reason      string
}

// Rules are extraction rules the oracle discovered.
type Rules struct {
	Method           model.ExtractionMethod
	APIEndpoints     []model.EndpointRule
	Selectors        map[string]string
	ProviderKeywords []string
	Farming          *model.FarmingConfig
}

// Empty reports whether the rules carry nothing worth persisting.
func (r *Rules) Empty() bool {
	return r == nil || (r.Method == "" && len(r.APIEndpoints) == 0 && len(r.Selectors) == 0 &&
		len(r.ProviderKeywords) == 0 && r.Farming == nil)
}

// Switcher is a control that changes the displayed leaderboard.
type Switcher struct {
	Name     string
	Selector string
	X, Y     int
	WaitMs   int
}

// InactiveLeaderboard is a leaderboard the oracle found unreachable.
type InactiveLeaderboard struct {
	Name   string
	Reason string
}

// SourcePreference is the oracle's choice between competing sources.
type SourcePreference struct {
	Leaderboard string
	Source      string
	Reason      string
	Confidence  float64
}

// ExtractFields normalizes a decoded response. Malformed parts are dropped,
// never fatal; call Validate first to learn what was dropped.
func ExtractFields(value any) Fields {
	var f Fields
	obj, ok := value.(map[string]any)
	if !ok {
		return f
	}

	if raw, ok := lookup(obj, "confidence"); ok {
		if c, ok := number(raw); ok {
			f.Confidence = clamp(c, 0, 100)
		}
	}
	f.Finished = boolean(obj, "finished", "done", "complete")
	f.Reasoning = str(obj, "reasoning", "analysis", "notes")

	for _, it := range list(obj, "commands", "actions") {
		if m, ok := it.(map[string]any); ok {
			if cmd, err := browser.ParseCommand(m); err == nil {
				f.Commands = append(f.Commands, cmd)
			}
		}
	}

	for _, it := range list(obj, "corrections") {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		c := Correction{
			Leaderboard: str(m, "leaderboard", "name"),
			Incorrect:   boolean(m, "incorrect", "is_incorrect", "isIncorrect") || strings.EqualFold(str(m, "verdict"), "incorrect"),
			Reason:      str(m, "reason"),
		}
		if c.Leaderboard == "" {
			continue
		}
		for _, e := range list(m, "entries", "corrected_entries", "correctedEntries") {
			if em, ok := e.(map[string]any); ok {
				if entry, ok := parseEntry(em); ok {
					c.Entries = append(c.Entries, entry)
				}
			}
		}
		sort.SliceStable(c.Entries, func(i, j int) bool { return c.Entries[i].Rank < c.Entries[j].Rank })
		f.Corrections = append(f.Corrections, c)
	}

	if raw, ok := lookup(obj, "extraction_rules", "extractionRules", "rules"); ok {
		if m, ok := raw.(map[string]any); ok {
			f.Rules = parseRules(m)
		}
	}

	for _, it := range list(obj, "switchers") {
		m, ok := it.(map[string]any)
		if !ok || !hasLocator(m) {
			continue
		}
		sw := Switcher{Name: str(m, "name", "keyword"), Selector: str(m, "selector")}
		coords := m
		if c, ok := m["coordinates"].(map[string]any); ok {
			coords = c
		}
		if x, ok := number(coords["x"]); ok {
			sw.X = int(x)
		}
		if y, ok := number(coords["y"]); ok {
			sw.Y = int(y)
		}
		if w, ok := number(m["wait_ms"]); ok {
			sw.WaitMs = int(w)
		}
		f.Switchers = append(f.Switchers, sw)
	}

	for _, it := range list(obj, "inactive_leaderboards", "inactiveLeaderboards") {
		switch v := it.(type) {
		case string:
			if v != "" {
				f.Inactive = append(f.Inactive, InactiveLeaderboard{Name: v})
			}
		case map[string]any:
			if name := str(v, "name", "leaderboard"); name != "" {
				f.Inactive = append(f.Inactive, InactiveLeaderboard{Name: name, Reason: str(v, "reason")})
			}
		}
	}

	for _, it := range list(obj, "source_preferences", "sourcePreferences", "data_source_preference") {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		sp := SourcePreference{
			Leaderboard: str(m, "leaderboard", "name"),
			Source:      strings.ToLower(str(m, "source", "preferred")),
			Reason:      str(m, "reason"),
		}
		if c, ok := number(m["confidence"]); ok {
			sp.Confidence = clamp(c, 0, 100)
		}
		if sp.Leaderboard != "" && sp.Source != "" {
			f.SourcePreferences = append(f.SourcePreferences, sp)
		}
	}

	for _, it := range list(obj, "issues") {
		if s, ok := it.(string); ok && s != "" {
			f.Issues = append(f.Issues, s)
		}
	}
	return f
}

// WantsToContinue decides whether the exploration loop should take another
// turn: never once the oracle says it is finished, always when it asked for
// more browser actions, otherwise only while confidence is below threshold.
func WantsToContinue(f Fields, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultSuccessThreshold
	}
	if f.Finished {
		return false
	}
	if len(f.Commands) > 0 {
		return true
	}
	return f.Confidence < threshold
}

func parseEntry(m map[string]any) (model.Entry, bool) {
	username := str(m, "username", "user", "name")
	rank, okRank := number(m["rank"])
	if username == "" || !okRank || rank < 1 {
		return model.Entry{}, false
	}
	e := model.Entry{Rank: int(rank), Username: username, Source: "oracle"}
	if w, ok := number(m["wager"]); ok && w >= 0 {
		e.Wager = w
	}
	if p, ok := number(m["prize"]); ok && p >= 0 {
		e.Prize = p
	}
	return e, true
}

func parseRules(m map[string]any) *Rules {
	r := &Rules{}
	if method := strings.ToLower(str(m, "method")); validMethods[method] {
		r.Method = model.ExtractionMethod(method)
	}

	for _, it := range list(m, "api_endpoints", "apiEndpoints") {
		switch v := it.(type) {
		case string:
			if v != "" {
				r.APIEndpoints = append(r.APIEndpoints, model.EndpointRule{Template: v})
			}
		case map[string]any:
			ep := model.EndpointRule{
				Template:    str(v, "template", "url"),
				Leaderboard: str(v, "leaderboard"),
			}
			if ph, ok := v["placeholders"].(map[string]any); ok {
				ep.Placeholders = stringMap(ph)
			}
			if ep.Template != "" {
				r.APIEndpoints = append(r.APIEndpoints, ep)
			}
		}
	}

	if sels, ok := m["selectors"].(map[string]any); ok {
		r.Selectors = stringMap(sels)
	}

	for _, it := range list(m, "provider_keywords", "providerKeywords", "keywords") {
		if s, ok := it.(string); ok && s != "" {
			r.ProviderKeywords = append(r.ProviderKeywords, strings.ToLower(s))
		}
	}

	if raw, ok := lookup(m, "farming", "historical"); ok {
		if fm, ok := raw.(map[string]any); ok {
			fc := &model.FarmingConfig{
				Enabled:         boolean(fm, "enabled"),
				PeriodParam:     str(fm, "period_param", "periodParam"),
				HistorySelector: str(fm, "history_selector", "historySelector"),
			}
			if n, ok := number(fm["max_periods"]); ok {
				fc.MaxPeriods = int(n)
			}
			r.Farming = fc
		}
	}
	return r
}

func list(m map[string]any, keys ...string) []any {
	v, _ := lookup(m, keys...)
	l, _ := v.([]any)
	return l
}

func boolean(m map[string]any, keys ...string) bool {
	v, _ := lookup(m, keys...)
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true") || strings.EqualFold(b, "yes")
	}
	return false
}

func stringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok && s != "" {
			out[k] = s
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
