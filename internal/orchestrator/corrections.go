package orchestrator

import (
	"strings"
	"time"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
	"github.com/techdev-loop/leaderboard-sub002/internal/profile"
	"github.com/techdev-loop/leaderboard-sub002/internal/response"
)

// ApplyCorrections returns a copy of res with the oracle's corrections
// applied. A leaderboard's entries are replaced only when the oracle names
// it, says it was incorrect and supplies entries. Confidence only rises.
func ApplyCorrections(res *model.ExtractionResult, f response.Fields) (*model.ExtractionResult, bool) {
	out := res.Clone()
	if out == nil {
		return nil, false
	}
	corrected := false
	for _, c := range f.Corrections {
		if !c.Incorrect || len(c.Entries) == 0 {
			continue
		}
		lb := findLeaderboard(out, c.Leaderboard)
		if lb == nil {
			continue
		}
		lb.Entries = append([]model.Entry(nil), c.Entries...)
		lb.Corrected = true
		lb.Method = "oracle"
		if f.Confidence > lb.Confidence {
			lb.Confidence = f.Confidence
		}
		corrected = true
	}
	if f.Confidence > out.Confidence {
		out.Confidence = f.Confidence
	}
	return out, corrected
}

func findLeaderboard(res *model.ExtractionResult, name string) *model.Leaderboard {
	if lb := res.Leaderboard(name); lb != nil {
		return lb
	}
	for i := range res.Leaderboards {
		if strings.EqualFold(res.Leaderboards[i].Name, strings.TrimSpace(name)) {
			return &res.Leaderboards[i]
		}
	}
	return nil
}

// learnedPatch converts what the oracle discovered into a profile patch.
// Empty discoveries leave the stored rules alone.
func learnedPatch(f response.Fields, now time.Time) profile.Patch {
	var patch profile.Patch
	ext := &profile.ExtractionPatch{}
	touched := false

	if r := f.Rules; !r.Empty() {
		if r.Method != "" {
			ext.Method = profile.Ptr(r.Method)
		}
		if len(r.APIEndpoints) > 0 {
			ext.APIEndpoints = r.APIEndpoints
		}
		if len(r.Selectors) > 0 {
			ext.Selectors = r.Selectors
		}
		if len(r.ProviderKeywords) > 0 {
			ext.ProviderKeywords = r.ProviderKeywords
		}
		if fc := r.Farming; fc != nil {
			ext.Farming = &profile.FarmingPatch{
				Enabled:         profile.Ptr(fc.Enabled),
				PeriodParam:     profile.Ptr(fc.PeriodParam),
				MaxPeriods:      profile.Ptr(fc.MaxPeriods),
				HistorySelector: profile.Ptr(fc.HistorySelector),
			}
		}
		touched = true
	}

	if len(f.Switchers) > 0 {
		steps := make([]model.ClickStep, 0, len(f.Switchers))
		for _, sw := range f.Switchers {
			steps = append(steps, model.ClickStep{
				Keyword:  strings.ToLower(sw.Name),
				Selector: sw.Selector,
				X:        sw.X,
				Y:        sw.Y,
				WaitMs:   sw.WaitMs,
			})
		}
		ext.ClickSequence = steps
		touched = true
	}
	if touched {
		patch.Extraction = ext
	}

	if len(f.SourcePreferences) > 0 {
		patch.DataSourcePreference = make(map[string]model.SourcePreference, len(f.SourcePreferences))
		for _, sp := range f.SourcePreferences {
			patch.DataSourcePreference[sp.Leaderboard] = model.SourcePreference{
				Source:     sp.Source,
				Reason:     sp.Reason,
				Confidence: sp.Confidence,
				DecidedAt:  now,
			}
		}
	}
	return patch
}
