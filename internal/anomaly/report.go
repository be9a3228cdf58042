package anomaly

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

// Baseline is a previously accepted result for one leaderboard.
type Baseline struct {
	EntryCount int
	TopWager   float64
}

// BaselineOf summarizes an accepted leaderboard.
func BaselineOf(lb model.Leaderboard) Baseline {
	b := Baseline{EntryCount: len(lb.Entries)}
	for _, e := range lb.Entries {
		if e.Wager > b.TopWager {
			b.TopWager = e.Wager
		}
	}
	return b
}

// Input is one leaderboard to analyze plus optional comparison points.
type Input struct {
	Leaderboard string
	Entries     []model.Entry
	Previous    []model.Entry
	Baseline    *Baseline
}

// Report is the outcome of Analyze. Issues are medium or high severity;
// warnings are low.
type Report struct {
	Valid                bool            `json:"valid"`
	Issues               []Anomaly       `json:"issues,omitempty"`
	Warnings             []Anomaly       `json:"warnings,omitempty"`
	Suggestions          []string        `json:"suggestions,omitempty"`
	RequiresVerification bool            `json:"requires_verification"`
	RequiresLearning     bool            `json:"requires_learning"`
	Duplicates           []DuplicatePair `json:"duplicates,omitempty"`
	Overlap              float64         `json:"overlap,omitempty"`
}

// HasAnomalies reports whether anything at all was found.
func (r Report) HasAnomalies() bool { return len(r.Issues) > 0 || len(r.Warnings) > 0 }

// HasDuplicates reports whether exact duplicate entries were found.
func (r Report) HasDuplicates() bool { return len(r.Duplicates) > 0 }

// Codes lists the distinct codes of all findings in order.
func (r Report) Codes() []string {
	seen := make(map[Code]bool)
	var out []string
	for _, list := range [][]Anomaly{r.Issues, r.Warnings} {
		for _, a := range list {
			if !seen[a.Code] {
				seen[a.Code] = true
				out = append(out, string(a.Code))
			}
		}
	}
	return out
}

func (r *Report) add(a Anomaly) {
	if a.Severity == SeverityLow {
		r.Warnings = append(r.Warnings, a)
	} else {
		r.Issues = append(r.Issues, a)
		r.RequiresVerification = true
	}
	if a.Severity == SeverityHigh {
		r.Valid = false
	}
	if learningCodes[a.Code] {
		r.RequiresLearning = true
	}
	if a.SuggestedFix != "" {
		r.Suggestions = appendUnique(r.Suggestions, a.SuggestedFix)
	}
}

func (r *Report) merge(o Report) {
	for _, a := range o.Issues {
		r.add(a)
	}
	for _, a := range o.Warnings {
		r.add(a)
	}
	r.Duplicates = append(r.Duplicates, o.Duplicates...)
	r.Overlap = math.Max(r.Overlap, o.Overlap)
}

// Analyze runs every check on one leaderboard.
func (d *Detector) Analyze(in Input) Report {
	r := Report{Valid: true}
	record := func(a Anomaly) {
		a.Leaderboard = in.Leaderboard
		r.add(a)
		d.metrics.Anomaly(string(a.Code), string(a.Severity))
	}

	dups := d.DetectDuplicateEntries(in.Entries)
	r.Duplicates = dups.Pairs
	for _, a := range dups.Anomalies {
		record(a)
	}

	overlap, stale := d.DetectCrossScrapeIdentity(in.Entries, in.Previous)
	r.Overlap = overlap
	if stale != nil {
		record(*stale)
	}

	for _, a := range d.DetectPrizeAnomalies(in.Entries) {
		record(a)
	}
	for _, a := range d.DetectWagerAnomalies(in.Entries) {
		record(a)
	}
	for _, a := range d.compareBaseline(in.Entries, in.Baseline) {
		record(a)
	}
	return r
}

func (d *Detector) compareBaseline(entries []model.Entry, b *Baseline) []Anomaly {
	if b == nil || b.EntryCount == 0 {
		return nil
	}
	var out []Anomaly
	if len(entries)*2 < b.EntryCount {
		out = append(out, Anomaly{
			Code:         CodeEntryCountDrop,
			Severity:     SeverityMedium,
			Details:      fmt.Sprintf("%d entries against a baseline of %d", len(entries), b.EntryCount),
			SuggestedFix: "pagination or lazy loading may have changed",
		})
	}
	top := BaselineOf(model.Leaderboard{Entries: entries}).TopWager
	if b.TopWager > 0 && top > 0 {
		if ratio := top / b.TopWager; ratio >= 10 || ratio <= 0.1 {
			out = append(out, Anomaly{
				Code:         CodeWagerScaleShift,
				Severity:     SeverityMedium,
				Details:      fmt.Sprintf("top wager %.2f against a baseline of %.2f", top, b.TopWager),
				SuggestedFix: "check currency units and thousands separators",
			})
		}
	}
	return out
}

// AnalyzeResult analyzes every leaderboard in res, comparing each with the
// same-named leaderboard of previous when given.
func (d *Detector) AnalyzeResult(res *model.ExtractionResult, previous *model.ExtractionResult) Report {
	total := Report{Valid: true}
	if res == nil {
		return total
	}
	for _, lb := range res.Leaderboards {
		in := Input{Leaderboard: lb.Name, Entries: lb.Entries}
		if previous != nil {
			if prev := previous.Leaderboard(lb.Name); prev != nil {
				in.Previous = prev.Entries
				b := BaselineOf(*prev)
				in.Baseline = &b
			}
		}
		total.merge(d.Analyze(in))
	}
	if total.HasAnomalies() {
		zap.L().Info("anomaly: findings",
			zap.String("domain", res.Domain),
			zap.Strings("codes", total.Codes()),
			zap.Bool("requires_verification", total.RequiresVerification),
			zap.Bool("requires_learning", total.RequiresLearning),
		)
	}
	return total
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
