package anomaly

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

// DuplicatePair links a repeated entry (Second) to its first occurrence.
type DuplicatePair struct {
	First       int    `json:"first"`
	Second      int    `json:"second"`
	Fingerprint string `json:"fingerprint"`
}

// DuplicateResult is the outcome of DetectDuplicateEntries.
type DuplicateResult struct {
	Pairs       []DuplicatePair
	SharedRanks map[int][]int // rank -> entry indexes, distinct entries only
	NearNames   [][2]string
	Anomalies   []Anomaly
}

// DetectDuplicateEntries finds exact repeats, distinct entries sharing a
// rank, and usernames within a small edit distance of each other.
func (d *Detector) DetectDuplicateEntries(entries []model.Entry) DuplicateResult {
	var res DuplicateResult
	if len(entries) < 2 {
		return res
	}

	firstSeen := make(map[string]int, len(entries))
	byRank := make(map[int][]int)
	for i, e := range entries {
		fp := EntryFingerprint(e)
		if j, ok := firstSeen[fp]; ok {
			res.Pairs = append(res.Pairs, DuplicatePair{First: j, Second: i, Fingerprint: fp})
			continue
		}
		firstSeen[fp] = i
		byRank[e.Rank] = append(byRank[e.Rank], i)
	}

	if n := len(res.Pairs); n > 0 {
		res.Anomalies = append(res.Anomalies, Anomaly{
			Code:         CodeDuplicateEntries,
			Severity:     SeverityMedium,
			Details:      fmt.Sprintf("%d duplicate entries", n),
			SuggestedFix: "deduplicate rows; the page may render the same list twice",
		})
	}

	for rank, idx := range byRank {
		if len(idx) > 1 {
			if res.SharedRanks == nil {
				res.SharedRanks = make(map[int][]int)
			}
			res.SharedRanks[rank] = idx
		}
	}
	if n := len(res.SharedRanks); n > 0 {
		ranks := make([]int, 0, n)
		for r := range res.SharedRanks {
			ranks = append(ranks, r)
		}
		sort.Ints(ranks)
		res.Anomalies = append(res.Anomalies, Anomaly{
			Code:         CodeDuplicateRank,
			Severity:     SeverityMedium,
			Details:      fmt.Sprintf("ranks shared by different entries: %v", ranks),
			SuggestedFix: "check that rank is read from the row, not inferred from position across merged lists",
		})
	}

	res.NearNames = d.nearDuplicateNames(entries)
	if n := len(res.NearNames); n > 0 {
		res.Anomalies = append(res.Anomalies, Anomaly{
			Code:     CodeNearDuplicateNames,
			Severity: SeverityLow,
			Details:  fmt.Sprintf("%d username pairs differ by at most %d characters", n, d.th.NearDuplicateDistance),
		})
	}
	return res
}

// nearDuplicateNames ignores masked names, whose visible prefixes collide
// by construction.
func (d *Detector) nearDuplicateNames(entries []model.Entry) [][2]string {
	if d.th.NearDuplicateDistance <= 0 {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		n := NormalizeUsername(e.Username)
		if len([]rune(n)) < d.th.MinNearDuplicateLen || strings.ContainsAny(n, "*•…") || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	sort.Strings(names)

	var pairs [][2]string
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if levenshtein.ComputeDistance(names[i], names[j]) <= d.th.NearDuplicateDistance {
				pairs = append(pairs, [2]string{names[i], names[j]})
			}
		}
	}
	return pairs
}

// Deduplicate drops exact repeats, keeping each entry's first occurrence.
func (d *Detector) Deduplicate(entries []model.Entry) []model.Entry {
	seen := make(map[string]bool, len(entries))
	out := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		fp := EntryFingerprint(e)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, e)
	}
	return out
}

// DetectCrossScrapeIdentity reports the share of entries unchanged since
// the previous scrape and an anomaly when it reaches IdentityOverlap.
func (d *Detector) DetectCrossScrapeIdentity(current, previous []model.Entry) (float64, *Anomaly) {
	if len(current) == 0 || len(previous) == 0 {
		return 0, nil
	}
	prev := make(map[string]bool, len(previous))
	for _, e := range previous {
		prev[EntryFingerprint(e)] = true
	}
	shared := 0
	for _, e := range current {
		if prev[EntryFingerprint(e)] {
			shared++
		}
	}
	denom := len(current)
	if len(previous) > denom {
		denom = len(previous)
	}
	overlap := float64(shared) / float64(denom)
	if overlap < d.th.IdentityOverlap {
		return overlap, nil
	}
	return overlap, &Anomaly{
		Code:         CodeCrossScrapeIdentical,
		Severity:     SeverityMedium,
		Details:      fmt.Sprintf("%.0f%% of entries identical to the previous scrape", overlap*100),
		SuggestedFix: "the source may be cached or frozen; confirm the endpoint still refreshes",
	}
}
