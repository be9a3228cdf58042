package anomaly

import (
	"fmt"
	"sort"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

// byRank returns a copy of entries ordered by rank.
func byRank(entries []model.Entry) []model.Entry {
	out := append([]model.Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// increases counts adjacent pairs where the value rises while rank worsens.
// Pairs with a zero on either side carry no signal and are skipped.
func increases(sorted []model.Entry, value func(model.Entry) float64) int {
	n := 0
	for i := 1; i < len(sorted); i++ {
		prev, cur := value(sorted[i-1]), value(sorted[i])
		if prev > 0 && cur > prev {
			n++
		}
	}
	return n
}

func prize(e model.Entry) float64 { return e.Prize }
func wager(e model.Entry) float64 { return e.Wager }

// DetectPrizeAnomalies checks the prize column.
func (d *Detector) DetectPrizeAnomalies(entries []model.Entry) []Anomaly {
	if len(entries) == 0 {
		return nil
	}
	sorted := byRank(entries)
	var out []Anomaly

	var over, near, swapped int
	anyPrize := false
	for _, e := range sorted {
		if e.Prize > 0 {
			anyPrize = true
		}
		switch {
		case e.Prize > d.th.MaxPrize:
			over++
		case e.Prize >= d.th.MaxPrize*d.th.PrizeNearCeiling:
			near++
		}
		if e.Wager > 0 && e.Prize > d.th.PrizeFloor && e.Prize > d.th.PrizeWagerRatio*e.Wager {
			swapped++
		}
	}
	if over > 0 {
		out = append(out, Anomaly{
			Code:         CodePrizeHigh,
			Severity:     SeverityHigh,
			Details:      fmt.Sprintf("%d prizes above the %.0f ceiling", over, d.th.MaxPrize),
			SuggestedFix: "check for a misread decimal separator or a wager value in the prize column",
		})
	}
	if near > 0 {
		out = append(out, Anomaly{
			Code:         CodePrizeHigh,
			Severity:     SeverityMedium,
			Details:      fmt.Sprintf("%d prizes within %.0f%% of the %.0f ceiling", near, (1-d.th.PrizeNearCeiling)*100, d.th.MaxPrize),
			SuggestedFix: "confirm the prize pool on the page",
		})
	}
	if swapped > 0 {
		out = append(out, Anomaly{
			Code:         CodePrizeExceedsWager,
			Severity:     SeverityMedium,
			Details:      fmt.Sprintf("%d entries with prize above %.1fx wager", swapped, d.th.PrizeWagerRatio),
			SuggestedFix: "wager and prize columns may be swapped",
		})
	}

	if anyPrize {
		if first := sorted[0]; first.Prize < d.th.MinFirstPrize {
			out = append(out, Anomaly{
				Code:         CodeLowFirstPrize,
				Severity:     SeverityMedium,
				Details:      fmt.Sprintf("first place prize %.2f below %.2f", first.Prize, d.th.MinFirstPrize),
				SuggestedFix: "the prize column may be offset by one row or read from the wrong element",
			})
		}
	}

	if inc := increases(sorted, prize); len(sorted) > 2 && inc*2 > len(sorted) {
		out = append(out, Anomaly{
			Code:         CodePrizeOrderInverted,
			Severity:     SeverityHigh,
			Details:      fmt.Sprintf("prize rises with rank for %d of %d entries", inc, len(sorted)),
			SuggestedFix: "rows may be reversed or prizes misaligned with usernames",
		})
	}
	return out
}

// DetectWagerAnomalies checks the wager column.
func (d *Detector) DetectWagerAnomalies(entries []model.Entry) []Anomaly {
	if len(entries) == 0 {
		return nil
	}
	sorted := byRank(entries)
	var out []Anomaly

	maxWager := 0.0
	identical := len(sorted) > 1
	for i, e := range sorted {
		if e.Wager > maxWager {
			maxWager = e.Wager
		}
		if i > 0 && e.Wager != sorted[0].Wager {
			identical = false
		}
	}

	if maxWager <= 0 {
		return append(out, Anomaly{
			Code:         CodeNoWagers,
			Severity:     SeverityHigh,
			Details:      "no entry has a positive wager",
			SuggestedFix: "the wager selector or API field is wrong",
		})
	}
	if maxWager > d.th.MaxWager {
		out = append(out, Anomaly{
			Code:         CodeWagerHigh,
			Severity:     SeverityHigh,
			Details:      fmt.Sprintf("max wager %.0f above the %.0f ceiling", maxWager, d.th.MaxWager),
			SuggestedFix: "check for concatenated numbers or a missing decimal point",
		})
	}
	if identical {
		out = append(out, Anomaly{
			Code:         CodeIdenticalWagers,
			Severity:     SeverityHigh,
			Details:      fmt.Sprintf("all %d entries share wager %.2f", len(sorted), sorted[0].Wager),
			SuggestedFix: "the selector matches one element for every row",
		})
	}
	if inc := increases(sorted, wager); len(sorted) > 2 && inc*2 > len(sorted) {
		out = append(out, Anomaly{
			Code:         CodeWagerOrderInverted,
			Severity:     SeverityHigh,
			Details:      fmt.Sprintf("wager rises with rank for %d of %d entries", inc, len(sorted)),
			SuggestedFix: "ranks and wagers may come from different lists",
		})
	}
	return out
}
