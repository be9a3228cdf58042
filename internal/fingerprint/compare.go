package fingerprint

import (
	"fmt"
	"strings"
)

// Significance grades a layout change.
type Significance string

const (
	SignificanceNone   Significance = "none"
	SignificanceLow    Significance = "low"
	SignificanceMedium Significance = "medium"
	SignificanceHigh   Significance = "high"
)

var rank = map[Significance]int{SignificanceNone: 0, SignificanceLow: 1, SignificanceMedium: 2, SignificanceHigh: 3}

func maxSignificance(a, b Significance) Significance {
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Change is one detected difference.
type Change struct {
	Kind         string
	Detail       string
	Significance Significance
}

// Comparison is the result of Compare.
type Comparison struct {
	Changed           bool
	Significance      Significance
	Changes           []Change
	LayoutTypeChanged bool
	NewSwitchers      []string
	RemovedSwitchers  []string
}

// Compare classifies the difference between a stored and a current
// fingerprint. Equal hashes short-circuit to no change; otherwise the
// structural fields decide. A nil side yields no change.
func Compare(stored, current *Fingerprint) Comparison {
	c := Comparison{Significance: SignificanceNone}
	if stored == nil || current == nil || stored.Hash == current.Hash {
		return c
	}

	add := func(kind, detail string, sig Significance) {
		c.Changes = append(c.Changes, Change{Kind: kind, Detail: detail, Significance: sig})
		c.Significance = maxSignificance(c.Significance, sig)
	}

	if delta := current.SwitcherCount - stored.SwitcherCount; delta != 0 {
		sig := SignificanceLow
		if abs(delta) >= 2 {
			sig = SignificanceHigh
		}
		add("switcher_count", fmt.Sprintf("%d -> %d", stored.SwitcherCount, current.SwitcherCount), sig)
	}

	if stored.LayoutType != current.LayoutType {
		c.LayoutTypeChanged = true
		add("layout_type", fmt.Sprintf("%s -> %s", stored.LayoutType, current.LayoutType), SignificanceHigh)
	}

	c.NewSwitchers = missingFrom(current.SwitcherNames, stored.SwitcherNames)
	if n := len(c.NewSwitchers); n > 0 {
		add("new_switchers", strings.Join(c.NewSwitchers, ", "), namesSignificance(n))
	}
	c.RemovedSwitchers = missingFrom(stored.SwitcherNames, current.SwitcherNames)
	if n := len(c.RemovedSwitchers); n > 0 {
		add("removed_switchers", strings.Join(c.RemovedSwitchers, ", "), namesSignificance(n))
	}

	if len(c.Changes) == 0 {
		add("structure", "element descriptors differ", SignificanceLow)
	}
	c.Changed = true
	return c
}

// ShouldReVerify reports whether a change is likely to have broken the
// stored rules.
func ShouldReVerify(c Comparison) bool {
	return c.Significance == SignificanceHigh || c.LayoutTypeChanged || len(c.NewSwitchers) >= 2
}

func namesSignificance(n int) Significance {
	if n >= 2 {
		return SignificanceHigh
	}
	return SignificanceMedium
}

// missingFrom returns names in a that are absent from b.
func missingFrom(a, b []string) []string {
	have := make(map[string]bool, len(b))
	for _, n := range b {
		have[n] = true
	}
	var out []string
	for _, n := range a {
		if !have[n] {
			out = append(out, n)
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
