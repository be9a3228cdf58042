// Package fingerprint summarizes the structure of a rendered leaderboard
// page and classifies how much two summaries differ.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/techdev-loop/leaderboard-sub002/internal/browser"
	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

// LayoutType is the coarse structure of a leaderboard page.
type LayoutType string

const (
	LayoutPodiumTable LayoutType = "podium-table"
	LayoutPodiumOnly  LayoutType = "podium-only"
	LayoutTableOnly   LayoutType = "table-only"
	LayoutList        LayoutType = "list"
	LayoutUnknown     LayoutType = "unknown"
)

const (
	hashLength  = 16
	maxElements = 10
)

// Fingerprint is a structural summary of one page.
type Fingerprint struct {
	Hash          string
	SwitcherCount int
	SwitcherNames []string
	LayoutType    LayoutType
	EntryCount    int
	HasPodium     bool
	HasTable      bool
	Elements      []string // structural descriptors that fed the hash
	CapturedAt    time.Time
}

// Bounds are the on-screen size limits for a switcher candidate. Anything
// larger is a container, not a control.
type Bounds struct {
	MinWidth, MaxWidth   float64
	MinHeight, MaxHeight float64
}

// DefaultBounds fit tabs, pills and logo buttons.
var DefaultBounds = Bounds{MinWidth: 20, MaxWidth: 400, MinHeight: 15, MaxHeight: 200}

// Candidate is one clickable element reported by the clickables script.
type Candidate struct {
	Tag    string  `json:"tag"`
	Text   string  `json:"text"`
	Markup string  `json:"markup"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ClickablesScript collects visible clickable elements with their size and
// a truncated markup sample.
const ClickablesScript = `() => Array.from(document.querySelectorAll(
  'button, a, [role="tab"], [role="button"], [onclick], li, img, [class*="tab"], [class*="switch"]'
)).map(el => {
  const r = el.getBoundingClientRect();
  return {
    tag: el.tagName.toLowerCase(),
    text: (el.innerText || el.alt || '').trim().slice(0, 80),
    markup: el.outerHTML.slice(0, 300),
    width: r.width,
    height: r.height,
  };
}).filter(c => c.width > 0 && c.height > 0)`

var (
	podiumSelectors = []string{
		`[class*="podium"] > *`,
		`[class*="top-3"] > *`,
		`[class*="top3"] > *`,
		`[class*="winner-card"]`,
		`[class*="prize-card"]`,
	}
	tableSelectors = []string{
		`table[class*="leaderboard"]`,
		`[class*="leaderboard"] table`,
		`[class*="leaderboard-table"]`,
		`[class*="leaderboard-row"]`,
		`[class*="leaderboard"] tr`,
		`[class*="ranking"] tr`,
		`[data-testid*="leaderboard"]`,
	}
	rowSelectors = []string{
		`[class*="leaderboard"] tbody tr`,
		`[class*="leaderboard-row"]`,
		`[class*="ranking"] tbody tr`,
		`[class*="leaderboard"] li`,
		`[class*="entry"]`,
	}
	listSelectors = []string{
		`[class*="leaderboard"] li`,
		`[class*="leaderboard"] [class*="entry"]`,
		`[class*="ranking"] li`,
	}
)

// Generator builds fingerprints from a live page.
type Generator struct {
	Bounds Bounds
	Now    func() time.Time
}

// NewGenerator returns a Generator with default bounds.
func NewGenerator() *Generator {
	return &Generator{Bounds: DefaultBounds, Now: func() time.Time { return time.Now().UTC() }}
}

// Generate fingerprints page. keywords are the provider names already known
// for the site; clickables mentioning one of them count as switchers.
func (g *Generator) Generate(ctx context.Context, page browser.Page, keywords []string) (*Fingerprint, error) {
	var candidates []Candidate
	if err := page.Evaluate(ctx, ClickablesScript, nil, &candidates); err != nil {
		return nil, eris.Wrap(err, "fingerprint: inspect clickables")
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "fingerprint: read html")
	}
	return g.FromParts(candidates, html, keywords)
}

// FromParts builds a fingerprint from already captured clickables and HTML.
func (g *Generator) FromParts(candidates []Candidate, html string, keywords []string) (*Fingerprint, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "fingerprint: parse html")
	}

	fp := &Fingerprint{CapturedAt: time.Now().UTC()}
	if g.Now != nil {
		fp.CapturedAt = g.Now()
	}
	fp.SwitcherNames, fp.SwitcherCount = g.switchers(candidates, keywords)

	var elements []string
	for _, sel := range podiumSelectors {
		if n := doc.Find(sel); n.Length() >= 2 && n.Length() <= 4 {
			fp.HasPodium = true
			elements = append(elements, describe(n)...)
			break
		}
	}
	for _, sel := range tableSelectors {
		if n := doc.Find(sel); n.Length() > 0 {
			fp.HasTable = true
			elements = append(elements, describe(n.First())...)
			break
		}
	}
	for _, sel := range rowSelectors {
		if n := doc.Find(sel).Length(); n > fp.EntryCount {
			fp.EntryCount = n
		}
	}

	switch {
	case fp.HasPodium && fp.HasTable:
		fp.LayoutType = LayoutPodiumTable
	case fp.HasPodium:
		fp.LayoutType = LayoutPodiumOnly
	case fp.HasTable:
		fp.LayoutType = LayoutTableOnly
	default:
		fp.LayoutType = LayoutUnknown
		for _, sel := range listSelectors {
			if n := doc.Find(sel); n.Length() >= 3 {
				fp.LayoutType = LayoutList
				elements = append(elements, describe(n.First())...)
				break
			}
		}
	}

	fp.Elements = uniqueSorted(elements)
	if len(fp.Elements) > maxElements {
		fp.Elements = fp.Elements[:maxElements]
	}
	fp.Hash = hash(fp)
	return fp, nil
}

// switchers returns the keywords seen on in-bounds clickables and the number
// of such clickables. A clickable counts once however many keywords it names.
func (g *Generator) switchers(candidates []Candidate, keywords []string) ([]string, int) {
	b := g.Bounds
	if b == (Bounds{}) {
		b = DefaultBounds
	}
	found := make(map[string]bool)
	count := 0
	for _, c := range candidates {
		if c.Width < b.MinWidth || c.Width > b.MaxWidth || c.Height < b.MinHeight || c.Height > b.MaxHeight {
			continue
		}
		text := strings.ToLower(c.Text)
		markup := strings.ToLower(c.Markup)
		matched := false
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.Contains(text, kw) || strings.Contains(markup, kw) {
				found[kw] = true
				matched = true
			}
		}
		if matched {
			count++
		}
	}
	names := make([]string, 0, len(found))
	for n := range found {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, count
}

// describe renders up to maxElements nodes as tag.class descriptors.
func describe(sel *goquery.Selection) []string {
	var out []string
	sel.EachWithBreak(func(i int, s *goquery.Selection) bool {
		desc := goquery.NodeName(s)
		if class, ok := s.Attr("class"); ok {
			classes := strings.Fields(class)
			sort.Strings(classes)
			for _, c := range classes {
				desc += "." + c
			}
		}
		out = append(out, desc)
		return i+1 < maxElements
	})
	return out
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// hash digests the canonical summary. Map keys marshal in sorted order.
func hash(fp *Fingerprint) string {
	names := append([]string(nil), fp.SwitcherNames...)
	sort.Strings(names)
	summary := map[string]any{
		"elements":       fp.Elements,
		"layout_type":    fp.LayoutType,
		"switcher_count": fp.SwitcherCount,
		"switcher_names": names,
	}
	data, _ := json.Marshal(summary)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:hashLength]
}

// Record converts the fingerprint to its persisted form.
func (fp *Fingerprint) Record() *model.FingerprintRecord {
	if fp == nil {
		return nil
	}
	return &model.FingerprintRecord{
		Hash:          fp.Hash,
		SwitcherCount: fp.SwitcherCount,
		SwitcherNames: append([]string(nil), fp.SwitcherNames...),
		LayoutType:    string(fp.LayoutType),
		EntryCount:    fp.EntryCount,
		HasPodium:     fp.HasPodium,
		HasTable:      fp.HasTable,
		CapturedAt:    fp.CapturedAt,
	}
}

// FromRecord restores a persisted fingerprint. Elements are not persisted;
// the stored hash still covers them.
func FromRecord(r *model.FingerprintRecord) *Fingerprint {
	if r == nil {
		return nil
	}
	return &Fingerprint{
		Hash:          r.Hash,
		SwitcherCount: r.SwitcherCount,
		SwitcherNames: append([]string(nil), r.SwitcherNames...),
		LayoutType:    LayoutType(r.LayoutType),
		EntryCount:    r.EntryCount,
		HasPodium:     r.HasPodium,
		HasTable:      r.HasTable,
		CapturedAt:    r.CapturedAt,
	}
}
