package model

import "time"

// Entry is one ranked row of a leaderboard.
type Entry struct {
	Rank     int     `json:"rank"`
	Username string  `json:"username"`
	Wager    float64 `json:"wager"`
	Prize    float64 `json:"prize"`
	Source   string  `json:"source,omitempty"` // api, dom, ocr, oracle
}

// Leaderboard is the scraped content of one named sub-leaderboard.
type Leaderboard struct {
	Name       string  `json:"name"`
	Entries    []Entry `json:"entries"`
	Method     string  `json:"method,omitempty"`
	Confidence float64 `json:"confidence"`
	Corrected  bool    `json:"corrected,omitempty"`
}

// APICapture is a network response observed while rendering the page.
type APICapture struct {
	URL        string `json:"url"`
	Status     int    `json:"status"`
	BodySample string `json:"body_sample,omitempty"`
}

// ConsensusStats summarises agreement between competing extraction sources.
type ConsensusStats struct {
	AgreementRate     float64 `json:"agreement_rate"` // 0..1
	VerifiedCount     int     `json:"verified_count"`
	SingleSourceCount int     `json:"single_source_count"`
	UniqueCount       int     `json:"unique_count"`
}

// ExtractionResult is what the scraper produced for one site visit.
type ExtractionResult struct {
	Domain       string          `json:"domain"`
	URL          string          `json:"url"`
	Leaderboards []Leaderboard   `json:"leaderboards"`
	Confidence   float64         `json:"confidence"`
	Consensus    *ConsensusStats `json:"consensus,omitempty"`
	APICaptures  []APICapture    `json:"api_captures,omitempty"`
	Keywords     []string        `json:"keywords,omitempty"`
	ScrapedAt    time.Time       `json:"scraped_at"`
}

// Leaderboard returns the named leaderboard, or nil.
func (r *ExtractionResult) Leaderboard(name string) *Leaderboard {
	for i := range r.Leaderboards {
		if r.Leaderboards[i].Name == name {
			return &r.Leaderboards[i]
		}
	}
	return nil
}

// TotalEntries counts entries across all leaderboards.
func (r *ExtractionResult) TotalEntries() int {
	n := 0
	for _, lb := range r.Leaderboards {
		n += len(lb.Entries)
	}
	return n
}

// Clone returns a deep copy of the result.
func (r *ExtractionResult) Clone() *ExtractionResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Leaderboards = make([]Leaderboard, len(r.Leaderboards))
	for i, lb := range r.Leaderboards {
		c.Leaderboards[i] = lb
		c.Leaderboards[i].Entries = append([]Entry(nil), lb.Entries...)
	}
	if r.Consensus != nil {
		cs := *r.Consensus
		c.Consensus = &cs
	}
	c.APICaptures = append([]APICapture(nil), r.APICaptures...)
	c.Keywords = append([]string(nil), r.Keywords...)
	return &c
}
