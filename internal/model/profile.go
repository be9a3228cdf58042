package model

import "time"

// ProfileSchemaVersion is the on-disk layout version of SiteProfile.
const ProfileSchemaVersion = 2

// ProfileStatus is the learning state of a site.
type ProfileStatus string

const (
	StatusNew                 ProfileStatus = "new"
	StatusPendingVerification ProfileStatus = "pending_verification"
	StatusLearning            ProfileStatus = "learning"
	StatusVerified            ProfileStatus = "verified"
	StatusFlaggedForReview    ProfileStatus = "flagged_for_review"
	StatusLayoutChanged       ProfileStatus = "layout_changed"
)

// Valid reports whether s is a known status.
func (s ProfileStatus) Valid() bool {
	switch s {
	case StatusNew, StatusPendingVerification, StatusLearning, StatusVerified,
		StatusFlaggedForReview, StatusLayoutChanged:
		return true
	}
	return false
}

// ExtractionMethod selects how entries are pulled from a site.
type ExtractionMethod string

const (
	MethodAPI    ExtractionMethod = "api"
	MethodDOM    ExtractionMethod = "dom"
	MethodHybrid ExtractionMethod = "hybrid"
)

// SiteProfile is the durable per-domain learning record.
type SiteProfile struct {
	Domain        string        `json:"domain"`
	SchemaVersion int           `json:"schema_version"`
	Version       int           `json:"version"`
	Status        ProfileStatus `json:"status"`
	Attempts      int           `json:"attempts"`
	MaxAttempts   int           `json:"max_attempts"`
	LLMDisabled   bool          `json:"llm_disabled"`
	FlagReason    string        `json:"flag_reason,omitempty"`

	Spend        OracleSpend  `json:"spend"`
	Verification Verification `json:"verification"`

	LayoutFingerprint *FingerprintRecord `json:"layout_fingerprint,omitempty"`
	Extraction        ExtractionConfig   `json:"extraction"`

	InactiveLeaderboards map[string]InactiveLeaderboard `json:"inactive_leaderboards,omitempty"`
	DataSourcePreference map[string]SourcePreference    `json:"data_source_preference,omitempty"`
	LearningInstructions *LearningInstructions          `json:"learning_instructions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OracleSpend accumulates oracle usage attributed to one site.
type OracleSpend struct {
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Verification records when a site's rules were last confirmed.
type Verification struct {
	FirstVerifiedAt *time.Time `json:"first_verified_at,omitempty"`
	LastVerifiedAt  *time.Time `json:"last_verified_at,omitempty"`
	Confidence      float64    `json:"confidence"`
}

// FingerprintRecord is the persisted form of a layout fingerprint.
type FingerprintRecord struct {
	Hash          string    `json:"hash"`
	SwitcherCount int       `json:"switcher_count"`
	SwitcherNames []string  `json:"switcher_names,omitempty"`
	LayoutType    string    `json:"layout_type"`
	EntryCount    int       `json:"entry_count"`
	HasPodium     bool      `json:"has_podium"`
	HasTable      bool      `json:"has_table"`
	CapturedAt    time.Time `json:"captured_at"`
}

// ExtractionConfig is the reusable rule set discovered for a site.
type ExtractionConfig struct {
	Method           ExtractionMethod  `json:"method,omitempty"`
	APIEndpoints     []EndpointRule    `json:"api_endpoints,omitempty"`
	Selectors        map[string]string `json:"selectors,omitempty"`
	ClickSequence    []ClickStep       `json:"click_sequence,omitempty"`
	ProviderKeywords []string          `json:"provider_keywords,omitempty"`
	Farming          FarmingConfig     `json:"farming"`
}

// EndpointRule is an API URL template plus placeholder substitutions,
// e.g. "/api/leaderboard/{provider}" with {"provider": "lowercase"}.
type EndpointRule struct {
	Template     string            `json:"template"`
	Placeholders map[string]string `json:"placeholders,omitempty"`
	Leaderboard  string            `json:"leaderboard,omitempty"`
}

// ClickStep selects one switcher in a navigation sequence.
type ClickStep struct {
	Keyword  string `json:"keyword"`
	Selector string `json:"selector,omitempty"`
	X        int    `json:"x,omitempty"`
	Y        int    `json:"y,omitempty"`
	WaitMs   int    `json:"wait_ms,omitempty"`
}

// FarmingConfig controls collection of historical leaderboard periods.
type FarmingConfig struct {
	Enabled         bool   `json:"enabled"`
	PeriodParam     string `json:"period_param,omitempty"`
	MaxPeriods      int    `json:"max_periods,omitempty"`
	HistorySelector string `json:"history_selector,omitempty"`
}

// InactiveLeaderboard marks a sub-leaderboard as unreachable until RetryAfter.
type InactiveLeaderboard struct {
	Reason     string    `json:"reason"`
	MarkedAt   time.Time `json:"marked_at"`
	RetryAfter time.Time `json:"retry_after"`
}

// SourcePreference records which competing source wins for a leaderboard.
type SourcePreference struct {
	Source     string    `json:"source"`
	Reason     string    `json:"reason,omitempty"`
	Confidence float64   `json:"confidence"`
	DecidedAt  time.Time `json:"decided_at"`
}

// LearningInstructions carries data-quality findings into the next oracle attempt.
type LearningInstructions struct {
	ID          string    `json:"id"`
	Issues      []string  `json:"issues"`
	Suggestions []string  `json:"suggestions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewSiteProfile returns the default profile for a domain seen for the first time.
func NewSiteProfile(domain string, maxAttempts int, now time.Time) *SiteProfile {
	return &SiteProfile{
		Domain:        domain,
		SchemaVersion: ProfileSchemaVersion,
		Status:        StatusNew,
		MaxAttempts:   maxAttempts,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsLeaderboardActive reports whether the named leaderboard may be scraped at now.
func (p *SiteProfile) IsLeaderboardActive(name string, now time.Time) bool {
	il, ok := p.InactiveLeaderboards[name]
	if !ok {
		return true
	}
	return !now.Before(il.RetryAfter)
}

// Clone returns a deep copy of the profile.
func (p *SiteProfile) Clone() *SiteProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Verification = cloneVerification(p.Verification)
	if p.LayoutFingerprint != nil {
		fp := *p.LayoutFingerprint
		fp.SwitcherNames = append([]string(nil), p.LayoutFingerprint.SwitcherNames...)
		c.LayoutFingerprint = &fp
	}
	c.Extraction = p.Extraction.Clone()
	if p.InactiveLeaderboards != nil {
		c.InactiveLeaderboards = make(map[string]InactiveLeaderboard, len(p.InactiveLeaderboards))
		for k, v := range p.InactiveLeaderboards {
			c.InactiveLeaderboards[k] = v
		}
	}
	if p.DataSourcePreference != nil {
		c.DataSourcePreference = make(map[string]SourcePreference, len(p.DataSourcePreference))
		for k, v := range p.DataSourcePreference {
			c.DataSourcePreference[k] = v
		}
	}
	if p.LearningInstructions != nil {
		li := *p.LearningInstructions
		li.Issues = append([]string(nil), p.LearningInstructions.Issues...)
		li.Suggestions = append([]string(nil), p.LearningInstructions.Suggestions...)
		c.LearningInstructions = &li
	}
	return &c
}

// Clone returns a deep copy of the extraction config.
func (e ExtractionConfig) Clone() ExtractionConfig {
	c := e
	if e.APIEndpoints != nil {
		c.APIEndpoints = make([]EndpointRule, len(e.APIEndpoints))
		for i, ep := range e.APIEndpoints {
			c.APIEndpoints[i] = ep
			if ep.Placeholders != nil {
				c.APIEndpoints[i].Placeholders = make(map[string]string, len(ep.Placeholders))
				for k, v := range ep.Placeholders {
					c.APIEndpoints[i].Placeholders[k] = v
				}
			}
		}
	}
	if e.Selectors != nil {
		c.Selectors = make(map[string]string, len(e.Selectors))
		for k, v := range e.Selectors {
			c.Selectors[k] = v
		}
	}
	c.ClickSequence = append([]ClickStep(nil), e.ClickSequence...)
	c.ProviderKeywords = append([]string(nil), e.ProviderKeywords...)
	return c
}

func cloneVerification(v Verification) Verification {
	c := v
	if v.FirstVerifiedAt != nil {
		t := *v.FirstVerifiedAt
		c.FirstVerifiedAt = &t
	}
	if v.LastVerifiedAt != nil {
		t := *v.LastVerifiedAt
		c.LastVerifiedAt = &t
	}
	return c
}

// FlaggedSite is one entry in the manual-review registry.
type FlaggedSite struct {
	Domain    string    `json:"domain"`
	Reason    string    `json:"reason"`
	FlaggedAt time.Time `json:"flagged_at"`
	Resolved  bool      `json:"resolved"`
}
