package profile

import (
	"time"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

// Patch is a partial profile update. Nil fields are left alone. Nested
// records merge field by field, maps merge key by key, and slices replace
// the stored slice wholesale.
type Patch struct {
	Status      *model.ProfileStatus
	Attempts    *int
	MaxAttempts *int
	LLMDisabled *bool
	FlagReason  *string

	Verification      *VerificationPatch
	LayoutFingerprint *model.FingerprintRecord
	Extraction        *ExtractionPatch

	// A nil value removes the leaderboard from the inactive set.
	InactiveLeaderboards map[string]*model.InactiveLeaderboard
	DataSourcePreference map[string]model.SourcePreference

	LearningInstructions      *model.LearningInstructions
	ClearLearningInstructions bool
}

// VerificationPatch updates verification timestamps and confidence.
type VerificationPatch struct {
	FirstVerifiedAt *time.Time
	LastVerifiedAt  *time.Time
	Confidence      *float64
}

// ExtractionPatch updates the learned rule set. Selectors merge per field;
// every other collection replaces what was stored when non-nil.
type ExtractionPatch struct {
	Method           *model.ExtractionMethod
	APIEndpoints     []model.EndpointRule
	Selectors        map[string]string
	ClickSequence    []model.ClickStep
	ProviderKeywords []string
	Farming          *FarmingPatch
}

// FarmingPatch updates historical-period collection settings.
type FarmingPatch struct {
	Enabled         *bool
	PeriodParam     *string
	MaxPeriods      *int
	HistorySelector *string
}

// IsEmpty reports whether applying p would change nothing.
func (p Patch) IsEmpty() bool {
	return p.Status == nil && p.Attempts == nil && p.MaxAttempts == nil && p.LLMDisabled == nil &&
		p.FlagReason == nil && p.Verification == nil && p.LayoutFingerprint == nil && p.Extraction == nil &&
		p.InactiveLeaderboards == nil && p.DataSourcePreference == nil && p.LearningInstructions == nil &&
		!p.ClearLearningInstructions
}

// Apply merges p into sp in place. Bookkeeping fields (version, timestamps)
// are the caller's job.
func (p Patch) Apply(sp *model.SiteProfile) {
	if p.Status != nil {
		sp.Status = *p.Status
	}
	if p.Attempts != nil {
		sp.Attempts = *p.Attempts
	}
	if p.MaxAttempts != nil {
		sp.MaxAttempts = *p.MaxAttempts
	}
	if p.LLMDisabled != nil {
		sp.LLMDisabled = *p.LLMDisabled
	}
	if p.FlagReason != nil {
		sp.FlagReason = *p.FlagReason
	}

	if v := p.Verification; v != nil {
		if v.FirstVerifiedAt != nil {
			t := *v.FirstVerifiedAt
			sp.Verification.FirstVerifiedAt = &t
		}
		if v.LastVerifiedAt != nil {
			t := *v.LastVerifiedAt
			sp.Verification.LastVerifiedAt = &t
		}
		if v.Confidence != nil {
			sp.Verification.Confidence = *v.Confidence
		}
	}

	if p.LayoutFingerprint != nil {
		fp := *p.LayoutFingerprint
		fp.SwitcherNames = append([]string(nil), p.LayoutFingerprint.SwitcherNames...)
		sp.LayoutFingerprint = &fp
	}

	if p.Extraction != nil {
		p.Extraction.apply(&sp.Extraction)
	}

	if p.InactiveLeaderboards != nil {
		if sp.InactiveLeaderboards == nil {
			sp.InactiveLeaderboards = make(map[string]model.InactiveLeaderboard)
		}
		for name, il := range p.InactiveLeaderboards {
			if il == nil {
				delete(sp.InactiveLeaderboards, name)
				continue
			}
			sp.InactiveLeaderboards[name] = *il
		}
	}

	if p.DataSourcePreference != nil {
		if sp.DataSourcePreference == nil {
			sp.DataSourcePreference = make(map[string]model.SourcePreference)
		}
		for name, pref := range p.DataSourcePreference {
			sp.DataSourcePreference[name] = pref
		}
	}

	switch {
	case p.LearningInstructions != nil:
		li := *p.LearningInstructions
		li.Issues = append([]string(nil), p.LearningInstructions.Issues...)
		li.Suggestions = append([]string(nil), p.LearningInstructions.Suggestions...)
		sp.LearningInstructions = &li
	case p.ClearLearningInstructions:
		sp.LearningInstructions = nil
	}
}

func (e *ExtractionPatch) apply(ec *model.ExtractionConfig) {
	if e.Method != nil {
		ec.Method = *e.Method
	}
	if e.APIEndpoints != nil {
		ec.APIEndpoints = model.ExtractionConfig{APIEndpoints: e.APIEndpoints}.Clone().APIEndpoints
	}
	if e.Selectors != nil {
		if ec.Selectors == nil {
			ec.Selectors = make(map[string]string, len(e.Selectors))
		}
		for field, sel := range e.Selectors {
			ec.Selectors[field] = sel
		}
	}
	if e.ClickSequence != nil {
		ec.ClickSequence = append([]model.ClickStep(nil), e.ClickSequence...)
	}
	if e.ProviderKeywords != nil {
		ec.ProviderKeywords = append([]string(nil), e.ProviderKeywords...)
	}
	if f := e.Farming; f != nil {
		if f.Enabled != nil {
			ec.Farming.Enabled = *f.Enabled
		}
		if f.PeriodParam != nil {
			ec.Farming.PeriodParam = *f.PeriodParam
		}
		if f.MaxPeriods != nil {
			ec.Farming.MaxPeriods = *f.MaxPeriods
		}
		if f.HistorySelector != nil {
			ec.Farming.HistorySelector = *f.HistorySelector
		}
	}
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }
