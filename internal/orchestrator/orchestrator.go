// Package orchestrator decides when a site needs the oracle, runs the quick
// and exploratory learning phases, and persists what was learned.
package orchestrator

import (
	"context"
	"time"

	"dario.cat/mergo"

	"github.com/techdev-loop/leaderboard-sub002/internal/anomaly"
	"github.com/techdev-loop/leaderboard-sub002/internal/browser"
	"github.com/techdev-loop/leaderboard-sub002/internal/fingerprint"
	"github.com/techdev-loop/leaderboard-sub002/internal/metrics"
	"github.com/techdev-loop/leaderboard-sub002/internal/model"
	"github.com/techdev-loop/leaderboard-sub002/internal/oracle"
	"github.com/techdev-loop/leaderboard-sub002/internal/profile"
)

// Oracle is the subset of oracle.Client the orchestrator uses.
type Oracle interface {
	Available() bool
	Call(ctx context.Context, req oracle.Request) (*oracle.Response, error)
}

// Fingerprinter produces a layout fingerprint for a page.
type Fingerprinter interface {
	Generate(ctx context.Context, page browser.Page, keywords []string) (*fingerprint.Fingerprint, error)
}

// ConsensusThresholds define severe disagreement between extraction sources.
type ConsensusThresholds struct {
	MinAgreement         float64 // agreement rate below this is severe
	SingleSourceRatio    float64 // single-source entries above this multiple of verified ones is severe
	MinVerified          int     // fewer verified entries than this ...
	MinUniqueForVerified int     // ... while at least this many unique entries exist is severe
}

// Config tunes the orchestrator. Zero fields take DefaultConfig values.
type Config struct {
	Disabled               bool
	Model                  string
	MaxTokens              int
	MinConfidence          float64
	VerifiedConfidence     float64
	MaxIterations          int
	VisualReverifyCooldown time.Duration
	FingerprintMaxAge      time.Duration
	APICaptureSample       int
	Consensus              ConsensusThresholds
}

// DefaultConfig holds the orchestrator defaults.
var DefaultConfig = Config{
	MaxTokens:              4096,
	MinConfidence:          80,
	VerifiedConfidence:     85,
	MaxIterations:          5,
	VisualReverifyCooldown: 24 * time.Hour,
	FingerprintMaxAge:      30 * 24 * time.Hour,
	APICaptureSample:       5,
	Consensus: ConsensusThresholds{
		MinAgreement:         0.30,
		SingleSourceRatio:    2,
		MinVerified:          3,
		MinUniqueForVerified: 5,
	},
}

// Deps are the collaborators of an Orchestrator. Oracle may be nil when no
// provider is configured.
type Deps struct {
	Oracle        Oracle
	Profiles      *profile.Store
	Detector      *anomaly.Detector
	Fingerprinter Fingerprinter
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

// Orchestrator ties the learning components together.
type Orchestrator struct {
	cfg      Config
	oracle   Oracle
	profiles *profile.Store
	detector *anomaly.Detector
	fp       Fingerprinter
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	_ = mergo.Merge(&cfg, DefaultConfig)
	if deps.Detector == nil {
		deps.Detector = anomaly.New(anomaly.Thresholds{}, deps.Metrics)
	}
	if deps.Fingerprinter == nil {
		deps.Fingerprinter = fingerprint.NewGenerator()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		cfg:      cfg,
		oracle:   deps.Oracle,
		profiles: deps.Profiles,
		detector: deps.Detector,
		fp:       deps.Fingerprinter,
		metrics:  deps.Metrics,
		now:      deps.Now,
	}
}

// Reason explains a ShouldInvoke decision.
type Reason string

const (
	ReasonDisabled               Reason = "disabled"
	ReasonOracleUnavailable      Reason = "oracle_unavailable"
	ReasonNewSite                Reason = "new_site"
	ReasonFlagged                Reason = "flagged_for_review"
	ReasonLLMDisabled            Reason = "llm_disabled"
	ReasonConsensusDisagreement  Reason = "consensus_disagreement"
	ReasonAnomalyDetected        Reason = "anomaly_detected"
	ReasonVerifiedHighConfidence Reason = "verified_high_confidence"
	ReasonLayoutChanged          Reason = "layout_changed"
	ReasonLearning               Reason = "learning"
	ReasonLowConfidence          Reason = "low_confidence"
	ReasonNoAction               Reason = "no_action"
)

// Decision is the outcome of ShouldInvoke.
type Decision struct {
	Invoke bool
	Reason Reason
}

// ShouldInvoke decides whether the oracle should look at this site now.
// res and report may be nil.
func (o *Orchestrator) ShouldInvoke(p *model.SiteProfile, res *model.ExtractionResult, report *anomaly.Report) Decision {
	switch {
	case o.cfg.Disabled:
		return Decision{Reason: ReasonDisabled}
	case o.oracle == nil || !o.oracle.Available():
		return Decision{Reason: ReasonOracleUnavailable}
	case p.Status == model.StatusFlaggedForReview:
		return Decision{Reason: ReasonFlagged}
	case p.LLMDisabled:
		return Decision{Reason: ReasonLLMDisabled}
	case p.Status == model.StatusNew:
		return Decision{Invoke: true, Reason: ReasonNewSite}
	}

	if res != nil && o.severeDisagreement(res.Consensus) {
		return Decision{Invoke: true, Reason: ReasonConsensusDisagreement}
	}

	needsLook := report != nil && report.RequiresVerification
	if p.Status == model.StatusVerified {
		if needsLook && o.reverifyDue(p) {
			return Decision{Invoke: true, Reason: ReasonAnomalyDetected}
		}
		if p.Verification.Confidence >= o.cfg.MinConfidence {
			return Decision{Reason: ReasonVerifiedHighConfidence}
		}
	}

	confidence := p.Verification.Confidence
	if res != nil {
		confidence = res.Confidence
	}
	switch {
	case p.Status == model.StatusLayoutChanged:
		return Decision{Invoke: true, Reason: ReasonLayoutChanged}
	case p.Status == model.StatusLearning:
		return Decision{Invoke: true, Reason: ReasonLearning}
	case confidence < o.cfg.MinConfidence:
		return Decision{Invoke: true, Reason: ReasonLowConfidence}
	case needsLook && p.Status != model.StatusVerified:
		return Decision{Invoke: true, Reason: ReasonAnomalyDetected}
	}
	return Decision{Reason: ReasonNoAction}
}

func (o *Orchestrator) reverifyDue(p *model.SiteProfile) bool {
	last := p.Verification.LastVerifiedAt
	return last == nil || o.now().Sub(*last) >= o.cfg.VisualReverifyCooldown
}

func (o *Orchestrator) severeDisagreement(cs *model.ConsensusStats) bool {
	if cs == nil || (cs.VerifiedCount == 0 && cs.SingleSourceCount == 0 && cs.UniqueCount == 0) {
		return false
	}
	th := o.cfg.Consensus
	switch {
	case cs.AgreementRate < th.MinAgreement:
		return true
	case cs.SingleSourceCount > 0 && float64(cs.SingleSourceCount) > th.SingleSourceRatio*float64(cs.VerifiedCount):
		return true
	case cs.VerifiedCount < th.MinVerified && cs.UniqueCount >= th.MinUniqueForVerified:
		return true
	}
	return false
}
