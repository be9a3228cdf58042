// Package anomaly checks extracted leaderboards for data-quality problems:
// duplicate rows, stale sources and implausible prize or wager columns.
package anomaly

import (
	"dario.cat/mergo"

	"github.com/techdev-loop/leaderboard-sub002/internal/metrics"
)

// Severity grades an anomaly.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Code identifies the kind of anomaly.
type Code string

const (
	CodeDuplicateEntries     Code = "DUPLICATE_ENTRIES"
	CodeDuplicateRank        Code = "DUPLICATE_RANK"
	CodeNearDuplicateNames   Code = "NEAR_DUPLICATE_USERNAMES"
	CodeCrossScrapeIdentical Code = "CROSS_SCRAPE_IDENTICAL"
	CodePrizeHigh            Code = "ABNORMAL_PRIZE_HIGH"
	CodePrizeExceedsWager    Code = "PRIZE_EXCEEDS_WAGER"
	CodeLowFirstPrize        Code = "LOW_FIRST_PLACE_PRIZE"
	CodePrizeOrderInverted   Code = "PRIZE_ORDER_INVERTED"
	CodeNoWagers             Code = "NO_WAGERS"
	CodeWagerHigh            Code = "ABNORMAL_WAGER_HIGH"
	CodeIdenticalWagers      Code = "IDENTICAL_WAGERS"
	CodeWagerOrderInverted   Code = "WAGER_ORDER_INVERTED"
	CodeEntryCountDrop       Code = "ENTRY_COUNT_DROP"
	CodeWagerScaleShift      Code = "WAGER_SCALE_SHIFT"
)

// learningCodes point at broken extraction rules rather than bad luck.
var learningCodes = map[Code]bool{
	CodeDuplicateEntries:   true,
	CodeDuplicateRank:      true,
	CodePrizeExceedsWager:  true,
	CodePrizeOrderInverted: true,
	CodeNoWagers:           true,
	CodeIdenticalWagers:    true,
	CodeWagerOrderInverted: true,
	CodeWagerScaleShift:    true,
}

// Anomaly is one finding.
type Anomaly struct {
	Code         Code     `json:"code"`
	Severity     Severity `json:"severity"`
	Details      string   `json:"details"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
	Leaderboard  string   `json:"leaderboard,omitempty"`
}

// Thresholds tune the detector. Zero fields take DefaultThresholds values.
type Thresholds struct {
	MaxPrize              float64 // absolute prize ceiling
	PrizeNearCeiling      float64 // fraction of MaxPrize that is already suspicious
	MinFirstPrize         float64
	PrizeFloor            float64 // prize/wager ratio only checked above this prize
	PrizeWagerRatio       float64
	MaxWager              float64
	IdentityOverlap       float64 // fraction of shared fingerprints that marks a stale source
	NearDuplicateDistance int
	MinNearDuplicateLen   int
}

// DefaultThresholds are the detector defaults.
var DefaultThresholds = Thresholds{
	MaxPrize:              100000,
	PrizeNearCeiling:      0.9,
	MinFirstPrize:         10,
	PrizeFloor:            100,
	PrizeWagerRatio:       2,
	MaxWager:              1e9,
	IdentityOverlap:       0.95,
	NearDuplicateDistance: 1,
	MinNearDuplicateLen:   5,
}

// Detector runs the checks with one set of thresholds.
type Detector struct {
	th      Thresholds
	metrics *metrics.Metrics
}

// New returns a Detector. m may be nil.
func New(th Thresholds, m *metrics.Metrics) *Detector {
	_ = mergo.Merge(&th, DefaultThresholds)
	return &Detector{th: th, metrics: m}
}

// Thresholds returns the effective thresholds.
func (d *Detector) Thresholds() Thresholds { return d.th }
