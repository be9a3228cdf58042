// Package budget gates every oracle call against monthly, daily and per-site
// spending ceilings and records usage after each successful call.
package budget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/techdev-loop/leaderboard-sub002/internal/cost"
	"github.com/techdev-loop/leaderboard-sub002/internal/model"
	"github.com/techdev-loop/leaderboard-sub002/internal/store"
)

// Denial reasons returned by CheckBudget.
const (
	ReasonMonthlyBudget = "monthly_budget_exceeded"
	ReasonDailyLimit    = "daily_limit_exceeded"
	ReasonSiteLimit     = "site_limit_exceeded"
)

const maxSaveRetries = 8

// Limits are the spending ceilings. A zero value disables that ceiling.
type Limits struct {
	MonthlyBudgetUSD float64
	MaxCallsPerDay   int64
	MaxCallsPerSite  int64
}

// Decision is the outcome of a budget check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Status summarises the current month for reporting.
type Status struct {
	Month        string  `json:"month" yaml:"month"`
	TotalCost    float64 `json:"total_cost" yaml:"total_cost"`
	TotalCalls   int64   `json:"total_calls" yaml:"total_calls"`
	InputTokens  int64   `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int64   `json:"output_tokens" yaml:"output_tokens"`
	TodayCalls   int64   `json:"today_calls" yaml:"today_calls"`
	Remaining    float64 `json:"remaining_usd" yaml:"remaining_usd"`
	Domain       string  `json:"domain,omitempty" yaml:"domain,omitempty"`
	DomainCalls  int64   `json:"domain_calls,omitempty" yaml:"domain_calls,omitempty"`
	DomainCost   float64 `json:"domain_cost,omitempty" yaml:"domain_cost,omitempty"`
}

// Usage is what a single call cost.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Ledger tracks oracle spend for the current calendar month.
type Ledger struct {
	persist store.LedgerStore
	calc    *cost.Calculator
	limits  Limits
	now     func() time.Time

	mu sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger persisted through ls.
func NewLedger(ls store.LedgerStore, calc *cost.Calculator, limits Limits, opts ...Option) *Ledger {
	l := &Ledger{
		persist: ls,
		calc:    calc,
		limits:  limits,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// load returns the stored ledger, or a fresh one when none exists or the
// stored month is not the current month. The second return is the stored
// version to pass to SaveLedger.
func (l *Ledger) load(ctx context.Context, now time.Time) (*model.UsageLedger, int, error) {
	led, err := l.persist.LoadLedger(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return model.NewUsageLedger(now), 0, nil
	}
	if err != nil {
		return nil, 0, eris.Wrap(err, "budget: load ledger")
	}
	if led.Month != model.MonthKey(now) {
		zap.L().Info("budget: month rollover, starting fresh ledger",
			zap.String("previous_month", led.Month),
			zap.String("month", model.MonthKey(now)),
			zap.Float64("previous_cost", led.TotalCost),
		)
		return model.NewUsageLedger(now), 0, nil
	}
	led.EnsureMaps()
	return led, led.Version, nil
}

// CheckBudget decides whether one more oracle call is allowed. Pass an empty
// domain to skip the per-site ceiling.
func (l *Ledger) CheckBudget(ctx context.Context, domain string) (Decision, error) {
	now := l.now()
	led, _, err := l.load(ctx, now)
	if err != nil {
		return Decision{}, err
	}

	d := decide(led, l.limits, domain, now)
	if !d.Allowed {
		zap.L().Warn("budget: oracle call denied",
			zap.String("domain", domain),
			zap.String("reason", d.Reason),
			zap.Float64("month_cost", led.TotalCost),
			zap.Int64("today_calls", led.DailyCalls[model.DayKey(now)]),
		)
	}
	return d, nil
}

func decide(led *model.UsageLedger, lim Limits, domain string, now time.Time) Decision {
	if lim.MonthlyBudgetUSD > 0 && led.TotalCost >= lim.MonthlyBudgetUSD {
		return Decision{Reason: ReasonMonthlyBudget}
	}
	if lim.MaxCallsPerDay > 0 && led.DailyCalls[model.DayKey(now)] >= lim.MaxCallsPerDay {
		return Decision{Reason: ReasonDailyLimit}
	}
	if domain != "" && lim.MaxCallsPerSite > 0 && led.DomainCalls[domain] >= lim.MaxCallsPerSite {
		return Decision{Reason: ReasonSiteLimit}
	}
	return Decision{Allowed: true}
}

// TrackUsage prices one call with the model's rate and adds it to every
// counter. Concurrent writers are reconciled by reloading on version
// conflict, so no call is ever dropped from the ledger.
func (l *Ledger) TrackUsage(ctx context.Context, domain string, inputTokens, outputTokens int64, modelName string) (Usage, error) {
	u := Usage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      l.calc.Call(modelName, inputTokens, outputTokens),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		now := l.now()
		led, version, err := l.load(ctx, now)
		if err != nil {
			return u, err
		}
		apply(led, domain, u, now)
		led.Version = version + 1

		err = l.persist.SaveLedger(ctx, led, version)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return u, eris.Wrap(err, "budget: save ledger")
		}
		lastErr = err
		zap.L().Debug("budget: ledger version conflict, retrying", zap.Int("attempt", attempt+1))
	}
	return u, eris.Wrapf(lastErr, "budget: save ledger after %d attempts", maxSaveRetries)
}

func apply(led *model.UsageLedger, domain string, u Usage, now time.Time) {
	led.InputTokens += u.InputTokens
	led.OutputTokens += u.OutputTokens
	led.TotalCost += u.CostUSD
	led.TotalCalls++
	led.DailyCalls[model.DayKey(now)]++
	if domain != "" {
		led.DomainCalls[domain]++
		led.DomainCost[domain] += u.CostUSD
	}
	led.UpdatedAt = now
}

// Status reports the current month's totals, optionally for one domain.
func (l *Ledger) Status(ctx context.Context, domain string) (Status, error) {
	now := l.now()
	led, _, err := l.load(ctx, now)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Month:        led.Month,
		TotalCost:    led.TotalCost,
		TotalCalls:   led.TotalCalls,
		InputTokens:  led.InputTokens,
		OutputTokens: led.OutputTokens,
		TodayCalls:   led.DailyCalls[model.DayKey(now)],
		Domain:       domain,
	}
	if l.limits.MonthlyBudgetUSD > 0 {
		st.Remaining = l.limits.MonthlyBudgetUSD - led.TotalCost
		if st.Remaining < 0 {
			st.Remaining = 0
		}
	}
	if domain != "" {
		st.DomainCalls = led.DomainCalls[domain]
		st.DomainCost = led.DomainCost[domain]
	}
	return st, nil
}
