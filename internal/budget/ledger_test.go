package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techdev-loop/leaderboard-sub002/internal/cost"
	"github.com/techdev-loop/leaderboard-sub002/internal/model"
	"github.com/techdev-loop/leaderboard-sub002/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var testRates = cost.Rates{"test-model": {InputPer1K: 0.003, OutputPer1K: 0.015}}

func newTestLedger(t *testing.T, limits Limits, now time.Time) (*Ledger, *fakeClock, *store.FileStore) {
	t.Helper()
	fs := store.NewFileStore(afero.NewMemMapFs(), "data", "data/usage.json", store.FileOptions{LockPoll: time.Millisecond})
	clock := &fakeClock{now: now}
	return NewLedger(fs, cost.NewCalculator(testRates), limits, WithClock(clock.Now)), clock, fs
}

func TestCheckBudget_AllowsFreshLedger(t *testing.T) {
	l, _, _ := newTestLedger(t, Limits{MonthlyBudgetUSD: 50, MaxCallsPerDay: 100, MaxCallsPerSite: 20}, time.Now().UTC())

	d, err := l.CheckBudget(context.Background(), "casino.example")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
}

func TestTrackUsage_ComputesCostAndCounters(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	l, _, fs := newTestLedger(t, Limits{}, now)
	ctx := context.Background()

	u, err := l.TrackUsage(ctx, "casino.example", 2000, 1000, "test-model")
	require.NoError(t, err)
	// 2000/1000*0.003 + 1000/1000*0.015
	assert.InDelta(t, 0.021, u.CostUSD, 1e-9)

	_, err = l.TrackUsage(ctx, "other.example", 1000, 0, "test-model")
	require.NoError(t, err)

	led, err := fs.LoadLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), led.InputTokens)
	assert.Equal(t, int64(1000), led.OutputTokens)
	assert.InDelta(t, 0.024, led.TotalCost, 1e-9)
	assert.Equal(t, int64(2), led.TotalCalls)
	assert.Equal(t, int64(2), led.DailyCalls["2026-10-18"])
	assert.Equal(t, int64(1), led.DomainCalls["casino.example"])
	assert.InDelta(t, 0.021, led.DomainCost["casino.example"], 1e-9)
	assert.Equal(t, 2, led.Version)
}

func TestCheckBudget_DailyLimit(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	l, _, fs := newTestLedger(t, Limits{MonthlyBudgetUSD: 50, MaxCallsPerDay: 100, MaxCallsPerSite: 1000}, now)
	ctx := context.Background()

	led := model.NewUsageLedger(now)
	led.Version = 1
	led.DailyCalls[model.DayKey(now)] = 100
	require.NoError(t, fs.SaveLedger(ctx, led, 0))

	d, err := l.CheckBudget(ctx, "casino.example")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyLimit, d.Reason)
}

func TestCheckBudget_SiteLimitOnlyWithDomain(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	l, _, fs := newTestLedger(t, Limits{MaxCallsPerSite: 2}, now)
	ctx := context.Background()

	led := model.NewUsageLedger(now)
	led.Version = 1
	led.DomainCalls["casino.example"] = 2
	require.NoError(t, fs.SaveLedger(ctx, led, 0))

	d, err := l.CheckBudget(ctx, "casino.example")
	require.NoError(t, err)
	assert.Equal(t, Decision{Reason: ReasonSiteLimit}, d)

	d, err = l.CheckBudget(ctx, "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.CheckBudget(ctx, "other.example")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckBudget_MonthlyDeniedUntilRollover(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	l, clock, fs := newTestLedger(t, Limits{MonthlyBudgetUSD: 10, MaxCallsPerDay: 1, MaxCallsPerSite: 1}, now)
	ctx := context.Background()

	led := model.NewUsageLedger(now)
	led.Version = 1
	led.TotalCost = 10
	led.DailyCalls[model.DayKey(now)] = 5
	require.NoError(t, fs.SaveLedger(ctx, led, 0))

	// Monthly ceiling takes precedence over the others, for any domain.
	for _, domain := range []string{"", "casino.example", "other.example"} {
		d, err := l.CheckBudget(ctx, domain)
		require.NoError(t, err)
		assert.Equal(t, ReasonMonthlyBudget, d.Reason, domain)
	}

	clock.Set(time.Date(2026, 10, 31, 23, 59, 0, 0, time.UTC))
	d, err := l.CheckBudget(ctx, "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	clock.Set(time.Date(2026, 11, 1, 0, 0, 1, 0, time.UTC))
	d, err = l.CheckBudget(ctx, "casino.example")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestTrackUsage_RolloverStartsFreshLedger(t *testing.T) {
	now := time.Date(2026, 10, 31, 23, 0, 0, 0, time.UTC)
	l, clock, fs := newTestLedger(t, Limits{}, now)
	ctx := context.Background()

	_, err := l.TrackUsage(ctx, "casino.example", 1000, 1000, "test-model")
	require.NoError(t, err)

	clock.Set(now.Add(2 * time.Hour))
	_, err = l.TrackUsage(ctx, "casino.example", 1000, 0, "test-model")
	require.NoError(t, err)

	led, err := fs.LoadLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-11", led.Month)
	assert.Equal(t, int64(1), led.TotalCalls)
	assert.InDelta(t, 0.003, led.TotalCost, 1e-9)
}

func TestTrackUsage_ConcurrentLedgersShareStore(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	fs := store.NewFileStore(afero.NewMemMapFs(), "data", "", store.FileOptions{LockPoll: time.Millisecond})
	calc := cost.NewCalculator(testRates)
	clock := func() time.Time { return now }

	// Two ledgers over one store behave like two processes.
	a := NewLedger(fs, calc, Limits{}, WithClock(clock))
	b := NewLedger(fs, calc, Limits{}, WithClock(clock))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = a.TrackUsage(context.Background(), "a.example", 100, 0, "test-model") }()
		go func() { defer wg.Done(); _, _ = b.TrackUsage(context.Background(), "b.example", 100, 0, "test-model") }()
	}
	wg.Wait()

	st, err := a.Status(context.Background(), "a.example")
	require.NoError(t, err)
	assert.Equal(t, int64(8), st.TotalCalls)
	assert.Equal(t, int64(4), st.DomainCalls)
}

func TestStatus(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	l, _, _ := newTestLedger(t, Limits{MonthlyBudgetUSD: 1}, now)
	ctx := context.Background()

	_, err := l.TrackUsage(ctx, "casino.example", 10000, 10000, "test-model")
	require.NoError(t, err)

	st, err := l.Status(ctx, "casino.example")
	require.NoError(t, err)
	assert.Equal(t, "2026-10", st.Month)
	assert.Equal(t, int64(1), st.TodayCalls)
	assert.InDelta(t, 0.18, st.TotalCost, 1e-9)
	assert.InDelta(t, 0.82, st.Remaining, 1e-9)
	assert.Equal(t, int64(1), st.DomainCalls)
}
