package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/techdev-loop/leaderboard-sub002/internal/anomaly"
	"github.com/techdev-loop/leaderboard-sub002/internal/budget"
	"github.com/techdev-loop/leaderboard-sub002/internal/config"
	"github.com/techdev-loop/leaderboard-sub002/internal/cost"
	"github.com/techdev-loop/leaderboard-sub002/internal/metrics"
	"github.com/techdev-loop/leaderboard-sub002/internal/oracle"
	"github.com/techdev-loop/leaderboard-sub002/internal/orchestrator"
	"github.com/techdev-loop/leaderboard-sub002/internal/profile"
	"github.com/techdev-loop/leaderboard-sub002/internal/resilience"
	"github.com/techdev-loop/leaderboard-sub002/internal/store"
	anthropicpkg "github.com/techdev-loop/leaderboard-sub002/pkg/anthropic"
	openaipkg "github.com/techdev-loop/leaderboard-sub002/pkg/openai"
)

// app holds the wired components for one command invocation.
type app struct {
	Store        store.Store
	Profiles     *profile.Store
	Ledger       *budget.Ledger
	Oracle       *oracle.Client
	Metrics      *metrics.Metrics
	Orchestrator *orchestrator.Orchestrator
}

// Close releases the store.
func (a *app) Close() error {
	return a.Store.Close()
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "file", "":
		st = store.NewOSFileStore(c.Store.Dir, c.Budget.LedgerPath)
	case "sqlite":
		st, err = store.NewSQLite(c.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initTransport returns nil when the oracle is disabled or has no key; the
// client then reports itself unavailable and learning is skipped.
func initTransport(c config.OracleConfig) oracle.Transport {
	if !c.Enabled {
		return nil
	}
	if !c.HasCredentials() {
		zap.L().Warn("oracle credentials not set, learning disabled", zap.String("provider", c.Provider))
		return nil
	}
	switch c.Provider {
	case "openai":
		return oracle.NewOpenAITransport(openaipkg.NewClient(c.OpenAIKey, ""))
	default:
		return oracle.NewAnthropicTransport(anthropicpkg.NewClient(c.AnthropicKey))
	}
}

func newApp(ctx context.Context, c *config.Config) (*app, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if c.Metrics.Enabled {
		m = metrics.New(c.Metrics.Namespace)
	}

	ledger := budget.NewLedger(st, cost.NewCalculator(c.Pricing), budget.Limits{
		MonthlyBudgetUSD: c.Budget.MonthlyBudgetUSD,
		MaxCallsPerDay:   c.Budget.MaxCallsPerDay,
		MaxCallsPerSite:  c.Budget.MaxCallsPerSite,
	})

	client := oracle.NewClient(initTransport(c.Oracle), ledger, oracle.Options{
		Model:             c.Oracle.Model,
		MaxTokensPerCall:  c.Oracle.MaxTokensPerCall,
		RequestsPerMinute: c.Oracle.RequestsPerMinute,
		Retry:             resilience.FromOracleConfig(c.Oracle.RetryAttempts, c.Oracle.RetryBackoffMs),
		Metrics:           m,
	})

	profiles := profile.New(st, profile.Options{
		MaxAttempts:      c.Learning.MaxAttempts,
		InactiveCooldown: c.Learning.InactiveRetryCooldown,
		Metrics:          m,
	})

	detector := anomaly.New(anomaly.Thresholds{
		MaxPrize:              c.Anomaly.MaxPrize,
		MinFirstPrize:         c.Anomaly.MinFirstPrize,
		PrizeFloor:            c.Anomaly.PrizeFloor,
		PrizeWagerRatio:       c.Anomaly.PrizeWagerRatio,
		MaxWager:              c.Anomaly.MaxWager,
		IdentityOverlap:       c.Anomaly.IdentityOverlap,
		NearDuplicateDistance: c.Anomaly.NearDuplicateDistance,
	}, m)

	orch := orchestrator.New(orchestrator.Deps{
		Oracle:   client,
		Profiles: profiles,
		Detector: detector,
		Metrics:  m,
	}, orchestrator.Config{
		Disabled:               !c.Oracle.Enabled,
		Model:                  c.Oracle.Model,
		MaxTokens:              c.Oracle.MaxTokensPerCall,
		MinConfidence:          c.Learning.MinConfidence,
		VerifiedConfidence:     c.Learning.VerifiedConfidence,
		MaxIterations:          c.Learning.MaxIterations,
		VisualReverifyCooldown: c.Learning.VisualReverifyCooldown,
		FingerprintMaxAge:      c.Learning.FingerprintMaxAge,
		APICaptureSample:       c.Learning.APICaptureSample,
		Consensus: orchestrator.ConsensusThresholds{
			MinAgreement:         c.Consensus.MinAgreement,
			SingleSourceRatio:    c.Consensus.SingleSourceRatio,
			MinVerified:          c.Consensus.MinVerified,
			MinUniqueForVerified: c.Consensus.MinUniqueForVerified,
		},
	})

	zap.L().Debug("components initialized",
		zap.String("store", c.Store.Driver),
		zap.String("oracle", client.Provider()),
		zap.Bool("metrics", m != nil),
	)

	return &app{
		Store:        st,
		Profiles:     profiles,
		Ledger:       ledger,
		Oracle:       client,
		Metrics:      m,
		Orchestrator: orch,
	}, nil
}
