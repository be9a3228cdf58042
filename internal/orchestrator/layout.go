package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/techdev-loop/leaderboard-sub002/internal/browser"
	"github.com/techdev-loop/leaderboard-sub002/internal/fingerprint"
	"github.com/techdev-loop/leaderboard-sub002/internal/model"
	"github.com/techdev-loop/leaderboard-sub002/internal/profile"
)

// LayoutCheck is the result of CheckLayout.
type LayoutCheck struct {
	Comparison  fingerprint.Comparison
	ReVerify    bool
	Rebaselined bool
}

// CheckLayout fingerprints the live page and compares it with the stored
// fingerprint. A missing or expired baseline is replaced without raising a
// change. A significant change moves the site to layout_changed.
func (o *Orchestrator) CheckLayout(ctx context.Context, domain string, page browser.Page) (LayoutCheck, error) {
	var lc LayoutCheck

	p, err := o.profiles.Get(ctx, domain)
	if err != nil {
		return lc, err
	}
	current, err := o.fp.Generate(ctx, page, p.Extraction.ProviderKeywords)
	if err != nil {
		return lc, err
	}

	stored := p.LayoutFingerprint
	if stored == nil || o.now().Sub(stored.CapturedAt) > o.cfg.FingerprintMaxAge {
		if _, err := o.profiles.Update(ctx, domain, profile.Patch{LayoutFingerprint: current.Record()}); err != nil {
			return lc, err
		}
		lc.Rebaselined = true
		zap.L().Debug("orchestrator: layout baseline captured", zap.String("domain", p.Domain), zap.String("hash", current.Hash))
		return lc, nil
	}

	lc.Comparison = fingerprint.Compare(fingerprint.FromRecord(stored), current)
	o.metrics.LayoutComparison(string(lc.Comparison.Significance))
	lc.ReVerify = fingerprint.ShouldReVerify(lc.Comparison)
	if !lc.ReVerify {
		return lc, nil
	}

	zap.L().Warn("orchestrator: layout changed",
		zap.String("domain", p.Domain),
		zap.String("significance", string(lc.Comparison.Significance)),
		zap.Bool("layout_type_changed", lc.Comparison.LayoutTypeChanged),
		zap.Strings("new_switchers", lc.Comparison.NewSwitchers),
		zap.Strings("removed_switchers", lc.Comparison.RemovedSwitchers),
	)
	if p.Status == model.StatusFlaggedForReview || p.Status == model.StatusLayoutChanged {
		return lc, nil
	}
	if _, err := o.profiles.MarkLayoutChanged(ctx, domain); err != nil {
		return lc, err
	}
	return lc, nil
}
