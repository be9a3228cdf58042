// Package profile owns the per-site learning record. Every mutation is a
// read-merge-write against a versioned backend document and is retried on
// version conflict, so concurrent writers never drop each other's updates.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/techdev-loop/leaderboard-sub002/internal/metrics"
	"github.com/techdev-loop/leaderboard-sub002/internal/model"
	"github.com/techdev-loop/leaderboard-sub002/internal/store"
)

const maxUpdateRetries = 16

var (
	// ErrInvalidTransition is returned for a status change the state machine forbids.
	ErrInvalidTransition = eris.New("profile: invalid status transition")
	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = eris.New("profile: unknown status")
	// ErrNotFound is returned by Lookup for a domain never seen before.
	ErrNotFound = store.ErrNotFound
)

// Options configures a Store.
type Options struct {
	MaxAttempts      int           // learning attempts before manual review
	InactiveCooldown time.Duration // retry delay for inactive leaderboards
	Now              func() time.Time
	Metrics          *metrics.Metrics
}

// Store is the profile API used by the orchestrator and the CLI.
type Store struct {
	backend store.ProfileStore
	opts    Options
	group   singleflight.Group
}

// New creates a Store over backend.
func New(backend store.ProfileStore, opts Options) *Store {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InactiveCooldown <= 0 {
		opts.InactiveCooldown = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{backend: backend, opts: opts}
}

// Key normalizes a domain or URL into the profile key.
func Key(domain string) string {
	return store.SanitizeDomain(domain)
}

// Get returns the profile for domain, creating a status=new profile on
// first sight. Concurrent loads of one domain share a single backend read.
func (s *Store) Get(ctx context.Context, domain string) (*model.SiteProfile, error) {
	key := Key(domain)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.loadOrCreate(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.SiteProfile).Clone(), nil
}

// Lookup returns the stored profile for domain without creating one.
func (s *Store) Lookup(ctx context.Context, domain string) (*model.SiteProfile, error) {
	key := Key(domain)
	p, err := s.backend.LoadProfile(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "profile: lookup %s", key)
	}
	return p, nil
}

func (s *Store) loadOrCreate(ctx context.Context, key string) (*model.SiteProfile, error) {
	for i := 0; i < maxUpdateRetries; i++ {
		p, err := s.backend.LoadProfile(ctx, key)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(err, "profile: load %s", key)
		}

		p = model.NewSiteProfile(key, s.opts.MaxAttempts, s.opts.Now())
		p.Version = 1
		err = s.backend.SaveProfile(ctx, p, 0)
		if err == nil {
			zap.L().Info("profile: created", zap.String("domain", key))
			s.opts.Metrics.StatusChange(string(p.Status))
			return p, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, eris.Wrapf(err, "profile: create %s", key)
		}
		// Another writer created it first; read theirs.
	}
	return nil, eris.Wrapf(store.ErrVersionConflict, "profile: create %s", key)
}

// mutate applies fn to the latest stored profile and saves it, re-reading
// and re-applying fn whenever another writer got there first.
func (s *Store) mutate(ctx context.Context, domain string, fn func(p *model.SiteProfile) error) (*model.SiteProfile, error) {
	key := Key(domain)
	for i := 0; i < maxUpdateRetries; i++ {
		p, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		expected := p.Version
		before := p.Status

		if err := fn(p); err != nil {
			return nil, err
		}
		p.Domain = key
		p.Version = expected + 1
		p.SchemaVersion = model.ProfileSchemaVersion
		p.UpdatedAt = s.opts.Now()

		err = s.backend.SaveProfile(ctx, p, expected)
		if errors.Is(err, store.ErrVersionConflict) {
			zap.L().Debug("profile: version conflict, retrying",
				zap.String("domain", key), zap.Int("expected", expected), zap.Int("retry", i+1))
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "profile: save %s", key)
		}
		if p.Status != before {
			zap.L().Info("profile: status changed",
				zap.String("domain", key),
				zap.String("from", string(before)),
				zap.String("to", string(p.Status)),
			)
			s.opts.Metrics.StatusChange(string(p.Status))
		}
		return p, nil
	}
	return nil, eris.Wrapf(store.ErrVersionConflict, "profile: %s still conflicting after %d retries", key, maxUpdateRetries)
}

// Update merges patch into the stored profile. A status in the patch must
// be a legal transition from the stored status.
func (s *Store) Update(ctx context.Context, domain string, patch Patch) (*model.SiteProfile, error) {
	return s.mutate(ctx, domain, func(p *model.SiteProfile) error {
		if patch.Status != nil {
			if err := checkTransition(p.Status, *patch.Status); err != nil {
				return err
			}
		}
		patch.Apply(p)
		return nil
	})
}

// SetStatus moves the profile to status.
func (s *Store) SetStatus(ctx context.Context, domain string, status model.ProfileStatus) (*model.SiteProfile, error) {
	return s.Update(ctx, domain, Patch{Status: &status})
}

func checkTransition(from, to model.ProfileStatus) error {
	if !to.Valid() {
		return eris.Wrapf(ErrInvalidStatus, "profile: %q", to)
	}
	if !CanTransition(from, to) {
		return eris.Wrapf(ErrInvalidTransition, "profile: %s -> %s", from, to)
	}
	return nil
}

// IncrementAttempts counts one failed learning attempt and reports whether
// the profile has now used up its attempts.
func (s *Store) IncrementAttempts(ctx context.Context, domain string) (bool, *model.SiteProfile, error) {
	p, err := s.mutate(ctx, domain, func(p *model.SiteProfile) error {
		p.Attempts++
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return p.Attempts >= s.maxAttempts(p), p, nil
}

func (s *Store) maxAttempts(p *model.SiteProfile) int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return s.opts.MaxAttempts
}

// FlagForReview disables the oracle for domain and records it in the
// flagged-sites registry. Re-flagging replaces the registry entry.
func (s *Store) FlagForReview(ctx context.Context, domain, reason string) (*model.SiteProfile, error) {
	p, err := s.mutate(ctx, domain, func(p *model.SiteProfile) error {
		p.Status = model.StatusFlaggedForReview
		p.LLMDisabled = true
		p.FlagReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.backend.UpsertFlagged(ctx, model.FlaggedSite{
		Domain:    p.Domain,
		Reason:    reason,
		FlaggedAt: s.opts.Now(),
	}); err != nil {
		return p, eris.Wrapf(err, "profile: register flagged %s", p.Domain)
	}
	zap.L().Warn("profile: flagged for manual review", zap.String("domain", p.Domain), zap.String("reason", reason))
	return p, nil
}

// ResetForRelearning clears attempts and the disabled flag, returns the
// profile to learning and resolves its flagged-registry entry.
func (s *Store) ResetForRelearning(ctx context.Context, domain string) (*model.SiteProfile, error) {
	p, err := s.mutate(ctx, domain, func(p *model.SiteProfile) error {
		p.Status = model.StatusLearning
		p.Attempts = 0
		p.LLMDisabled = false
		p.FlagReason = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.backend.ResolveFlagged(ctx, p.Domain); err != nil {
		return p, eris.Wrapf(err, "profile: resolve flagged %s", p.Domain)
	}
	zap.L().Info("profile: reset for relearning", zap.String("domain", p.Domain))
	return p, nil
}

// MarkVerified records a successful verification at confidence.
func (s *Store) MarkVerified(ctx context.Context, domain string, confidence float64, extra Patch) (*model.SiteProfile, error) {
	return s.mutate(ctx, domain, func(p *model.SiteProfile) error {
		if err := checkTransition(p.Status, model.StatusVerified); err != nil {
			return err
		}
		extra.Status = nil
		extra.Apply(p)
		now := s.opts.Now()
		if p.Verification.FirstVerifiedAt == nil {
			p.Verification.FirstVerifiedAt = &now
		}
		p.Verification.LastVerifiedAt = &now
		p.Verification.Confidence = confidence
		p.Status = model.StatusVerified
		p.Attempts = 0
		return nil
	})
}

// MarkLayoutChanged moves the profile to layout_changed so the next run
// relearns its rules. Attempts restart from zero.
func (s *Store) MarkLayoutChanged(ctx context.Context, domain string) (*model.SiteProfile, error) {
	return s.mutate(ctx, domain, func(p *model.SiteProfile) error {
		if err := checkTransition(p.Status, model.StatusLayoutChanged); err != nil {
			return err
		}
		p.Status = model.StatusLayoutChanged
		p.Attempts = 0
		return nil
	})
}

// AddSpend adds one oracle call's usage to the site's running total.
func (s *Store) AddSpend(ctx context.Context, domain string, inputTokens, outputTokens int64, costUSD float64) (*model.SiteProfile, error) {
	return s.mutate(ctx, domain, func(p *model.SiteProfile) error {
		p.Spend.Calls++
		p.Spend.InputTokens += inputTokens
		p.Spend.OutputTokens += outputTokens
		p.Spend.CostUSD += costUSD
		return nil
	})
}

// MarkInactive hides a leaderboard until the inactive cooldown elapses.
func (s *Store) MarkInactive(ctx context.Context, domain, leaderboard, reason string) (*model.SiteProfile, error) {
	now := s.opts.Now()
	return s.Update(ctx, domain, Patch{InactiveLeaderboards: map[string]*model.InactiveLeaderboard{
		leaderboard: {Reason: reason, MarkedAt: now, RetryAfter: now.Add(s.opts.InactiveCooldown)},
	}})
}

// SetLearningInstructions stores data-quality findings for the next oracle
// attempt, replacing any earlier set.
func (s *Store) SetLearningInstructions(ctx context.Context, domain string, issues, suggestions []string) (*model.SiteProfile, error) {
	return s.Update(ctx, domain, Patch{LearningInstructions: &model.LearningInstructions{
		ID:          uuid.NewString(),
		Issues:      issues,
		Suggestions: suggestions,
		CreatedAt:   s.opts.Now(),
	}})
}

// List returns every stored domain key.
func (s *Store) List(ctx context.Context) ([]string, error) {
	domains, err := s.backend.ListDomains(ctx)
	return domains, eris.Wrap(err, "profile: list")
}

// Flagged returns the flagged-sites registry.
func (s *Store) Flagged(ctx context.Context, includeResolved bool) ([]model.FlaggedSite, error) {
	sites, err := s.backend.ListFlagged(ctx, includeResolved)
	return sites, eris.Wrap(err, "profile: list flagged")
}
