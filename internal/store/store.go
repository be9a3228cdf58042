package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

var (
	// ErrNotFound is returned when a profile or ledger has never been saved.
	ErrNotFound = eris.New("store: not found")
	// ErrVersionConflict is returned when a save's expected version does not
	// match the stored version. Callers reload, re-apply and retry.
	ErrVersionConflict = eris.New("store: version conflict")
)

// ProfileStore persists site profiles and the flagged-sites registry.
//
// SaveProfile succeeds only when the stored version equals expectedVersion
// (0 meaning "not yet stored"). The caller sets p.Version to the new value.
type ProfileStore interface {
	LoadProfile(ctx context.Context, domain string) (*model.SiteProfile, error)
	SaveProfile(ctx context.Context, p *model.SiteProfile, expectedVersion int) error
	ListDomains(ctx context.Context) ([]string, error)

	UpsertFlagged(ctx context.Context, f model.FlaggedSite) error
	ResolveFlagged(ctx context.Context, domain string) error
	ListFlagged(ctx context.Context, includeResolved bool) ([]model.FlaggedSite, error)
}

// LedgerStore persists the current month's usage ledger with the same
// optimistic version check as ProfileStore.
type LedgerStore interface {
	LoadLedger(ctx context.Context) (*model.UsageLedger, error)
	SaveLedger(ctx context.Context, l *model.UsageLedger, expectedVersion int) error
}

// Store is a complete persistence backend.
type Store interface {
	ProfileStore
	LedgerStore

	Migrate(ctx context.Context) error
	Close() error
}
