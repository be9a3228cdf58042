package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

func newMemFileStore(t *testing.T) (*FileStore, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s := NewFileStore(fs, "data", "data/usage.json", FileOptions{LockPoll: time.Millisecond})
	require.NoError(t, s.Migrate(context.Background()))
	return s, fs
}

func TestFileStore_LoadProfile_NotFound(t *testing.T) {
	s, _ := newMemFileStore(t)
	_, err := s.LoadProfile(context.Background(), "missing.example")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStore_SaveAndLoadProfile(t *testing.T) {
	s, fs := newMemFileStore(t)
	ctx := context.Background()

	p := model.NewSiteProfile("Casino.Example", 3, time.Now().UTC())
	p.Version = 1
	p.Extraction.Selectors = map[string]string{"username": ".user"}
	require.NoError(t, s.SaveProfile(ctx, p, 0))

	exists, err := afero.Exists(fs, "data/profiles/casino.example.json")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := s.LoadProfile(ctx, "casino.example")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, ".user", got.Extraction.Selectors["username"])

	lockExists, _ := afero.Exists(fs, "data/profiles/casino.example.json.lock")
	assert.False(t, lockExists)
}

func TestFileStore_SaveProfile_VersionConflict(t *testing.T) {
	s, _ := newMemFileStore(t)
	ctx := context.Background()

	p := model.NewSiteProfile("casino.example", 3, time.Now().UTC())
	p.Version = 1
	require.NoError(t, s.SaveProfile(ctx, p, 0))

	// A second creator loses.
	err := s.SaveProfile(ctx, p, 0)
	assert.True(t, errors.Is(err, ErrVersionConflict))

	p.Version = 2
	require.NoError(t, s.SaveProfile(ctx, p, 1))

	p.Version = 2
	err = s.SaveProfile(ctx, p, 1)
	assert.True(t, errors.Is(err, ErrVersionConflict))
}

func TestFileStore_BreaksStaleLock(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStore(fs, "data", "", FileOptions{LockStale: time.Millisecond, LockPoll: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, afero.WriteFile(fs, "data/profiles/casino.example.json.lock", nil, 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, fs.Chtimes("data/profiles/casino.example.json.lock", old, old))

	p := model.NewSiteProfile("casino.example", 3, time.Now().UTC())
	p.Version = 1
	require.NoError(t, s.SaveProfile(ctx, p, 0))
}

func TestFileStore_LockTimeout(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStore(fs, "data", "", FileOptions{
		LockTimeout: 5 * time.Millisecond,
		LockStale:   time.Hour,
		LockPoll:    time.Millisecond,
	})
	require.NoError(t, afero.WriteFile(fs, "data/profiles/casino.example.json.lock", nil, 0o644))

	p := model.NewSiteProfile("casino.example", 3, time.Now().UTC())
	p.Version = 1
	err := s.SaveProfile(context.Background(), p, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestFileStore_ConcurrentSavesNeverDropWrites(t *testing.T) {
	s, _ := newMemFileStore(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for {
				cur, err := s.LoadProfile(ctx, "casino.example")
				expected := 0
				if err == nil {
					expected = cur.Version
				} else {
					cur = model.NewSiteProfile("casino.example", 3, time.Now().UTC())
				}
				cur.Version = expected + 1
				cur.Attempts++
				err = s.SaveProfile(ctx, cur, expected)
				if err == nil {
					return
				}
				if !errors.Is(err, ErrVersionConflict) {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.LoadProfile(ctx, "casino.example")
	require.NoError(t, err)
	assert.Equal(t, writers, got.Attempts)
	assert.Equal(t, writers, got.Version)
}

func TestFileStore_ListDomains(t *testing.T) {
	s, _ := newMemFileStore(t)
	ctx := context.Background()

	for _, d := range []string{"b.example", "a.example"} {
		p := model.NewSiteProfile(d, 3, time.Now().UTC())
		p.Version = 1
		require.NoError(t, s.SaveProfile(ctx, p, 0))
	}
	domains, err := s.ListDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example", "b.example"}, domains)
}

func TestFileStore_FlaggedRegistry(t *testing.T) {
	s, _ := newMemFileStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertFlagged(ctx, model.FlaggedSite{Domain: "a.example", Reason: "first", FlaggedAt: now}))
	require.NoError(t, s.UpsertFlagged(ctx, model.FlaggedSite{Domain: "b.example", Reason: "other", FlaggedAt: now}))
	require.NoError(t, s.UpsertFlagged(ctx, model.FlaggedSite{Domain: "a.example", Reason: "again", FlaggedAt: now}))

	sites, err := s.ListFlagged(ctx, false)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "again", sites[0].Reason)

	require.NoError(t, s.ResolveFlagged(ctx, "a.example"))
	open, err := s.ListFlagged(ctx, false)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "b.example", open[0].Domain)

	all, err := s.ListFlagged(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFileStore_Ledger(t *testing.T) {
	s, _ := newMemFileStore(t)
	ctx := context.Background()

	_, err := s.LoadLedger(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))

	jan := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	l := model.NewUsageLedger(jan)
	l.Version = 1
	l.TotalCalls = 5
	require.NoError(t, s.SaveLedger(ctx, l, 0))

	got, err := s.LoadLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.TotalCalls)

	// Stale version within the same month conflicts.
	l.Version = 2
	assert.True(t, errors.Is(s.SaveLedger(ctx, l, 0), ErrVersionConflict))

	// A new month replaces the document.
	feb := model.NewUsageLedger(jan.AddDate(0, 0, 1))
	feb.Version = 1
	require.NoError(t, s.SaveLedger(ctx, feb, 0))
	got, err = s.LoadLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-02", got.Month)
	assert.Zero(t, got.TotalCalls)
}

func TestSanitizeDomain(t *testing.T) {
	cases := map[string]string{
		"casino.example":                  "casino.example",
		"  Casino.Example ":               "casino.example",
		"https://casino.example/lb?x=1":   "casino.example",
		"casino.example:8443":             "casino.example_8443",
		"weird/../../etc/passwd":          "weird",
		"":                                "_",
		"sub_domain.ex ample.com":         "sub_domain.ex_ample.com",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeDomain(in), in)
	}
}
