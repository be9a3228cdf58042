package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

const (
	profilesDir  = "profiles"
	flaggedFile  = "flagged_sites.json"
	lockSuffix   = ".lock"
	docExtension = ".json"
)

// FileOptions tunes the advisory lock used around read-modify-write cycles.
type FileOptions struct {
	LockTimeout time.Duration // how long to wait for a lock
	LockStale   time.Duration // locks older than this are broken
	LockPoll    time.Duration
}

func (o *FileOptions) withDefaults() {
	if o.LockTimeout <= 0 {
		o.LockTimeout = 10 * time.Second
	}
	if o.LockStale <= 0 {
		o.LockStale = 30 * time.Second
	}
	if o.LockPoll <= 0 {
		o.LockPoll = 25 * time.Millisecond
	}
}

// FileStore implements Store with one JSON document per domain on an afero
// filesystem. Writes go through a temp file and rename, and every
// compare-and-save holds a lock file created with O_EXCL so independent
// processes sharing the directory never drop each other's writes.
type FileStore struct {
	fs         afero.Fs
	dir        string
	ledgerPath string
	opts       FileOptions

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir. The usage ledger lives at
// ledgerPath; an empty ledgerPath puts it under dir.
func NewFileStore(fs afero.Fs, dir, ledgerPath string, opts FileOptions) *FileStore {
	opts.withDefaults()
	if ledgerPath == "" {
		ledgerPath = path.Join(dir, "usage.json")
	}
	return &FileStore{fs: fs, dir: dir, ledgerPath: ledgerPath, opts: opts, locks: make(map[string]*sync.Mutex)}
}

// NewOSFileStore is NewFileStore on the host filesystem.
func NewOSFileStore(dir, ledgerPath string) *FileStore {
	return NewFileStore(afero.NewOsFs(), dir, ledgerPath, FileOptions{})
}

func (s *FileStore) Migrate(_ context.Context) error {
	if err := s.fs.MkdirAll(path.Join(s.dir, profilesDir), 0o755); err != nil {
		return eris.Wrap(err, "file: create profiles dir")
	}
	if err := s.fs.MkdirAll(path.Dir(s.ledgerPath), 0o755); err != nil {
		return eris.Wrap(err, "file: create ledger dir")
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) profilePath(domain string) string {
	return path.Join(s.dir, profilesDir, SanitizeDomain(domain)+docExtension)
}

// --- Profiles ---

func (s *FileStore) LoadProfile(_ context.Context, domain string) (*model.SiteProfile, error) {
	var p model.SiteProfile
	if err := s.readJSON(s.profilePath(domain), &p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "file: load profile %s", domain)
	}
	return &p, nil
}

func (s *FileStore) SaveProfile(ctx context.Context, p *model.SiteProfile, expectedVersion int) error {
	file := s.profilePath(p.Domain)
	return s.withLock(ctx, file, func() error {
		var current model.SiteProfile
		stored := 0
		switch err := s.readJSON(file, &current); {
		case err == nil:
			stored = current.Version
		case errors.Is(err, ErrNotFound):
		default:
			return eris.Wrapf(err, "file: read profile %s", p.Domain)
		}
		if stored != expectedVersion {
			return eris.Wrapf(ErrVersionConflict, "file: profile %s at version %d, expected %d", p.Domain, stored, expectedVersion)
		}
		return s.writeJSON(file, p)
	})
}

func (s *FileStore) ListDomains(_ context.Context) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, path.Join(s.dir, profilesDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "file: list profiles")
	}
	var domains []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, docExtension) {
			continue
		}
		domains = append(domains, strings.TrimSuffix(name, docExtension))
	}
	sort.Strings(domains)
	return domains, nil
}

// --- Flagged registry ---

func (s *FileStore) flaggedPath() string { return path.Join(s.dir, flaggedFile) }

func (s *FileStore) UpsertFlagged(ctx context.Context, f model.FlaggedSite) error {
	return s.updateFlagged(ctx, func(sites []model.FlaggedSite) []model.FlaggedSite {
		for i := range sites {
			if sites[i].Domain == f.Domain {
				sites[i] = f
				return sites
			}
		}
		return append(sites, f)
	})
}

func (s *FileStore) ResolveFlagged(ctx context.Context, domain string) error {
	return s.updateFlagged(ctx, func(sites []model.FlaggedSite) []model.FlaggedSite {
		for i := range sites {
			if sites[i].Domain == domain {
				sites[i].Resolved = true
			}
		}
		return sites
	})
}

func (s *FileStore) ListFlagged(_ context.Context, includeResolved bool) ([]model.FlaggedSite, error) {
	sites, err := s.readFlagged()
	if err != nil {
		return nil, err
	}
	return filterFlagged(sites, includeResolved), nil
}

func (s *FileStore) updateFlagged(ctx context.Context, fn func([]model.FlaggedSite) []model.FlaggedSite) error {
	file := s.flaggedPath()
	return s.withLock(ctx, file, func() error {
		sites, err := s.readFlagged()
		if err != nil {
			return err
		}
		return s.writeJSON(file, fn(sites))
	})
}

func (s *FileStore) readFlagged() ([]model.FlaggedSite, error) {
	var sites []model.FlaggedSite
	if err := s.readJSON(s.flaggedPath(), &sites); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, eris.Wrap(err, "file: read flagged registry")
	}
	return sites, nil
}

// --- Ledger ---

func (s *FileStore) LoadLedger(_ context.Context) (*model.UsageLedger, error) {
	var l model.UsageLedger
	if err := s.readJSON(s.ledgerPath, &l); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, eris.Wrap(err, "file: load ledger")
	}
	l.EnsureMaps()
	return &l, nil
}

func (s *FileStore) SaveLedger(ctx context.Context, l *model.UsageLedger, expectedVersion int) error {
	return s.withLock(ctx, s.ledgerPath, func() error {
		var current model.UsageLedger
		stored := 0
		switch err := s.readJSON(s.ledgerPath, &current); {
		case err == nil:
			stored = current.Version
			// A new month replaces the previous month's document outright.
			if current.Month != l.Month {
				stored = expectedVersion
			}
		case errors.Is(err, ErrNotFound):
		default:
			return eris.Wrap(err, "file: read ledger")
		}
		if stored != expectedVersion {
			return eris.Wrapf(ErrVersionConflict, "file: ledger at version %d, expected %d", stored, expectedVersion)
		}
		return s.writeJSON(s.ledgerPath, l)
	})
}

// --- helpers ---

func (s *FileStore) readJSON(file string, v any) error {
	data, err := afero.ReadFile(s.fs, file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON writes v to a sibling temp file and renames it into place.
func (s *FileStore) writeJSON(file string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "file: marshal")
	}
	if err := s.fs.MkdirAll(path.Dir(file), 0o755); err != nil {
		return eris.Wrapf(err, "file: mkdir for %s", file)
	}
	tmp := file + ".tmp-" + uuid.NewString()
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "file: write %s", tmp)
	}
	if err := s.fs.Rename(tmp, file); err != nil {
		_ = s.fs.Remove(tmp)
		return eris.Wrapf(err, "file: rename into %s", file)
	}
	return nil
}

// pathMutex serialises goroutines of this process on one document; the lock
// file below only arbitrates between processes.
func (s *FileStore) pathMutex(file string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[file]
	if !ok {
		m = &sync.Mutex{}
		s.locks[file] = m
	}
	return m
}

// withLock runs fn while holding file+".lock". A lock older than LockStale is
// assumed to belong to a crashed process and is removed.
func (s *FileStore) withLock(ctx context.Context, file string, fn func() error) error {
	pm := s.pathMutex(file)
	pm.Lock()
	defer pm.Unlock()

	lock := file + lockSuffix
	if err := s.fs.MkdirAll(path.Dir(lock), 0o755); err != nil {
		return eris.Wrapf(err, "file: mkdir for %s", lock)
	}

	deadline := time.Now().Add(s.opts.LockTimeout)
	for {
		f, err := s.fs.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return eris.Wrapf(err, "file: acquire lock %s", lock)
		}
		if info, statErr := s.fs.Stat(lock); statErr == nil && time.Since(info.ModTime()) > s.opts.LockStale {
			zap.L().Warn("file: breaking stale lock", zap.String("lock", lock), zap.Time("mod_time", info.ModTime()))
			_ = s.fs.Remove(lock)
			continue
		}
		if time.Now().After(deadline) {
			return eris.Errorf("file: timed out waiting for lock %s", lock)
		}
		select {
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "file: waiting for lock")
		case <-time.After(s.opts.LockPoll):
		}
	}
	defer func() {
		if err := s.fs.Remove(lock); err != nil {
			zap.L().Warn("file: release lock failed", zap.String("lock", lock), zap.Error(err))
		}
	}()
	return fn()
}

func filterFlagged(sites []model.FlaggedSite, includeResolved bool) []model.FlaggedSite {
	out := make([]model.FlaggedSite, 0, len(sites))
	for _, f := range sites {
		if f.Resolved && !includeResolved {
			continue
		}
		out = append(out, f)
	}
	return out
}
