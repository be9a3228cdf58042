package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS site_profiles (
	domain     TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	status     TEXT NOT NULL,
	doc        TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS flagged_sites (
	domain     TEXT PRIMARY KEY,
	reason     TEXT NOT NULL,
	flagged_at DATETIME NOT NULL,
	resolved   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS usage_ledger (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	month      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	doc        TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_site_profiles_status ON site_profiles(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Profiles ---

func (s *SQLiteStore) LoadProfile(ctx context.Context, domain string) (*model.SiteProfile, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM site_profiles WHERE domain = ?`, SanitizeDomain(domain),
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load profile %s", domain)
	}

	var p model.SiteProfile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal profile %s", domain)
	}
	return &p, nil
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, p *model.SiteProfile, expectedVersion int) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile")
	}
	key := SanitizeDomain(p.Domain)
	now := time.Now().UTC()

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO site_profiles (domain, version, status, doc, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(domain) DO NOTHING`,
			key, p.Version, string(p.Status), string(doc), now,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE site_profiles SET version = ?, status = ?, doc = ?, updated_at = ? WHERE domain = ? AND version = ?`,
			p.Version, string(p.Status), string(doc), now, key, expectedVersion,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: save profile %s", p.Domain)
	}
	return checkVersionedWrite(res, "profile "+p.Domain)
}

func (s *SQLiteStore) ListDomains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain FROM site_profiles ORDER BY domain`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list domains")
	}
	defer rows.Close() //nolint:errcheck

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan domain")
		}
		domains = append(domains, d)
	}
	return domains, eris.Wrap(rows.Err(), "sqlite: iterate domains")
}

// --- Flagged registry ---

func (s *SQLiteStore) UpsertFlagged(ctx context.Context, f model.FlaggedSite) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flagged_sites (domain, reason, flagged_at, resolved) VALUES (?, ?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET reason = excluded.reason, flagged_at = excluded.flagged_at, resolved = excluded.resolved`,
		f.Domain, f.Reason, f.FlaggedAt.UTC(), boolToInt(f.Resolved),
	)
	return eris.Wrapf(err, "sqlite: upsert flagged %s", f.Domain)
}

func (s *SQLiteStore) ResolveFlagged(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE flagged_sites SET resolved = 1 WHERE domain = ?`, domain)
	return eris.Wrapf(err, "sqlite: resolve flagged %s", domain)
}

func (s *SQLiteStore) ListFlagged(ctx context.Context, includeResolved bool) ([]model.FlaggedSite, error) {
	query := `SELECT domain, reason, flagged_at, resolved FROM flagged_sites`
	if !includeResolved {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY flagged_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list flagged")
	}
	defer rows.Close() //nolint:errcheck

	var sites []model.FlaggedSite
	for rows.Next() {
		var f model.FlaggedSite
		var resolved int
		if err := rows.Scan(&f.Domain, &f.Reason, &f.FlaggedAt, &resolved); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan flagged")
		}
		f.Resolved = resolved != 0
		sites = append(sites, f)
	}
	return sites, eris.Wrap(rows.Err(), "sqlite: iterate flagged")
}

// --- Ledger ---

func (s *SQLiteStore) LoadLedger(ctx context.Context) (*model.UsageLedger, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM usage_ledger WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load ledger")
	}

	var l model.UsageLedger
	if err := json.Unmarshal([]byte(doc), &l); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal ledger")
	}
	l.EnsureMaps()
	return &l, nil
}

func (s *SQLiteStore) SaveLedger(ctx context.Context, l *model.UsageLedger, expectedVersion int) error {
	doc, err := json.Marshal(l)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal ledger")
	}
	now := time.Now().UTC()

	// A month change replaces the row regardless of its version.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_ledger (id, month, version, doc, updated_at) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET month = excluded.month, version = excluded.version, doc = excluded.doc, updated_at = excluded.updated_at
		 WHERE usage_ledger.month <> excluded.month OR usage_ledger.version = ?`,
		l.Month, l.Version, string(doc), now, expectedVersion,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: save ledger")
	}
	return checkVersionedWrite(res, "ledger")
}

func checkVersionedWrite(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrVersionConflict, "%s", what)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
