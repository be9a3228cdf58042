package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS site_profiles (
	domain     TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	status     TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS flagged_sites (
	domain     TEXT PRIMARY KEY,
	reason     TEXT NOT NULL,
	flagged_at TIMESTAMPTZ NOT NULL,
	resolved   BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS usage_ledger (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	month      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_site_profiles_status ON site_profiles(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Profiles ---

func (s *PostgresStore) LoadProfile(ctx context.Context, domain string) (*model.SiteProfile, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM site_profiles WHERE domain = $1`, SanitizeDomain(domain),
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load profile %s", domain)
	}

	var p model.SiteProfile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal profile %s", domain)
	}
	return &p, nil
}

func (s *PostgresStore) SaveProfile(ctx context.Context, p *model.SiteProfile, expectedVersion int) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile")
	}
	key := SanitizeDomain(p.Domain)

	var tag pgconn.CommandTag
	if expectedVersion == 0 {
		tag, err = s.pool.Exec(ctx,
			`INSERT INTO site_profiles (domain, version, status, doc, updated_at) VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (domain) DO NOTHING`,
			key, p.Version, string(p.Status), doc,
		)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE site_profiles SET version = $1, status = $2, doc = $3, updated_at = now() WHERE domain = $4 AND version = $5`,
			p.Version, string(p.Status), doc, key, expectedVersion,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: save profile %s", p.Domain)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrVersionConflict, "postgres: profile %s", p.Domain)
	}
	return nil
}

func (s *PostgresStore) ListDomains(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT domain FROM site_profiles ORDER BY domain`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list domains")
	}
	domains, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return domains, eris.Wrap(err, "postgres: collect domains")
}

// --- Flagged registry ---

func (s *PostgresStore) UpsertFlagged(ctx context.Context, f model.FlaggedSite) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO flagged_sites (domain, reason, flagged_at, resolved) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (domain) DO UPDATE SET reason = EXCLUDED.reason, flagged_at = EXCLUDED.flagged_at, resolved = EXCLUDED.resolved`,
		f.Domain, f.Reason, f.FlaggedAt, f.Resolved,
	)
	return eris.Wrapf(err, "postgres: upsert flagged %s", f.Domain)
}

func (s *PostgresStore) ResolveFlagged(ctx context.Context, domain string) error {
	_, err := s.pool.Exec(ctx, `UPDATE flagged_sites SET resolved = true WHERE domain = $1`, domain)
	return eris.Wrapf(err, "postgres: resolve flagged %s", domain)
}

func (s *PostgresStore) ListFlagged(ctx context.Context, includeResolved bool) ([]model.FlaggedSite, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT domain, reason, flagged_at, resolved FROM flagged_sites WHERE $1 OR NOT resolved ORDER BY flagged_at`,
		includeResolved,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list flagged")
	}
	defer rows.Close()

	var sites []model.FlaggedSite
	for rows.Next() {
		var f model.FlaggedSite
		if err := rows.Scan(&f.Domain, &f.Reason, &f.FlaggedAt, &f.Resolved); err != nil {
			return nil, eris.Wrap(err, "postgres: scan flagged")
		}
		sites = append(sites, f)
	}
	return sites, eris.Wrap(rows.Err(), "postgres: iterate flagged")
}

// --- Ledger ---

func (s *PostgresStore) LoadLedger(ctx context.Context) (*model.UsageLedger, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM usage_ledger WHERE id = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load ledger")
	}

	var l model.UsageLedger
	if err := json.Unmarshal(doc, &l); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal ledger")
	}
	l.EnsureMaps()
	return &l, nil
}

func (s *PostgresStore) SaveLedger(ctx context.Context, l *model.UsageLedger, expectedVersion int) error {
	doc, err := json.Marshal(l)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal ledger")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO usage_ledger (id, month, version, doc, updated_at) VALUES (1, $1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET month = EXCLUDED.month, version = EXCLUDED.version, doc = EXCLUDED.doc, updated_at = now()
		 WHERE usage_ledger.month <> EXCLUDED.month OR usage_ledger.version = $4`,
		l.Month, l.Version, doc, expectedVersion,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: save ledger")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrap(ErrVersionConflict, "postgres: ledger")
	}
	return nil
}
