package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantcites/citespider/internal/chain"
)

// PostgresConfig controls the connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the subset of pgxpool.Pool the store uses. pgxmock satisfies
// it, which is how the tests drive the store without a server.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Postgres implements GraphStore on a pgx connection pool.
type Postgres struct {
	pool pgxPool
}

// NewPostgres connects a pool and returns the store.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPostgresWithPool(pool pgxPool) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS ltree`,
	`CREATE TABLE IF NOT EXISTS venues (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(500) NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS authors (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(500) NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS keywords (
		id BIGSERIAL PRIMARY KEY,
		keyword VARCHAR(500) NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS articles (
		id BIGSERIAL PRIMARY KEY,
		handle VARCHAR(300) NOT NULL UNIQUE,
		title VARCHAR(2000),
		pub_year INTEGER,
		venue_id BIGINT REFERENCES venues(id),
		abstract VARCHAR(20000),
		url VARCHAR(300)
	)`,
	`CREATE TABLE IF NOT EXISTS author_article (
		author_id BIGINT NOT NULL REFERENCES authors(id),
		article_id BIGINT NOT NULL REFERENCES articles(id),
		PRIMARY KEY (author_id, article_id)
	)`,
	`CREATE TABLE IF NOT EXISTS keyword_article (
		keyword_id BIGINT NOT NULL REFERENCES keywords(id),
		article_id BIGINT NOT NULL REFERENCES articles(id),
		PRIMARY KEY (keyword_id, article_id)
	)`,
	`CREATE TABLE IF NOT EXISTS citations (
		id_of_citing BIGINT NOT NULL REFERENCES articles(id),
		citation_chain LTREE PRIMARY KEY
	)`,
	`CREATE INDEX IF NOT EXISTS ix_citations_citation_chain
		ON citations USING GIST (citation_chain)`,
}

// Migrate applies the schema. Safe to run on every start.
func (s *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// ArticleByHandle returns the article for handle, or nil when absent.
func (s *Postgres) ArticleByHandle(ctx context.Context, handle string) (*Article, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT a.id, a.handle, COALESCE(a.title, ''), COALESCE(a.pub_year, 0),
		       COALESCE(v.name, ''), COALESCE(a.abstract, ''), COALESCE(a.url, '')
		FROM articles a
		LEFT JOIN venues v ON v.id = a.venue_id
		WHERE a.handle = $1`, handle)

	var a Article
	err := row.Scan(&a.ID, &a.Handle, &a.Title, &a.Year, &a.Venue, &a.Abstract, &a.URL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select article %s: %w", handle, err)
	}
	return &a, nil
}

// CreateArticle inserts the article row plus its associations inside one
// transaction. Venue, author and keyword rows are resolved with idempotent
// upserts so concurrent writers cannot race duplicate lookup rows.
func (s *Postgres) CreateArticle(ctx context.Context, rec ArticleRecord) (*Article, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create article: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var venueID *int64
	if rec.Venue != "" {
		id, err := upsertLookup(ctx, tx,
			`INSERT INTO venues (name) VALUES ($1)
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`, rec.Venue)
		if err != nil {
			return nil, fmt.Errorf("upsert venue %q: %w", rec.Venue, err)
		}
		venueID = &id
	}

	var articleID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO articles (handle, title, pub_year, venue_id, abstract, url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		rec.Handle, rec.Title, rec.Year, venueID, rec.Abstract, rec.URL,
	).Scan(&articleID)
	if err != nil {
		return nil, fmt.Errorf("insert article %s: %w", rec.Handle, err)
	}

	for _, author := range rec.Authors {
		id, err := upsertLookup(ctx, tx,
			`INSERT INTO authors (name) VALUES ($1)
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`, author)
		if err != nil {
			return nil, fmt.Errorf("upsert author %q: %w", author, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO author_article (author_id, article_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, id, articleID); err != nil {
			return nil, fmt.Errorf("associate author %q: %w", author, err)
		}
	}

	for _, keyword := range rec.Keywords {
		id, err := upsertLookup(ctx, tx,
			`INSERT INTO keywords (keyword) VALUES ($1)
			 ON CONFLICT (keyword) DO UPDATE SET keyword = EXCLUDED.keyword
			 RETURNING id`, keyword)
		if err != nil {
			return nil, fmt.Errorf("upsert keyword %q: %w", keyword, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO keyword_article (keyword_id, article_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, id, articleID); err != nil {
			return nil, fmt.Errorf("associate keyword %q: %w", keyword, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create article: %w", err)
	}

	return &Article{
		ID:       articleID,
		Handle:   rec.Handle,
		Title:    rec.Title,
		Year:     rec.Year,
		Venue:    rec.Venue,
		Abstract: rec.Abstract,
		URL:      rec.URL,
	}, nil
}

func upsertLookup(ctx context.Context, tx pgx.Tx, query, value string) (int64, error) {
	var id int64
	if err := tx.QueryRow(ctx, query, value).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// LatestArticleID returns the highest assigned article id, 0 when empty.
func (s *Postgres) LatestArticleID(ctx context.Context) (int64, error) {
	var id int64
	row := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM articles`)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("select latest article id: %w", err)
	}
	return id, nil
}

// RecordChain persists one citation chain. The chain column is the primary
// key, so replaying the same path after a crash is a no-op.
func (s *Postgres) RecordChain(ctx context.Context, owningID int64, c chain.Chain) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO citations (id_of_citing, citation_chain)
		VALUES ($1, $2::ltree)
		ON CONFLICT DO NOTHING`, owningID, c.Ltree())
	if err != nil {
		return fmt.Errorf("insert chain %s: %w", c.Ltree(), err)
	}
	return nil
}

// ChainCount returns the number of persisted citation chains.
func (s *Postgres) ChainCount(ctx context.Context) (int64, error) {
	var n int64
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM citations`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count chains: %w", err)
	}
	return n, nil
}

// ChainsDescendingFrom returns every persisted chain that extends prefix,
// using the ltree ancestor operator so the GiST index is applicable.
func (s *Postgres) ChainsDescendingFrom(ctx context.Context, prefix chain.Chain) ([]chain.Chain, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT citation_chain::text FROM citations
		WHERE citation_chain <@ $1::ltree
		ORDER BY citation_chain`, prefix.Ltree())
	if err != nil {
		return nil, fmt.Errorf("select descendant chains: %w", err)
	}
	defer rows.Close()

	var out []chain.Chain
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		c, err := chain.ParseLtree(raw)
		if err != nil {
			return nil, fmt.Errorf("decode chain %q: %w", raw, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chains: %w", err)
	}
	return out, nil
}
