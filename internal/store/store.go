// Package store persists the deduplicated article graph and its citation
// lineage. Articles, venues, authors and keywords are relational entities;
// discovery paths are materialized as ltree values in the citations table.
package store

import (
	"context"

	"github.com/quantcites/citespider/internal/chain"
)

// Article is a persisted article row. ID is the internal identifier used
// inside citation chains; Handle is the immutable external identifier.
type Article struct {
	ID       int64
	Handle   string
	Title    string
	Year     int
	Venue    string
	Abstract string
	URL      string
}

// ArticleRecord is the input to CreateArticle: extracted metadata plus the
// handle it was fetched under. Venue, authors and keywords are expected to
// arrive already normalized.
type ArticleRecord struct {
	Handle   string
	Title    string
	Year     int
	Venue    string
	Authors  []string
	Abstract string
	URL      string
	Keywords []string
}

// GraphStore is the persistence boundary the crawl engine writes through.
// Implementations must make CreateArticle a single all-or-nothing
// transaction: partial association writes must never become visible.
type GraphStore interface {
	// ArticleByHandle returns the article for handle, or nil when absent.
	ArticleByHandle(ctx context.Context, handle string) (*Article, error)
	// CreateArticle inserts the article and its venue/author/keyword
	// associations, creating lookup rows lazily via idempotent upserts.
	CreateArticle(ctx context.Context, rec ArticleRecord) (*Article, error)
	// LatestArticleID returns the highest assigned article id, 0 when the
	// table is empty.
	LatestArticleID(ctx context.Context) (int64, error)
	// RecordChain persists one discovery path ending at owningID. Replaying
	// an identical chain is a no-op, so crash-replay is safe.
	RecordChain(ctx context.Context, owningID int64, c chain.Chain) error
	// ChainCount returns the number of persisted chains. Zero signals a
	// fresh destination and triggers the frontier discard rule.
	ChainCount(ctx context.Context) (int64, error)
}
