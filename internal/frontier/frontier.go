// Package frontier implements the durable crawl frontier: a FIFO of pending
// (handle, discovery chain) work items, deduplicated by handle, backed by a
// local SQLite file so it survives process restarts.
package frontier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quantcites/citespider/internal/chain"
)

// ErrEmpty is returned by Pop when no unclaimed item is pending.
var ErrEmpty = errors.New("frontier: empty")

// Item is one unit of crawl work: an external handle plus the chain of
// article ids that led to its discovery.
type Item struct {
	Handle string
	Chain  chain.Chain
}

// Queue is the SQLite-backed frontier. Pop marks an item claimed rather than
// deleting it; Ack removes it once the crawl results are committed, and
// Open releases stale claims, so a crash between Pop and Ack replays the
// item instead of losing it.
type Queue struct {
	db *sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS frontier (
		pos INTEGER PRIMARY KEY AUTOINCREMENT,
		handle TEXT NOT NULL UNIQUE,
		chain TEXT NOT NULL,
		claimed INTEGER NOT NULL DEFAULT 0,
		enqueued_at TEXT NOT NULL
	);
`

// Open opens or creates the frontier database at path and releases any
// claims left behind by a previous run.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open frontier db: %w", err)
	}
	// SQLite does not support concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create frontier schema: %w", err)
	}
	if _, err := db.Exec(`UPDATE frontier SET claimed = 0 WHERE claimed != 0`); err != nil {
		db.Close()
		return nil, fmt.Errorf("release stale claims: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	if err := q.db.Close(); err != nil {
		return fmt.Errorf("close frontier db: %w", err)
	}
	return nil
}

// Put enqueues item unless an item with the same handle is already pending.
// At-most-once pending occurrence is keyed on the handle alone, regardless
// of the chain.
func (q *Queue) Put(ctx context.Context, item Item) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO frontier (handle, chain, enqueued_at) VALUES (?, ?, ?)`,
		item.Handle, item.Chain.Ltree(), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", item.Handle, err)
	}
	return nil
}

// Pop claims and returns the oldest pending item, or ErrEmpty. The claim is
// recorded durably in the same transaction that selects the row, so two
// workers sharing the queue cannot receive the same item.
func (q *Queue) Pop(ctx context.Context) (Item, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, fmt.Errorf("begin pop: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		pos      int64
		handle   string
		rawChain string
	)
	row := tx.QueryRowContext(ctx,
		`SELECT pos, handle, chain FROM frontier WHERE claimed = 0 ORDER BY pos LIMIT 1`)
	if err := row.Scan(&pos, &handle, &rawChain); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrEmpty
		}
		return Item{}, fmt.Errorf("select next item: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE frontier SET claimed = 1 WHERE pos = ?`, pos); err != nil {
		return Item{}, fmt.Errorf("claim item %s: %w", handle, err)
	}
	if err := tx.Commit(); err != nil {
		return Item{}, fmt.Errorf("commit claim: %w", err)
	}

	c, err := chain.ParseLtree(rawChain)
	if err != nil {
		return Item{}, fmt.Errorf("decode chain for %s: %w", handle, err)
	}
	return Item{Handle: handle, Chain: c}, nil
}

// Ack removes a previously popped item. Call it only after the results of
// processing the item have been durably committed.
func (q *Queue) Ack(ctx context.Context, handle string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM frontier WHERE handle = ?`, handle); err != nil {
		return fmt.Errorf("ack %s: %w", handle, err)
	}
	return nil
}

// Len reports the exact number of pending (unclaimed) items.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	row := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frontier WHERE claimed = 0`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count frontier: %w", err)
	}
	return n, nil
}

// IsEmpty reports whether no items are pending. Exact, not approximate.
func (q *Queue) IsEmpty(ctx context.Context) (bool, error) {
	n, err := q.Len(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Clear discards all frontier state, claimed or not. The engine calls this
// when the graph store is empty: leftover frontier rows from a prior run
// are meaningless against a reset destination.
func (q *Queue) Clear(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM frontier`); err != nil {
		return fmt.Errorf("clear frontier: %w", err)
	}
	return nil
}
