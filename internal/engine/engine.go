// Package engine implements the crawl state machine: it drains the frontier,
// ingests newly discovered articles exactly once per handle, records every
// distinct discovery path as a citation chain, rejects chains that would
// close a cycle, and expands outbound citations under the link budget.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantcites/citespider/internal/chain"
	"github.com/quantcites/citespider/internal/extract"
	"github.com/quantcites/citespider/internal/fetchcache"
	"github.com/quantcites/citespider/internal/frontier"
	"github.com/quantcites/citespider/internal/store"
)

// Frontier is the queue surface the engine drains and refills.
type Frontier interface {
	Put(ctx context.Context, item frontier.Item) error
	Pop(ctx context.Context) (frontier.Item, error)
	Ack(ctx context.Context, handle string) error
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Fetcher returns raw upstream documents, cached or fresh.
type Fetcher interface {
	Fetch(ctx context.Context, service fetchcache.Service, handle string) ([]byte, error)
}

// Extractor parses raw documents. The live implementation wraps the extract
// package; tests substitute stubs.
type Extractor interface {
	Article(raw []byte) (extract.Record, error)
	Citations(raw []byte) ([]string, error)
}

// LiveExtractor is the production Extractor.
type LiveExtractor struct{}

// Article parses a RePEc metadata page.
func (LiveExtractor) Article(raw []byte) (extract.Record, error) { return extract.Article(raw) }

// Citations parses a CiTEc citedby document.
func (LiveExtractor) Citations(raw []byte) ([]string, error) { return extract.Citations(raw) }

// Config holds the engine knobs.
type Config struct {
	// Seeds are the root handles of the crawl.
	Seeds []string
	// LinkBudget caps how many new frontier expansions this run may make.
	// Already-enqueued items are always drained; the budget throttles graph
	// growth, not run completion.
	LinkBudget int
}

// Engine drives one crawl run.
type Engine struct {
	cfg       Config
	frontier  Frontier
	fetcher   Fetcher
	extractor Extractor
	store     store.GraphStore
	logger    *zap.Logger

	runID     string
	linkCount int
}

// New constructs an Engine.
func New(
	cfg Config,
	fr Frontier,
	fetcher Fetcher,
	extractor Extractor,
	graph store.GraphStore,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	return &Engine{
		cfg:       cfg,
		frontier:  fr,
		fetcher:   fetcher,
		extractor: extractor,
		store:     graph,
		logger:    logger.With(zap.String("run_id", runID)),
		runID:     runID,
	}
}

// RunID identifies this run in logs and notifications.
func (e *Engine) RunID() string { return e.runID }

// Run executes the crawl: recover or reset frontier state, seed, then drain
// until the frontier is empty. Per-item failures are logged and the loop
// continues; only store failures and context cancellation are fatal.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.prepare(ctx); err != nil {
		return err
	}

	for {
		item, err := e.frontier.Pop(ctx)
		if errors.Is(err, frontier.ErrEmpty) {
			break
		}
		if err != nil {
			return fmt.Errorf("pop frontier: %w", err)
		}

		pending, lenErr := e.frontier.Len(ctx)
		if lenErr == nil {
			e.logger.Info("processing frontier item",
				zap.String("handle", item.Handle),
				zap.Int("pending", pending),
			)
		}

		if err := e.processItem(ctx, item); err != nil {
			return err
		}
		if err := e.frontier.Ack(ctx, item.Handle); err != nil {
			return fmt.Errorf("ack %s: %w", item.Handle, err)
		}
	}

	e.logger.Info("frontier drained, run complete", zap.Int("link_count", e.linkCount))
	return nil
}

// prepare applies the fresh-destination rule, restores the resumable link
// accounting, and enqueues seeds that are not already ingested.
func (e *Engine) prepare(ctx context.Context) error {
	chains, err := e.store.ChainCount(ctx)
	if err != nil {
		return fmt.Errorf("count chains: %w", err)
	}
	if chains == 0 {
		// Leftover frontier state is only meaningful relative to a non-empty
		// graph; against a reset destination it would replay stale work.
		e.logger.Warn("citation table is empty, discarding persisted frontier state")
		if err := e.frontier.Clear(ctx); err != nil {
			return fmt.Errorf("clear frontier: %w", err)
		}
	}

	pending, err := e.frontier.Len(ctx)
	if err != nil {
		return fmt.Errorf("frontier length: %w", err)
	}
	e.linkCount = pending + int(chains)

	for _, seed := range e.cfg.Seeds {
		existing, err := e.store.ArticleByHandle(ctx, seed)
		if err != nil {
			return fmt.Errorf("look up seed %s: %w", seed, err)
		}
		if existing != nil {
			e.logger.Debug("seed already ingested", zap.String("handle", seed))
			continue
		}
		// Seeds sit at the root of their chains, so the chain starts empty.
		if err := e.frontier.Put(ctx, frontier.Item{Handle: seed}); err != nil {
			return fmt.Errorf("enqueue seed %s: %w", seed, err)
		}
	}
	return nil
}

// processItem runs one item through the state machine. Returned errors are
// fatal to the run; recoverable per-item failures are logged and absorbed.
func (e *Engine) processItem(ctx context.Context, item frontier.Item) error {
	existing, err := e.store.ArticleByHandle(ctx, item.Handle)
	if err != nil {
		return fmt.Errorf("look up %s: %w", item.Handle, err)
	}
	if existing != nil {
		return e.recordAdditionalChain(ctx, item, existing)
	}
	return e.ingestNewArticle(ctx, item)
}

// recordAdditionalChain handles a handle that already has an article row:
// the article is not re-fetched or re-created, but the new discovery path is
// persisted unless it would revisit the article's own id.
func (e *Engine) recordAdditionalChain(ctx context.Context, item frontier.Item, existing *store.Article) error {
	if item.Chain.Contains(existing.ID) {
		cyclesRejected.Inc()
		e.logger.Warn("cycle detected, discarding chain",
			zap.String("handle", item.Handle),
			zap.String("chain", item.Chain.Append(existing.ID).Ltree()),
		)
		return nil
	}
	completed := item.Chain.Append(existing.ID)
	if err := e.store.RecordChain(ctx, existing.ID, completed); err != nil {
		return fmt.Errorf("record chain %s: %w", completed.Ltree(), err)
	}
	chainsRecorded.Inc()
	e.logger.Info("recorded additional discovery path",
		zap.String("handle", item.Handle),
		zap.String("chain", completed.Ltree()),
	)
	return nil
}

// ingestNewArticle fetches, extracts and persists a previously unseen
// article, then expands its outbound citations into the frontier while the
// link budget lasts.
func (e *Engine) ingestNewArticle(ctx context.Context, item frontier.Item) error {
	raw, err := e.fetcher.Fetch(ctx, fetchcache.ServiceRePEc, item.Handle)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("fetch metadata for %s: %w", item.Handle, err)
		}
		e.dropItem(item, "metadata fetch failed", err)
		return nil
	}

	rec, err := e.extractor.Article(raw)
	if err != nil {
		// Malformed upstream data does not self-heal; drop without retry.
		e.dropItem(item, "metadata extraction failed", err)
		return nil
	}

	article, err := e.store.CreateArticle(ctx, store.ArticleRecord{
		Handle:   item.Handle,
		Title:    rec.Title,
		Year:     rec.Year,
		Venue:    rec.Venue,
		Authors:  rec.Authors,
		Abstract: rec.Abstract,
		URL:      rec.URL,
		Keywords: rec.Keywords,
	})
	if err != nil {
		return fmt.Errorf("create article %s: %w", item.Handle, err)
	}
	articlesCreated.Inc()

	completed := item.Chain.Append(article.ID)
	if err := e.store.RecordChain(ctx, article.ID, completed); err != nil {
		return fmt.Errorf("record chain %s: %w", completed.Ltree(), err)
	}
	chainsRecorded.Inc()
	e.logger.Info("article ingested",
		zap.String("handle", item.Handle),
		zap.Int64("article_id", article.ID),
		zap.String("chain", completed.Ltree()),
	)

	if e.linkCount >= e.cfg.LinkBudget {
		e.logger.Info("link budget exhausted, skipping citation expansion",
			zap.String("handle", item.Handle))
		return nil
	}
	return e.expandCitations(ctx, item.Handle, completed)
}

// expandCitations enqueues the citing handles of an ingested article until
// the budget is reached. A Blocked upstream aborts expansion for this item
// only; fabricating an empty citation list from a block would record false
// negatives in the graph.
func (e *Engine) expandCitations(ctx context.Context, handle string, completed chain.Chain) error {
	raw, err := e.fetcher.Fetch(ctx, fetchcache.ServiceCiTEc, handle)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("fetch citations for %s: %w", handle, err)
		}
		e.logger.Warn("citation fetch failed, skipping expansion",
			zap.String("handle", handle), zap.Error(err))
		return nil
	}

	cites, err := e.extractor.Citations(raw)
	switch {
	case errors.Is(err, extract.ErrNotFound):
		e.logger.Info("no citation record upstream", zap.String("handle", handle))
		cites = nil
	case errors.Is(err, extract.ErrBlocked):
		e.logger.Warn("upstream blocked citation lookup, skipping expansion",
			zap.String("handle", handle), zap.Error(err))
		return nil
	case err != nil:
		e.logger.Warn("citation extraction failed, skipping expansion",
			zap.String("handle", handle), zap.Error(err))
		return nil
	}

	for _, cite := range cites {
		if e.linkCount >= e.cfg.LinkBudget {
			e.logger.Info("link budget reached mid-expansion",
				zap.String("handle", handle),
				zap.Int("link_count", e.linkCount),
			)
			break
		}
		if err := e.frontier.Put(ctx, frontier.Item{Handle: cite, Chain: completed}); err != nil {
			return fmt.Errorf("enqueue citation %s: %w", cite, err)
		}
		e.linkCount++
	}
	return nil
}

func (e *Engine) dropItem(item frontier.Item, reason string, err error) {
	itemsDropped.Inc()
	e.logger.Warn("dropping frontier item",
		zap.String("handle", item.Handle),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
