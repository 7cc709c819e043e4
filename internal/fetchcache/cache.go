// Package fetchcache provides the rate-limited, retrying document cache in
// front of the two RePEc upstreams. Raw responses are persisted to a
// namespace-sharded on-disk layout and a cached document is authoritative:
// it is returned as-is with no freshness check and no network access.
package fetchcache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Service identifies an upstream source. It doubles as the top-level cache
// namespace directory.
type Service string

// The two upstream services.
const (
	// ServiceRePEc serves article metadata pages.
	ServiceRePEc Service = "repec"
	// ServiceCiTEc serves citing-reference listings.
	ServiceCiTEc Service = "citec"
)

func (s Service) extension() string {
	if s == ServiceCiTEc {
		return ".xml"
	}
	return ".html"
}

// Fetcher performs one HTTP GET. Implementations must honor the context.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config controls cache placement, pacing and retry behavior.
type Config struct {
	// Root is the cache directory; service namespaces live beneath it.
	Root string
	// CitecUsername is the caller identity the CiTEc API requires.
	CitecUsername string
	// RePEcInterval / CiTEcInterval are the minimum spacings between
	// requests to each service. The cooldown is per service, shared across
	// all handles.
	RePEcInterval time.Duration
	CiTEcInterval time.Duration
	// Timeout bounds a single request attempt.
	Timeout time.Duration
	// BackoffInitial / BackoffCeiling shape the retry delay.
	BackoffInitial time.Duration
	BackoffCeiling time.Duration
}

// Cache is the rate-limited fetch cache. One instance owns the per-service
// cooldown state; sharing an instance between goroutines is safe because the
// limiters serialize access themselves.
type Cache struct {
	cfg      Config
	fetcher  Fetcher
	limiters map[Service]*rate.Limiter
	backoff  backoffPolicy
	logger   *zap.Logger
}

// New builds a Cache. The fetcher is injected so tests can substitute stubs
// for the network.
func New(cfg Config, fetcher Fetcher, logger *zap.Logger) (*Cache, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("cache root is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o750); err != nil {
		return nil, fmt.Errorf("create cache root %s: %w", cfg.Root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Cache{
		cfg:     cfg,
		fetcher: fetcher,
		limiters: map[Service]*rate.Limiter{
			ServiceRePEc: newLimiter(cfg.RePEcInterval),
			ServiceCiTEc: newLimiter(cfg.CiTEcInterval),
		},
		backoff: newBackoffPolicy(cfg.BackoffInitial, cfg.BackoffCeiling),
		logger:  logger,
	}, nil
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Fetch returns the raw document for (service, handle), from disk when
// cached, otherwise from the network. A network fetch retries transient
// failures indefinitely with capped exponential backoff; the only terminal
// error is context cancellation.
func (c *Cache) Fetch(ctx context.Context, service Service, handle string) ([]byte, error) {
	target := c.documentPath(service, handle)
	if data, err := os.ReadFile(target); err == nil {
		cacheHits.WithLabelValues(string(service)).Inc()
		return data, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read cached document %s: %w", target, err)
	}
	cacheMisses.WithLabelValues(string(service)).Inc()

	data, err := c.fetchWithRetry(ctx, service, handle)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir for %s: %w", target, err)
	}
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return nil, fmt.Errorf("write cached document %s: %w", target, err)
	}
	return data, nil
}

func (c *Cache) fetchWithRetry(ctx context.Context, service Service, handle string) ([]byte, error) {
	requestURL := c.requestURL(service, handle)
	limiter := c.limiters[service]

	for attempt := 0; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		data, err := c.fetcher.Fetch(attemptCtx, requestURL)
		cancel()
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", requestURL, ctx.Err())
		}

		delay := c.backoff.Backoff(attempt)
		fetchRetries.WithLabelValues(string(service)).Inc()
		c.logger.Warn("fetch failed, backing off",
			zap.String("service", string(service)),
			zap.String("handle", handle),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch %s: %w", requestURL, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (c *Cache) requestURL(service Service, handle string) string {
	if service == ServiceCiTEc {
		return "http://citec.repec.org/api/citedby/" + handle + "/" + c.cfg.CitecUsername
	}
	return "https://ideas.repec.org/cgi-bin/h.cgi?h=" + url.QueryEscape(handle)
}

// documentPath builds the deterministic cache location for a handle:
// <root>/<service>/<shard>/<escaped-handle><ext>, where the shard is the
// second colon-delimited handle component (the archive code) to bound
// directory fan-out, and the escaped filename replaces path separators.
func (c *Cache) documentPath(service Service, handle string) string {
	escaped := strings.ReplaceAll(handle, "/", "_")
	shard := "unsorted"
	if parts := strings.Split(escaped, ":"); len(parts) > 1 && parts[1] != "" {
		shard = parts[1]
	}
	return filepath.Join(c.cfg.Root, string(service), shard, escaped+service.extension())
}
