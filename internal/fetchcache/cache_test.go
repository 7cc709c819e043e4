package fetchcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubFetcher struct {
	responses map[string][]byte
	err       error
	failures  int
	calls     int
}

func (s *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("transient upstream failure")
	}
	if s.err != nil {
		return nil, s.err
	}
	if body, ok := s.responses[url]; ok {
		return body, nil
	}
	return []byte("default body"), nil
}

func newTestCache(t *testing.T, fetcher Fetcher, cfg Config) *Cache {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = time.Millisecond
		cfg.BackoffCeiling = 4 * time.Millisecond
	}
	c, err := New(cfg, fetcher, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestFetchMissWritesShardedLayout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	fetcher := &stubFetcher{}
	c := newTestCache(t, fetcher, Config{Root: root})

	handle := "RePEc:ecm:emetrp:v:53:y:1985:i:2:p:385-407"
	body, err := c.Fetch(context.Background(), ServiceRePEc, handle)
	require.NoError(t, err)
	require.Equal(t, []byte("default body"), body)

	want := filepath.Join(root, "repec", "ecm", "RePEc:ecm:emetrp:v:53:y:1985:i:2:p:385-407.html")
	onDisk, err := os.ReadFile(want)
	require.NoError(t, err)
	require.Equal(t, body, onDisk)
}

func TestFetchEscapesPathSeparators(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c := newTestCache(t, &stubFetcher{}, Config{Root: root, CitecUsername: "user"})

	_, err := c.Fetch(context.Background(), ServiceCiTEc, "RePEc:wop:some/paper")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(root, "citec", "wop", "RePEc:wop:some_paper.xml"))
	require.NoError(t, statErr)
}

func TestFetchHitSkipsNetwork(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{responses: map[string][]byte{}}
	c := newTestCache(t, fetcher, Config{})

	handle := "RePEc:bla:jfinan:v:41:y:1986:i:5:p:1011-29"
	first, err := c.Fetch(context.Background(), ServiceRePEc, handle)
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.calls)

	// Any further call on the stub would mean a second network access.
	fetcher.err = errors.New("fetcher must not be invoked after the cache write")
	second, err := c.Fetch(context.Background(), ServiceRePEc, handle)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, fetcher.calls)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{failures: 3}
	c := newTestCache(t, fetcher, Config{})

	body, err := c.Fetch(context.Background(), ServiceRePEc, "RePEc:aaa:bbb:1")
	require.NoError(t, err)
	require.Equal(t, []byte("default body"), body)
	require.Equal(t, 4, fetcher.calls)
}

func TestFetchCanceledContextIsTerminal(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{err: errors.New("always failing")}
	c := newTestCache(t, fetcher, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, ServiceRePEc, "RePEc:aaa:bbb:2")
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchEnforcesPerServiceSpacing(t *testing.T) {
	t.Parallel()

	const interval = 100 * time.Millisecond
	c := newTestCache(t, &stubFetcher{}, Config{
		RePEcInterval: interval,
		CiTEcInterval: interval,
		CitecUsername: "user",
	})

	ctx := context.Background()
	start := time.Now()
	_, err := c.Fetch(ctx, ServiceRePEc, "RePEc:one:arch:1")
	require.NoError(t, err)
	_, err = c.Fetch(ctx, ServiceRePEc, "RePEc:one:arch:2")
	require.NoError(t, err)
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 80*time.Millisecond,
		"second miss to the same service should wait out the cooldown")

	// A different service has its own cooldown clock.
	start = time.Now()
	_, err = c.Fetch(ctx, ServiceCiTEc, "RePEc:one:arch:1")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestBackoffDoublesToCeiling(t *testing.T) {
	t.Parallel()

	p := newBackoffPolicy(100*time.Millisecond, 400*time.Millisecond)
	require.Equal(t, 100*time.Millisecond, p.Backoff(0))
	require.Equal(t, 200*time.Millisecond, p.Backoff(1))
	require.Equal(t, 400*time.Millisecond, p.Backoff(2))
	require.Equal(t, 400*time.Millisecond, p.Backoff(10))
}
