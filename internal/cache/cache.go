package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
)

// SummaryCache holds computed monthly ledger summaries, keyed by the ledger
// generation they were computed under. Any ledger write must call Invalidate
// once its transaction has committed; that bumps the generation, so a
// summary computed before the write is stored under a key nobody reads.
type SummaryCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, gen int64, month string) (*domain.MonthlySummary, bool, error)
	Set(ctx context.Context, gen int64, month string, value *domain.MonthlySummary, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopSummaryCache) Get(_ context.Context, _ int64, _ string) (*domain.MonthlySummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ int64, _ string, _ *domain.MonthlySummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context) error {
	return nil
}

// LocalSummaryCache is the in-process cache used when Redis is not
// configured. Invalidate drops every entry along with bumping the generation.
type LocalSummaryCache struct {
	mu      sync.Mutex
	gen     int64
	entries map[string]localSummary
	now     func() time.Time
}

type localSummary struct {
	value     domain.MonthlySummary
	expiresAt time.Time
}

func NewLocalSummaryCache() *LocalSummaryCache {
	return &LocalSummaryCache{entries: make(map[string]localSummary), now: time.Now}
}

func (c *LocalSummaryCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *LocalSummaryCache) Get(_ context.Context, gen int64, month string) (*domain.MonthlySummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil, false, nil
	}
	entry, ok := c.entries[month]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false, nil
	}
	value := entry.value
	return &value, true, nil
}

func (c *LocalSummaryCache) Set(_ context.Context, gen int64, month string, value *domain.MonthlySummary, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	c.entries[month] = localSummary{value: *value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *LocalSummaryCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	clear(c.entries)
	return nil
}

var (
	// ErrJobRunning is returned when another process holds the job lease.
	ErrJobRunning = errors.New("job already running")
	// ErrLeaseLost is returned by Refresh once the lease has expired and
	// may already belong to someone else.
	ErrLeaseLost = errors.New("job lease lost")
)

// JobLocker hands out exclusive leases for batch jobs such as a full
// reconciliation run.
type JobLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is held for ttl from the last Acquire or Refresh. Long jobs refresh
// it between batches.
type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// LocalJobLocker serializes jobs inside one process. Its leases never
// expire, so Refresh only reports whether the lease was already released.
type LocalJobLocker struct {
	mu   sync.Mutex
	held map[string]*localLease
}

func NewLocalJobLocker() *LocalJobLocker {
	return &LocalJobLocker{held: make(map[string]*localLease)}
}

func (l *LocalJobLocker) Acquire(_ context.Context, key string, _ time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, ErrJobRunning
	}
	lease := &localLease{locker: l, key: key}
	l.held[key] = lease
	return lease, nil
}

type localLease struct {
	locker *LocalJobLocker
	key    string
}

func (l *localLease) Refresh(_ context.Context, _ time.Duration) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.held[l.key] != l {
		return ErrLeaseLost
	}
	return nil
}

func (l *localLease) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.held[l.key] == l {
		delete(l.locker.held, l.key)
	}
	return nil
}
