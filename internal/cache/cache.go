package cache

import (
	"context"
	"sync"
	"time"

	"pekseg/backend/internal/domain"
)

// CatalogCache holds the resolved catalog of a location between stock
// changes.
type CatalogCache interface {
	GetCatalog(ctx context.Context, locationID string) ([]domain.Item, bool, error)
	SetCatalog(ctx context.Context, locationID string, items []domain.Item, ttl time.Duration) error
	InvalidateCatalog(ctx context.Context, locationID string) error
}

// ScanGuard claims a scan request id once; a second claim within ttl
// reports false. ReleaseScan gives the id back after a failed booking so
// the client can retry it.
type ScanGuard interface {
	ClaimScan(ctx context.Context, requestID string, ttl time.Duration) (bool, error)
	ReleaseScan(ctx context.Context, requestID string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) GetCatalog(_ context.Context, _ string) ([]domain.Item, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetCatalog(_ context.Context, _ string, _ []domain.Item, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) InvalidateCatalog(_ context.Context, _ string) error {
	return nil
}

// LocalScanGuard is the single-process ScanGuard used when no redis is
// configured.
type LocalScanGuard struct {
	mu      sync.Mutex
	claims  map[string]time.Time
	nowFunc func() time.Time
}

func NewLocalScanGuard() *LocalScanGuard {
	return &LocalScanGuard{
		claims:  make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

func (g *LocalScanGuard) ClaimScan(_ context.Context, requestID string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	for id, expires := range g.claims {
		if now.After(expires) {
			delete(g.claims, id)
		}
	}
	if _, taken := g.claims[requestID]; taken {
		return false, nil
	}
	g.claims[requestID] = now.Add(ttl)
	return true, nil
}

func (g *LocalScanGuard) ReleaseScan(_ context.Context, requestID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, requestID)
	return nil
}
