package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"pekseg/backend/internal/domain"
)

func TestLocalScanGuardClaimsOnce(t *testing.T) {
	g := NewLocalScanGuard()
	now := time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC)
	g.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := g.ClaimScan(ctx, "req-1", time.Minute)
	if !ok {
		t.Fatalf("expected first claim to succeed")
	}
	ok, _ = g.ClaimScan(ctx, "req-1", time.Minute)
	if ok {
		t.Fatalf("expected duplicate claim to be rejected")
	}

	now = now.Add(2 * time.Minute)
	ok, _ = g.ClaimScan(ctx, "req-1", time.Minute)
	if !ok {
		t.Fatalf("expected claim after expiry to succeed")
	}
}

func TestLocalScanGuardReleaseAllowsRetry(t *testing.T) {
	g := NewLocalScanGuard()
	ctx := context.Background()

	if ok, _ := g.ClaimScan(ctx, "req-2", time.Minute); !ok {
		t.Fatalf("expected first claim to succeed")
	}
	if err := g.ReleaseScan(ctx, "req-2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := g.ClaimScan(ctx, "req-2", time.Minute); !ok {
		t.Fatalf("expected claim after release to succeed")
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("PEKSEG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set PEKSEG_TEST_REDIS_ADDR to run redis integration test")
	}

	c := NewRedisCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	loc := "it-" + time.Now().Format("150405.000")
	items := []domain.Item{{ID: "inv-croissant", Name: "Vajas croissant", UnitPrice: 450, Stock: 5}}
	if err := c.SetCatalog(ctx, loc, items, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.GetCatalog(ctx, loc)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0].UnitPrice != 450 {
		t.Fatalf("unexpected cached catalog: %+v", got)
	}

	if err := c.InvalidateCatalog(ctx, loc); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.GetCatalog(ctx, loc); ok {
		t.Fatalf("expected cache miss after invalidation")
	}

	first, err := c.ClaimScan(ctx, loc, time.Minute)
	if err != nil || !first {
		t.Fatalf("expected first scan claim, got %v %v", first, err)
	}
	second, _ := c.ClaimScan(ctx, loc, time.Minute)
	if second {
		t.Fatalf("expected duplicate scan claim to fail")
	}
	if err := c.ReleaseScan(ctx, loc); err != nil {
		t.Fatalf("release: %v", err)
	}
	third, _ := c.ClaimScan(ctx, loc, time.Minute)
	if !third {
		t.Fatalf("expected claim after release to succeed")
	}
}
