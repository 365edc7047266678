package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pekseg/backend/internal/domain"
	"pekseg/backend/internal/store"
	"pekseg/backend/internal/store/memory"
)

type mapCatalogCache struct {
	mu          sync.Mutex
	items       map[string][]domain.Item
	invalidated int
}

func (c *mapCatalogCache) GetCatalog(_ context.Context, locationID string) ([]domain.Item, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.items[locationID]
	return items, ok, nil
}

func (c *mapCatalogCache) SetCatalog(_ context.Context, locationID string, items []domain.Item, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[string][]domain.Item)
	}
	c.items[locationID] = items
	return nil
}

func (c *mapCatalogCache) InvalidateCatalog(_ context.Context, locationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, locationID)
	c.invalidated++
	return nil
}

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, Options{DefaultLocationID: memory.DefaultLocationID}), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func stockOf(t *testing.T, repo *memory.Store, id string) int {
	t.Helper()
	item, err := repo.GetInventoryItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get item %s: %v", id, err)
	}
	return item.CurrentStock
}

func TestListCatalogResolvesLinkedAndStandaloneItems(t *testing.T) {
	repo := memory.NewSeeded()
	c := &mapCatalogCache{}
	svc := New(repo, Options{CatalogCache: c})

	resp, err := svc.ListCatalog(context.Background(), "")
	if err != nil {
		t.Fatalf("list catalog: %v", err)
	}
	if resp.LocationID != "main-bakery" || resp.Cached {
		t.Fatalf("unexpected response header: %+v", resp)
	}

	byID := make(map[string]domain.Item, len(resp.Items))
	for _, item := range resp.Items {
		byID[item.ID] = item
	}
	croissant := byID["inv-croissant"]
	if !croissant.Linked || croissant.UnitPrice != 450 || croissant.Name != "Vajas croissant" {
		t.Fatalf("expected linked croissant at location price, got %+v", croissant)
	}
	limonade := byID["inv-limonade"]
	if limonade.Linked || limonade.UnitPrice != 690 || limonade.TaxPercent != 27 {
		t.Fatalf("expected standalone limonade, got %+v", limonade)
	}

	again, err := svc.ListCatalog(context.Background(), "main-bakery")
	if err != nil {
		t.Fatalf("list catalog again: %v", err)
	}
	if !again.Cached {
		t.Fatalf("expected second read to be served from cache")
	}
}

func TestCheckoutReducesStockAndClearsCache(t *testing.T) {
	repo := memory.NewSeeded()
	c := &mapCatalogCache{}
	svc := New(repo, Options{CatalogCache: c})
	ctx := cashierCtx()

	if _, err := svc.ListCatalog(ctx, ""); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentMethod:  "cash",
		AmountTendered: 1500,
		Lines:          []domain.CartLineInput{{ItemID: "inv-croissant", Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if resp.Sale.TotalAmount != 1350 || resp.ChangeDue != 150 {
		t.Fatalf("unexpected totals: total=%d change=%d", resp.Sale.TotalAmount, resp.ChangeDue)
	}
	if resp.Sale.CashierID != "cashier" || resp.Sale.Status != domain.StatusSettled {
		t.Fatalf("unexpected sale: %+v", resp.Sale)
	}
	if resp.Sale.TaxIncluded != 287 {
		t.Fatalf("expected 287 VAT included, got %d", resp.Sale.TaxIncluded)
	}
	if len(resp.Warnings) != 0 || resp.State != "completed" {
		t.Fatalf("unexpected outcome: state=%s warnings=%v", resp.State, resp.Warnings)
	}
	if got := stockOf(t, repo, "inv-croissant"); got != 2 {
		t.Fatalf("expected stock 2, got %d", got)
	}
	if c.invalidated == 0 {
		t.Fatalf("expected catalog cache invalidation after checkout")
	}

	stored, err := svc.GetSale(ctx, resp.Sale.ID)
	if err != nil || stored.Number != resp.Sale.Number {
		t.Fatalf("get sale: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) == 0 || logs[0].Action != "checkout" {
		t.Fatalf("expected checkout audit entry, got %+v", logs)
	}
}

func TestCheckoutRejectsQuantityBeyondStock(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		PaymentMethod: "card",
		Lines:         []domain.CartLineInput{{ItemID: "inv-croissant", Quantity: 6}},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := stockOf(t, repo, "inv-croissant"); got != 5 {
		t.Fatalf("expected untouched stock, got %d", got)
	}
}

func TestCheckoutRejectsShortCash(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		PaymentMethod:  "cash",
		AmountTendered: 100,
		Lines:          []domain.CartLineInput{{ItemID: "inv-kenyer", Quantity: 1}},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if resp.State != "idle" {
		t.Fatalf("expected idle state, got %q", resp.State)
	}
}

func TestQuoteCartMergesRepeatedLines(t *testing.T) {
	svc, _ := newTestService()

	quote, err := svc.QuoteCart(context.Background(), domain.CartQuoteRequest{
		AmountTendered: 5000,
		Lines: []domain.CartLineInput{
			{ItemID: "inv-croissant", Quantity: 2},
			{ItemID: "inv-kenyer", Quantity: 1},
			{ItemID: "inv-croissant", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if len(quote.Lines) != 2 || quote.Lines[0].Quantity != 3 {
		t.Fatalf("expected merged croissant line, got %+v", quote.Lines)
	}
	if quote.Total != 3*450+990 || quote.ChangeDue != 5000-quote.Total {
		t.Fatalf("unexpected totals: %+v", quote)
	}

	if _, err := svc.QuoteCart(context.Background(), domain.CartQuoteRequest{
		Lines: []domain.CartLineInput{{ItemID: "inv-croissant", Quantity: 4}, {ItemID: "inv-croissant", Quantity: 2}},
	}); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected merged quantity to hit stock limit, got %v", err)
	}
	if _, err := svc.QuoteCart(context.Background(), domain.CartQuoteRequest{
		Lines: []domain.CartLineInput{{ItemID: "inv-unknown", Quantity: 1}},
	}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected unknown item to be rejected, got %v", err)
	}
}

func TestProcessReturnAddsStock(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentMethod: "card",
		Lines:         []domain.CartLineInput{{ItemID: "inv-croissant", Quantity: 3}},
	}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	resp, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		Reason: "sérült",
		Lines:  []domain.CartLineInput{{ItemID: "inv-croissant", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if resp.Return.TotalAmount != 900 {
		t.Fatalf("expected return total 900, got %d", resp.Return.TotalAmount)
	}
	if got := stockOf(t, repo, "inv-croissant"); got != 4 {
		t.Fatalf("expected stock 4, got %d", got)
	}

	record, err := svc.GetReturn(ctx, resp.Return.ID)
	if err != nil || record.Status != domain.StatusSettled {
		t.Fatalf("get return: %+v %v", record, err)
	}
}

func TestScanStockModeBooksOncePerRequest(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	req := domain.ScanRequest{
		Code:      domain.ScanCode{Value: "2000000000015", Type: domain.ScanBarcode},
		Mode:      domain.ScanModeStock,
		Quantity:  3,
		RequestID: "scan-req-1",
	}
	first, err := svc.Scan(ctx, req)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if first.Duplicate || first.Movement == nil || first.Movement.Reason != "scan:barcode" {
		t.Fatalf("unexpected first scan: %+v", first)
	}

	second, err := svc.Scan(ctx, req)
	if err != nil {
		t.Fatalf("repeat scan: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected repeated request to be flagged duplicate")
	}
	if got := stockOf(t, repo, "inv-pogacsa"); got != 23 {
		t.Fatalf("expected stock 23, got %d", got)
	}
}

// flakyStock fails the first stock update and delegates afterwards.
type flakyStock struct {
	*memory.Store
	mu    sync.Mutex
	fails int
}

func (f *flakyStock) CompareAndSwapStock(ctx context.Context, itemID string, expected int, next int) (bool, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return false, errors.New("db down")
	}
	f.mu.Unlock()
	return f.Store.CompareAndSwapStock(ctx, itemID, expected, next)
}

func TestScanRetryAfterFailedBookingIsApplied(t *testing.T) {
	repo := &flakyStock{Store: memory.NewSeeded(), fails: 1}
	svc := New(repo, Options{DefaultLocationID: memory.DefaultLocationID})
	ctx := cashierCtx()

	req := domain.ScanRequest{
		Code:      domain.ScanCode{Value: "2000000000015", Type: domain.ScanBarcode},
		Mode:      domain.ScanModeStock,
		Quantity:  4,
		RequestID: "req-1",
	}
	if _, err := svc.Scan(ctx, req); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error on first attempt, got %v", err)
	}
	if got := stockOf(t, repo.Store, "inv-pogacsa"); got != 20 {
		t.Fatalf("expected untouched stock 20, got %d", got)
	}

	retry, err := svc.Scan(ctx, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Duplicate || retry.Movement == nil {
		t.Fatalf("expected retry to book the addition, got %+v", retry)
	}
	if got := stockOf(t, repo.Store, "inv-pogacsa"); got != 24 {
		t.Fatalf("expected stock 24 after retry, got %d", got)
	}

	again, err := svc.Scan(ctx, req)
	if err != nil || !again.Duplicate {
		t.Fatalf("expected third submission to be a duplicate, got %+v %v", again, err)
	}
	if got := stockOf(t, repo.Store, "inv-pogacsa"); got != 24 {
		t.Fatalf("expected stock to stay 24, got %d", got)
	}
}

// stuckGuard never grants a claim, as after a crash between claim and booking.
type stuckGuard struct{}

func (stuckGuard) ClaimScan(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return false, nil
}

func (stuckGuard) ReleaseScan(_ context.Context, _ string) error {
	return nil
}

func TestScanWithStaleClaimStillBooksOnce(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, Options{DefaultLocationID: memory.DefaultLocationID, ScanGuard: stuckGuard{}})
	ctx := cashierCtx()

	req := domain.ScanRequest{
		Code:      domain.ScanCode{Value: "2000000000015"},
		Mode:      domain.ScanModeStock,
		Quantity:  2,
		RequestID: "req-stale",
	}
	first, err := svc.Scan(ctx, req)
	if err != nil || first.Duplicate {
		t.Fatalf("expected first scan to book, got %+v %v", first, err)
	}
	second, err := svc.Scan(ctx, req)
	if err != nil || !second.Duplicate || second.Movement == nil {
		t.Fatalf("expected ledger-backed duplicate, got %+v %v", second, err)
	}
	if got := stockOf(t, repo, "inv-pogacsa"); got != 22 {
		t.Fatalf("expected stock 22, got %d", got)
	}
}

func TestScanSaleModeMatchesProductBarcodeAndQRCode(t *testing.T) {
	svc, repo := newTestService()

	resp, err := svc.Scan(context.Background(), domain.ScanRequest{Code: domain.ScanCode{Value: "5990000000011"}})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if resp.Item.ID != "inv-croissant" || resp.Movement != nil {
		t.Fatalf("unexpected sale scan: %+v", resp)
	}

	resp, err = svc.Scan(context.Background(), domain.ScanRequest{Code: domain.ScanCode{Value: "LIMONADE-MAIN", Type: domain.ScanQRCode}})
	if err != nil || resp.Item.ID != "inv-limonade" {
		t.Fatalf("qr scan: %+v %v", resp, err)
	}
	if got := stockOf(t, repo, "inv-limonade"); got != 10 {
		t.Fatalf("sale scan must not touch stock, got %d", got)
	}
}

func TestScanUnknownCodeIsNotFound(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Scan(context.Background(), domain.ScanRequest{Code: domain.ScanCode{Value: "0000000000000"}})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateLocationItemBooksInitialStock(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.CreateLocationItem(cashierCtx(), domain.InventoryItemCreateRequest{Name: "Rétes", SellingPrice: 650}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for cashier, got %v", err)
	}

	item, err := svc.CreateLocationItem(adminCtx(), domain.InventoryItemCreateRequest{
		Name:         "Almás rétes",
		Category:     "pastry",
		SellingPrice: 650,
		QRCode:       "RETES-MAIN",
		InitialStock: 7,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if item.Linked || item.Stock != 7 || item.Unit != "pcs" {
		t.Fatalf("unexpected item: %+v", item)
	}

	rec, err := svc.ReconcileItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Consistent || rec.Replayed != 7 {
		t.Fatalf("expected consistent ledger, got %+v", rec)
	}

	movements, err := svc.ListMovements(context.Background(), domain.MovementFilter{ItemID: item.ID})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 || movements[0].Reason != "initial" {
		t.Fatalf("expected one initial movement, got %+v", movements)
	}
}

func TestCreateLocationItemRejectsUnknownProduct(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateLocationItem(adminCtx(), domain.InventoryItemCreateRequest{ProductID: "prod-missing", SellingPrice: 100})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckLocationFindsNoDriftAfterSales(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentMethod: "card",
		Lines:         []domain.CartLineInput{{ItemID: "inv-csiga", Quantity: 4}, {ItemID: "inv-kenyer", Quantity: 2}},
	}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	drift, err := svc.CheckLocation(ctx, "")
	if err != nil {
		t.Fatalf("check location: %v", err)
	}
	if len(drift) != 0 {
		t.Fatalf("expected no drift, got %+v", drift)
	}
}

func TestSweepPendingRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.SweepPending(cashierCtx()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	report, err := svc.SweepPending(adminCtx())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.SalesSettled != 0 || report.StillPending != 0 {
		t.Fatalf("expected empty sweep, got %+v", report)
	}
}

func TestSweepPendingInvalidatesEveryTouchedLocation(t *testing.T) {
	repo := memory.NewSeeded()
	c := &mapCatalogCache{items: map[string][]domain.Item{
		memory.DefaultLocationID: {{ID: "inv-croissant"}},
		"branch-buda":            {{ID: "inv-buda-kifli"}},
	}}
	svc := New(repo, Options{DefaultLocationID: memory.DefaultLocationID, CatalogCache: c})
	ctx := context.Background()

	if _, err := repo.CreateInventoryItem(ctx, domain.InventoryItem{
		ID: "inv-buda-kifli", LocationID: "branch-buda", Name: "Kifli", Unit: "db", SellingPrice: 90, LocationSpecific: true,
	}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := repo.CreateSale(ctx, domain.SaleTransaction{
		ID: "sale-buda", Number: "S-BUDA-1", LocationID: "branch-buda", PaymentMethod: "card",
		Lines:       []domain.SaleLine{{ItemID: "inv-buda-kifli", Name: "Kifli", Quantity: 2, UnitPrice: 90, LineTotal: 180}},
		TotalAmount: 180, AmountTendered: 180, Status: domain.StatusPending,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	report, err := svc.SweepPending(adminCtx())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.SalesSettled != 1 || len(report.Locations) != 1 || report.Locations[0] != "branch-buda" {
		t.Fatalf("unexpected report: %+v", report)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, cached := c.items["branch-buda"]; cached {
		t.Fatalf("expected branch-buda catalog to be invalidated")
	}
	if _, cached := c.items[memory.DefaultLocationID]; !cached {
		t.Fatalf("expected untouched location to stay cached")
	}
}
