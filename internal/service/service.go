package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pekseg/backend/internal/cache"
	"pekseg/backend/internal/cart"
	"pekseg/backend/internal/catalog"
	"pekseg/backend/internal/checkout"
	"pekseg/backend/internal/domain"
	"pekseg/backend/internal/eventbus"
	"pekseg/backend/internal/ledger"
	"pekseg/backend/internal/reconcile"
	"pekseg/backend/internal/returns"
	"pekseg/backend/internal/store"
	"pekseg/backend/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

const scanClaimTTL = 10 * time.Minute

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultLocationID string
	CatalogCache      cache.CatalogCache
	CatalogTTL        time.Duration
	ScanGuard         cache.ScanGuard
	Events            eventbus.Publisher
	BackendTimeout    time.Duration
	SweepGrace        time.Duration
}

type Service struct {
	repo              store.Repository
	ledger            *ledger.Ledger
	checkout          *checkout.Processor
	returns           *returns.Processor
	sweeper           *reconcile.Sweeper
	catalogCache      cache.CatalogCache
	catalogTTL        time.Duration
	scanGuard         cache.ScanGuard
	defaultLocationID string
}

func New(repo store.Repository, opts Options) *Service {
	if opts.DefaultLocationID == "" {
		opts.DefaultLocationID = "main-bakery"
	}
	if opts.CatalogCache == nil {
		opts.CatalogCache = cache.NoopCatalogCache{}
	}
	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = 30 * time.Second
	}
	if opts.ScanGuard == nil {
		opts.ScanGuard = cache.NewLocalScanGuard()
	}
	if opts.Events == nil {
		opts.Events = eventbus.NoopPublisher{}
	}

	l := ledger.New(repo, opts.BackendTimeout)
	sales := checkout.NewProcessor(repo, l, opts.Events, opts.BackendTimeout)
	rets := returns.NewProcessor(repo, l, opts.Events, opts.BackendTimeout)

	return &Service{
		repo:              repo,
		ledger:            l,
		checkout:          sales,
		returns:           rets,
		sweeper:           reconcile.NewSweeper(repo, sales, rets, l, opts.Events, opts.SweepGrace),
		catalogCache:      opts.CatalogCache,
		catalogTTL:        opts.CatalogTTL,
		scanGuard:         opts.ScanGuard,
		defaultLocationID: opts.DefaultLocationID,
	}
}

func (s *Service) DefaultLocationID() string {
	return s.defaultLocationID
}

// ListCatalog serves the cached snapshot when one exists. Quotes and
// checkouts never use the cache.
func (s *Service) ListCatalog(ctx context.Context, locationID string) (domain.CatalogResponse, error) {
	locationID = s.location(locationID)

	if items, ok, err := s.catalogCache.GetCatalog(ctx, locationID); err == nil && ok {
		return domain.CatalogResponse{LocationID: locationID, Items: items, Cached: true}, nil
	} else if err != nil {
		log.Warn().Err(err).Str("location_id", locationID).Msg("catalog cache read failed")
	}

	items, err := s.loadCatalog(ctx, locationID)
	if err != nil {
		return domain.CatalogResponse{}, err
	}
	if err := s.catalogCache.SetCatalog(ctx, locationID, items, s.catalogTTL); err != nil {
		log.Warn().Err(err).Str("location_id", locationID).Msg("catalog cache write failed")
	}
	return domain.CatalogResponse{LocationID: locationID, Items: items}, nil
}

func (s *Service) QuoteCart(ctx context.Context, req domain.CartQuoteRequest) (domain.CartQuote, error) {
	locationID := s.location(req.LocationID)
	c, err := s.buildCart(ctx, locationID, req.Lines)
	if err != nil {
		return domain.CartQuote{}, err
	}

	quote := domain.CartQuote{
		LocationID:  locationID,
		Lines:       make([]domain.QuoteLine, 0, c.Len()),
		Total:       c.Total(),
		TaxIncluded: c.TaxIncluded(),
		ChangeDue:   c.ChangeDue(req.AmountTendered),
	}
	for _, line := range c.Lines() {
		quote.Lines = append(quote.Lines, domain.QuoteLine{
			ItemID:    line.Item.ID,
			Name:      line.Item.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.Item.UnitPrice,
			LineTotal: line.Total(),
			Stock:     line.Item.Stock,
		})
	}
	return quote, nil
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	locationID := s.location(req.LocationID)
	c, err := s.buildCart(ctx, locationID, req.Lines)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	actor := actorOrSystem(ctx)
	res, err := s.checkout.Checkout(ctx, c, checkout.Request{
		LocationID:     locationID,
		CashierID:      actor.Username,
		PaymentMethod:  req.PaymentMethod,
		AmountTendered: req.AmountTendered,
	})
	if err != nil {
		return domain.CheckoutResponse{State: string(res.State)}, err
	}

	s.invalidateCatalog(ctx, locationID)
	s.logAudit(ctx, locationID, "checkout", "sale", res.Sale.ID, fmt.Sprintf("number=%s,total=%d,method=%s,warnings=%d", res.Sale.Number, res.Sale.TotalAmount, res.Sale.PaymentMethod, len(res.Warnings)))

	return domain.CheckoutResponse{
		Sale:      *res.Sale,
		ChangeDue: res.ChangeDue,
		Warnings:  res.Warnings,
		State:     string(res.State),
	}, nil
}

// ProcessReturn expects the manager PIN to be checked by the caller, which
// stamps req.ApprovedAt for the audit trail.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	locationID := s.location(req.LocationID)
	if len(req.Lines) == 0 {
		return domain.ReturnResponse{}, domain.NewValidationError("no items selected for return")
	}

	items, err := s.snapshot(ctx, locationID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	lines := make([]returns.Line, 0, len(req.Lines))
	for _, input := range req.Lines {
		item, ok := items[strings.TrimSpace(input.ItemID)]
		if !ok {
			return domain.ReturnResponse{}, domain.NewValidationError("unknown item %q", input.ItemID)
		}
		lines = append(lines, returns.Line{Item: item, Quantity: input.Quantity})
	}

	actor := actorOrSystem(ctx)
	res, err := s.returns.Process(ctx, returns.Request{
		LocationID:  locationID,
		ProcessedBy: actor.Username,
		Reason:      req.Reason,
		Lines:       lines,
	})
	if err != nil {
		return domain.ReturnResponse{State: string(res.State)}, err
	}

	s.invalidateCatalog(ctx, locationID)
	detail := fmt.Sprintf("number=%s,total=%d,reason=%s", res.Return.Number, res.Return.TotalAmount, res.Return.Reason)
	if !req.ApprovedAt.IsZero() {
		detail += ",pin_approved_at=" + req.ApprovedAt.Format(time.RFC3339)
	}
	s.logAudit(ctx, locationID, "return", "return", res.Return.ID, detail)

	return domain.ReturnResponse{
		Return:   *res.Return,
		Warnings: res.Warnings,
		State:    string(res.State),
	}, nil
}

// Scan looks a decoded code up at the location. In sale mode the item is
// returned for the client cart; in stock mode the quantity is booked as an
// addition, at most once per request id.
func (s *Service) Scan(ctx context.Context, req domain.ScanRequest) (domain.ScanResponse, error) {
	locationID := s.location(req.LocationID)
	code := strings.TrimSpace(req.Code.Value)
	if code == "" {
		return domain.ScanResponse{}, domain.NewValidationError("scan code is required")
	}
	scanType := req.Code.Type
	switch scanType {
	case "":
		scanType = domain.ScanBarcode
	case domain.ScanBarcode, domain.ScanQRCode, domain.ScanManual:
	default:
		return domain.ScanResponse{}, domain.NewValidationError("unsupported scan type %q", scanType)
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ScanModeSale
	}

	inv, err := s.repo.FindInventoryItemByCode(ctx, locationID, code)
	if err != nil {
		return domain.ScanResponse{}, persistence("find item by code", err)
	}
	products, err := s.repo.GetProductsByIDs(ctx, catalog.ProductIDs([]domain.InventoryItem{*inv}))
	if err != nil {
		return domain.ScanResponse{}, persistence("load products", err)
	}
	item := catalog.Resolve(*inv, products)

	switch mode {
	case domain.ScanModeSale:
		return domain.ScanResponse{Item: item, Mode: mode}, nil
	case domain.ScanModeStock:
	default:
		return domain.ScanResponse{}, domain.NewValidationError("unsupported scan mode %q", mode)
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return domain.ScanResponse{}, domain.NewValidationError("scan quantity must be positive")
	}

	requestID := strings.TrimSpace(req.RequestID)
	idempotencyKey := ""
	claimed := false
	if requestID != "" {
		idempotencyKey = "scan/" + requestID
		ok, err := s.scanGuard.ClaimScan(ctx, requestID, scanClaimTTL)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("request_id", requestID).Msg("scan guard unavailable, relying on ledger key")
		case ok:
			claimed = true
		default:
			// The ledger key decides: a claim whose booking failed has no movement.
			existing, err := s.ledger.Lookup(ctx, idempotencyKey)
			if err != nil {
				return domain.ScanResponse{}, err
			}
			if existing != nil {
				return domain.ScanResponse{Item: item, Mode: mode, Movement: existing, Duplicate: true}, nil
			}
		}
	}

	reason := "scan:" + string(scanType)
	if scanType == domain.ScanManual {
		reason = "manual"
	}
	res, err := s.ledger.Apply(ctx, ledger.Movement{
		ItemID:         item.ID,
		Type:           domain.MovementAddition,
		Quantity:       quantity,
		Reason:         reason,
		ActorID:        actorOrSystem(ctx).Username,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		if claimed {
			if releaseErr := s.scanGuard.ReleaseScan(context.WithoutCancel(ctx), requestID); releaseErr != nil {
				log.Warn().Err(releaseErr).Str("request_id", requestID).Msg("scan claim not released")
			}
		}
		return domain.ScanResponse{}, err
	}

	item.Stock = res.StockAfter
	s.invalidateCatalog(ctx, locationID)
	if !res.Replayed {
		s.logAudit(ctx, locationID, "stock_scan", "inventory_item", item.ID, fmt.Sprintf("qty=%d,code=%s", quantity, code))
	}
	return domain.ScanResponse{Item: item, Mode: mode, Movement: res.Movement, Duplicate: res.Replayed}, nil
}

// CreateLocationItem adds an inventory row to a location and books its
// opening stock as an initial movement.
func (s *Service) CreateLocationItem(ctx context.Context, req domain.InventoryItemCreateRequest) (domain.Item, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}

	locationID := s.location(req.LocationID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Unit == "" {
		req.Unit = "pcs"
	}

	if req.ProductID == "" && req.Name == "" {
		return domain.Item{}, domain.NewValidationError("name is required for a location-specific item")
	}
	if req.SellingPrice < 1 {
		return domain.Item{}, domain.NewValidationError("selling price must be positive")
	}
	if req.InitialStock < 0 {
		return domain.Item{}, domain.NewValidationError("initial stock cannot be negative")
	}
	if req.CostPrice != nil && *req.CostPrice < 0 {
		return domain.Item{}, domain.NewValidationError("cost price cannot be negative")
	}
	if req.TaxPercent != nil && (*req.TaxPercent < 0 || *req.TaxPercent > 100) {
		return domain.Item{}, domain.NewValidationError("tax percent must be between 0 and 100")
	}

	created, err := s.repo.CreateInventoryItem(ctx, domain.InventoryItem{
		ID:               xid.New("inv"),
		LocationID:       locationID,
		ProductID:        req.ProductID,
		Name:             req.Name,
		Category:         req.Category,
		Unit:             req.Unit,
		SellingPrice:     req.SellingPrice,
		CostPrice:        req.CostPrice,
		TaxPercent:       req.TaxPercent,
		Barcode:          strings.TrimSpace(req.Barcode),
		QRCode:           strings.TrimSpace(req.QRCode),
		LocationSpecific: req.ProductID == "",
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Item{}, domain.NewValidationError("unknown product %q", req.ProductID)
		}
		return domain.Item{}, persistence("create inventory item", err)
	}

	if req.InitialStock > 0 {
		if _, err := s.ledger.Apply(ctx, ledger.Movement{
			ItemID:         created.ID,
			Type:           domain.MovementAddition,
			Quantity:       req.InitialStock,
			Reason:         "initial",
			ActorID:        actorOrSystem(ctx).Username,
			IdempotencyKey: "initial/" + created.ID,
		}); err != nil {
			return domain.Item{}, err
		}
		created.CurrentStock = req.InitialStock
	}

	products, err := s.repo.GetProductsByIDs(ctx, catalog.ProductIDs([]domain.InventoryItem{*created}))
	if err != nil {
		return domain.Item{}, persistence("load products", err)
	}
	item := catalog.Resolve(*created, products)

	s.invalidateCatalog(ctx, locationID)
	s.logAudit(ctx, locationID, "inventory_item_create", "inventory_item", item.ID, fmt.Sprintf("name=%s,price=%d,stock=%d", item.Name, item.UnitPrice, req.InitialStock))
	return item, nil
}

func (s *Service) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	filter.LocationID = s.location(filter.LocationID)
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	movements, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, persistence("list movements", err)
	}
	return movements, nil
}

func (s *Service) ReconcileItem(ctx context.Context, itemID string) (domain.Reconciliation, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.Reconciliation{}, domain.NewValidationError("item id is required")
	}
	return s.ledger.Reconcile(ctx, itemID)
}

// CheckLocation returns the items of a location whose stock no longer
// matches their movements.
func (s *Service) CheckLocation(ctx context.Context, locationID string) ([]domain.Reconciliation, error) {
	return s.sweeper.CheckItems(ctx, s.location(locationID))
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleTransaction, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.SaleTransaction{}, persistence("get sale", err)
	}
	return *sale, nil
}

func (s *Service) GetReturn(ctx context.Context, id string) (domain.ReturnRecord, error) {
	record, err := s.repo.GetReturn(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.ReturnRecord{}, persistence("get return", err)
	}
	return *record, nil
}

func (s *Service) SweepPending(ctx context.Context) (domain.SweepReport, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.SweepReport{}, err
	}
	report, err := s.sweeper.Sweep(ctx)
	s.afterSweep(report)
	if err != nil {
		return report, err
	}
	s.logAudit(ctx, s.defaultLocationID, "ledger_sweep", "ledger", "", fmt.Sprintf("sales=%d,returns=%d,pending=%d", report.SalesSettled, report.ReturnsSettled, report.StillPending))
	return report, nil
}

// RunSweeper blocks until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	s.sweeper.Run(ctx, interval, s.afterSweep)
}

// afterSweep drops the cached catalog of every location a sweep touched.
func (s *Service) afterSweep(report domain.SweepReport) {
	ctx := context.Background()
	for _, locationID := range report.Locations {
		s.invalidateCatalog(ctx, locationID)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, locationID string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	logs, err := s.repo.ListAuditLogs(ctx, s.location(locationID), limit)
	if err != nil {
		return nil, persistence("list audit logs", err)
	}
	return logs, nil
}

func (s *Service) loadCatalog(ctx context.Context, locationID string) ([]domain.Item, error) {
	rows, err := s.repo.ListInventoryItems(ctx, locationID)
	if err != nil {
		return nil, persistence("list inventory items", err)
	}
	products, err := s.repo.GetProductsByIDs(ctx, catalog.ProductIDs(rows))
	if err != nil {
		return nil, persistence("load products", err)
	}
	return catalog.ResolveAll(rows, products), nil
}

func (s *Service) snapshot(ctx context.Context, locationID string) (map[string]domain.Item, error) {
	items, err := s.loadCatalog(ctx, locationID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	return byID, nil
}

// buildCart replays client lines onto an empty cart against live stock, so
// the usual cart limits apply to every request.
func (s *Service) buildCart(ctx context.Context, locationID string, inputs []domain.CartLineInput) (cart.Cart, error) {
	if len(inputs) == 0 {
		return cart.Cart{}, domain.NewValidationError("cart is empty")
	}
	items, err := s.snapshot(ctx, locationID)
	if err != nil {
		return cart.Cart{}, err
	}

	c := cart.New()
	for _, input := range inputs {
		itemID := strings.TrimSpace(input.ItemID)
		item, ok := items[itemID]
		if !ok {
			return cart.Cart{}, domain.NewValidationError("unknown item %q", input.ItemID)
		}
		if input.Quantity <= 0 {
			return cart.Cart{}, domain.NewValidationError("quantity for %s must be positive", itemID)
		}

		existing := c.Quantity(itemID)
		if existing == 0 {
			if c, err = c.AddLine(item, item.Stock); err != nil {
				return cart.Cart{}, err
			}
		}
		if c, err = c.SetQuantity(itemID, existing+input.Quantity, item.Stock); err != nil {
			return cart.Cart{}, err
		}
	}
	return c, nil
}

func (s *Service) invalidateCatalog(ctx context.Context, locationID string) {
	if err := s.catalogCache.InvalidateCatalog(ctx, locationID); err != nil {
		log.Warn().Err(err).Str("location_id", locationID).Msg("catalog cache invalidation failed")
	}
}

func (s *Service) location(locationID string) string {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return s.defaultLocationID
	}
	return locationID
}

func (s *Service) logAudit(ctx context.Context, locationID string, action string, entityType string, entityID string, detail string) {
	actor := actorOrSystem(ctx)
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		LocationID:    s.location(locationID),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("action", action).Str("entity", entityType+"/"+entityID).Msg("failed to write audit log")
	}
}

func actorOrSystem(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{Username: "system", Role: "system"}
	}
	return actor
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func persistence(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}
