package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"pekseg/backend/internal/domain"
	"pekseg/backend/internal/store"
	"pekseg/backend/internal/xid"
)

const DefaultLocationID = "main-bakery"

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	inventory       map[string]domain.InventoryItem
	inventoryOrder  []string
	movements       []domain.InventoryMovement
	movementsByKey  map[string]int
	salesByID       map[string]domain.SaleTransaction
	returnsByID     map[string]domain.ReturnRecord
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store with no users.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		inventory:       make(map[string]domain.InventoryItem),
		movementsByKey:  make(map[string]int),
		salesByID:       make(map[string]domain.SaleTransaction),
		returnsByID:     make(map[string]domain.ReturnRecord),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, falling back to
// hardcoded dev values with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func floatPtr(v float64) *float64 { return &v }

// NewSeeded returns a store holding a small bakery catalog for the
// main-bakery location. Opening stock is booked as "initial" movements.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	for _, p := range []domain.Product{
		{ID: "prod-croissant", Name: "Vajas croissant", Category: "pastry", BasePrice: 500, Barcode: "5990000000011"},
		{ID: "prod-csiga", Name: "Kakaós csiga", Category: "pastry", BasePrice: 520, Barcode: "5990000000028"},
		{ID: "prod-kenyer", Name: "Fehér kenyér", Category: "bread", BasePrice: 890, TaxPercent: floatPtr(18), Barcode: "5990000000035"},
		{ID: "prod-pogacsa", Name: "Túrós pogácsa", Category: "savoury", BasePrice: 380},
	} {
		s.products[p.ID] = p
	}

	for _, seed := range []struct {
		item  domain.InventoryItem
		stock int
	}{
		{domain.InventoryItem{ID: "inv-croissant", ProductID: "prod-croissant", Name: "Croissant", Category: "pastry", Unit: "db", SellingPrice: 450}, 5},
		{domain.InventoryItem{ID: "inv-csiga", ProductID: "prod-csiga", Name: "Csiga", Category: "pastry", Unit: "db", SellingPrice: 520}, 12},
		{domain.InventoryItem{ID: "inv-kenyer", ProductID: "prod-kenyer", Name: "Kenyér", Category: "bread", Unit: "db", SellingPrice: 990}, 8},
		{domain.InventoryItem{ID: "inv-pogacsa", ProductID: "prod-pogacsa", Name: "Pogácsa", Category: "savoury", Unit: "db", SellingPrice: 380, Barcode: "2000000000015"}, 20},
		{domain.InventoryItem{ID: "inv-limonade", Name: "Házi limonádé", Category: "drinks", Unit: "pohár", SellingPrice: 690, QRCode: "LIMONADE-MAIN", LocationSpecific: true}, 10},
	} {
		s.seedItem(DefaultLocationID, seed.item, seed.stock)
	}
	return s
}

func (s *Store) seedItem(locationID string, item domain.InventoryItem, stock int) {
	now := time.Now().UTC()
	item.LocationID = locationID
	item.CurrentStock = stock
	item.UpdatedAt = now
	s.inventory[item.ID] = item
	s.inventoryOrder = append(s.inventoryOrder, item.ID)
	if stock > 0 {
		s.movements = append(s.movements, domain.InventoryMovement{
			ID:              xid.New("mv"),
			InventoryItemID: item.ID,
			LocationID:      locationID,
			Type:            domain.MovementAddition,
			Quantity:        stock,
			Reason:          "initial",
			ActorID:         "system",
			StockAfter:      stock,
			CreatedAt:       now,
		})
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) ListInventoryItems(_ context.Context, locationID string) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0, len(s.inventoryOrder))
	for _, id := range s.inventoryOrder {
		item := s.inventory[id]
		if item.LocationID == locationID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *Store) GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.inventory[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) FindInventoryItemByCode(_ context.Context, locationID string, code string) (*domain.InventoryItem, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.inventoryOrder {
		item := s.inventory[id]
		if item.LocationID != locationID {
			continue
		}
		if item.Barcode == code || item.QRCode == code {
			return &item, nil
		}
	}
	// Linked rows may only carry the code on the master product.
	for _, id := range s.inventoryOrder {
		item := s.inventory[id]
		if item.LocationID != locationID || item.ProductID == "" {
			continue
		}
		if p, ok := s.products[item.ProductID]; ok && (p.Barcode == code || p.QRCode == code) {
			return &item, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateInventoryItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = xid.New("inv")
	}
	if _, exists := s.inventory[item.ID]; exists {
		return nil, store.ErrConflict
	}
	if item.ProductID != "" {
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, store.ErrNotFound
		}
	}
	item.CurrentStock = 0
	item.UpdatedAt = time.Now().UTC()
	s.inventory[item.ID] = item
	s.inventoryOrder = append(s.inventoryOrder, item.ID)

	created := item
	return &created, nil
}

func (s *Store) CompareAndSwapStock(ctx context.Context, itemID string, expected int, next int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if next < 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.inventory[itemID]
	if !ok {
		return false, store.ErrNotFound
	}
	if item.CurrentStock != expected {
		return false, nil
	}
	item.CurrentStock = next
	item.UpdatedAt = time.Now().UTC()
	s.inventory[itemID] = item
	return true, nil
}

func (s *Store) AppendMovement(ctx context.Context, movement domain.InventoryMovement) (*domain.InventoryMovement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if movement.IdempotencyKey != "" {
		if _, exists := s.movementsByKey[movement.IdempotencyKey]; exists {
			return nil, store.ErrConflict
		}
		s.movementsByKey[movement.IdempotencyKey] = len(s.movements)
	}
	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	s.movements = append(s.movements, movement)

	saved := movement
	return &saved, nil
}

func (s *Store) FindMovementByKey(_ context.Context, key string) (*domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.movementsByKey[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := s.movements[idx]
	return &found, nil
}

// ListMovements returns matches oldest first. A positive limit keeps the
// most recent entries.
func (s *Store) ListMovements(_ context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryMovement, 0, 32)
	for _, m := range s.movements {
		if filter.LocationID != "" && m.LocationID != filter.LocationID {
			continue
		}
		if filter.ItemID != "" && m.InventoryItemID != filter.ItemID {
			continue
		}
		if filter.ReferenceID != "" && m.ReferenceID != filter.ReferenceID {
			continue
		}
		result = append(result, m)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.SaleTransaction) (*domain.SaleTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrConflict
	}
	sale.Lines = slices.Clone(sale.Lines)
	s.salesByID[sale.ID] = sale
	return cloneSale(sale), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SaleTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) SetSaleStatus(_ context.Context, id string, status domain.RecordStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return store.ErrNotFound
	}
	sale.Status = status
	if status == domain.StatusSettled {
		settledAt := at
		sale.SettledAt = &settledAt
	}
	s.salesByID[id] = sale
	return nil
}

func (s *Store) ListPendingSales(_ context.Context, createdBefore time.Time, limit int) ([]domain.SaleTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]domain.SaleTransaction, 0)
	for _, sale := range s.salesByID {
		if sale.Status == domain.StatusPending && sale.CreatedAt.Before(createdBefore) {
			pending = append(pending, *cloneSale(sale))
		}
	}
	slices.SortFunc(pending, func(a, b domain.SaleTransaction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Store) CreateReturn(ctx context.Context, record domain.ReturnRecord) (*domain.ReturnRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.returnsByID[record.ID]; exists {
		return nil, store.ErrConflict
	}
	record.Lines = slices.Clone(record.Lines)
	s.returnsByID[record.ID] = record
	return cloneReturn(record), nil
}

func (s *Store) GetReturn(_ context.Context, id string) (*domain.ReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.returnsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneReturn(record), nil
}

func (s *Store) SetReturnStatus(_ context.Context, id string, status domain.RecordStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.returnsByID[id]
	if !ok {
		return store.ErrNotFound
	}
	record.Status = status
	if status == domain.StatusSettled {
		settledAt := at
		record.SettledAt = &settledAt
	}
	s.returnsByID[id] = record
	return nil
}

func (s *Store) ListPendingReturns(_ context.Context, createdBefore time.Time, limit int) ([]domain.ReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]domain.ReturnRecord, 0)
	for _, record := range s.returnsByID {
		if record.Status == domain.StatusPending && record.CreatedAt.Before(createdBefore) {
			pending = append(pending, *cloneReturn(record))
		}
	}
	slices.SortFunc(pending, func(a, b domain.ReturnRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

// ListAuditLogs returns the newest entries first.
func (s *Store) ListAuditLogs(_ context.Context, locationID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 16)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if locationID != "" && entry.LocationID != locationID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.NewValidationError("username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(src domain.SaleTransaction) *domain.SaleTransaction {
	dst := src
	dst.Lines = slices.Clone(src.Lines)
	if src.SettledAt != nil {
		at := *src.SettledAt
		dst.SettledAt = &at
	}
	return &dst
}

func cloneReturn(src domain.ReturnRecord) *domain.ReturnRecord {
	dst := src
	dst.Lines = slices.Clone(src.Lines)
	if src.SettledAt != nil {
		at := *src.SettledAt
		dst.SettledAt = &at
	}
	return &dst
}
