package store

import (
	"context"
	"errors"
	"time"

	"pekseg/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a duplicate unique key, such as a movement
	// idempotency key that was already recorded.
	ErrConflict = errors.New("conflict")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	ListInventoryItems(ctx context.Context, locationID string) ([]domain.InventoryItem, error)
	GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	FindInventoryItemByCode(ctx context.Context, locationID string, code string) (*domain.InventoryItem, error)
	// CreateInventoryItem stores the row with zero stock; opening stock is
	// booked through the ledger.
	CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	// CompareAndSwapStock sets current_stock to next only when it still
	// equals expected. It reports false when another writer got there first.
	CompareAndSwapStock(ctx context.Context, itemID string, expected int, next int) (bool, error)

	AppendMovement(ctx context.Context, movement domain.InventoryMovement) (*domain.InventoryMovement, error)
	FindMovementByKey(ctx context.Context, key string) (*domain.InventoryMovement, error)
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error)

	CreateSale(ctx context.Context, sale domain.SaleTransaction) (*domain.SaleTransaction, error)
	GetSale(ctx context.Context, id string) (*domain.SaleTransaction, error)
	SetSaleStatus(ctx context.Context, id string, status domain.RecordStatus, at time.Time) error
	ListPendingSales(ctx context.Context, createdBefore time.Time, limit int) ([]domain.SaleTransaction, error)

	CreateReturn(ctx context.Context, record domain.ReturnRecord) (*domain.ReturnRecord, error)
	GetReturn(ctx context.Context, id string) (*domain.ReturnRecord, error)
	SetReturnStatus(ctx context.Context, id string, status domain.RecordStatus, at time.Time) error
	ListPendingReturns(ctx context.Context, createdBefore time.Time, limit int) ([]domain.ReturnRecord, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, locationID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
