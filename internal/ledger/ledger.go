// Package ledger applies stock movements to inventory rows and keeps the
// append-only movement log consistent with current stock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pekseg/backend/internal/domain"
	"pekseg/backend/internal/store"
	"pekseg/backend/internal/xid"
)

const (
	DefaultTimeout = 3 * time.Second
	maxCASAttempts = 8
)

// ErrContention is returned when the stock row kept changing under us for
// every compare-and-swap attempt.
var ErrContention = errors.New("stock update contention")

type Store interface {
	GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	CompareAndSwapStock(ctx context.Context, itemID string, expected int, next int) (bool, error)
	AppendMovement(ctx context.Context, movement domain.InventoryMovement) (*domain.InventoryMovement, error)
	FindMovementByKey(ctx context.Context, key string) (*domain.InventoryMovement, error)
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error)
}

type Movement struct {
	ItemID         string
	Type           domain.MovementType
	Quantity       int
	Reason         string
	ReferenceID    string
	ActorID        string
	IdempotencyKey string
}

type Result struct {
	Movement    *domain.InventoryMovement
	Requested   int
	Applied     int
	Capped      bool
	Replayed    bool
	StockBefore int
	StockAfter  int
}

type Ledger struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

func New(st Store, timeout time.Duration) *Ledger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Ledger{
		store:   st,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// LineKey derives the idempotency key for the line at index of a sale or
// return document.
func LineKey(documentNumber string, index int) string {
	return fmt.Sprintf("%s/%d", documentNumber, index)
}

// Apply books a single movement. Reductions larger than the current stock
// are capped so that stock never goes negative; the result reports the
// quantity that was actually applied.
func (l *Ledger) Apply(ctx context.Context, m Movement) (Result, error) {
	if err := m.validate(); err != nil {
		return Result{}, err
	}

	if m.IdempotencyKey != "" {
		existing, err := l.findByKey(ctx, m.IdempotencyKey)
		if err != nil {
			return Result{}, err
		}
		if existing != nil {
			return replayed(existing, m.Quantity), nil
		}
	}

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		item, err := l.getItem(ctx, m.ItemID)
		if err != nil {
			return Result{}, err
		}

		current := item.CurrentStock
		applied := m.Quantity
		capped := false
		next := current + applied
		if m.Type == domain.MovementReduction {
			if applied > current {
				applied = current
				capped = true
			}
			next = current - applied
		}

		result := Result{Requested: m.Quantity, Applied: applied, Capped: capped, StockBefore: current, StockAfter: next}
		if applied == 0 {
			log.Warn().Str("component", "ledger").Str("item_id", m.ItemID).Str("reason", m.Reason).Msg("reduction skipped, stock already at zero")
			if m.IdempotencyKey == "" {
				return result, nil
			}
			return l.recordEmpty(ctx, item, m, result)
		}

		swapped, err := l.compareAndSwap(ctx, item.ID, current, next)
		if err != nil {
			return Result{}, err
		}
		if !swapped {
			log.Debug().Str("component", "ledger").Str("item_id", item.ID).Int("attempt", attempt).Msg("stock changed concurrently, retrying")
			continue
		}

		saved, err := l.append(ctx, domain.InventoryMovement{
			ID:              xid.New("mv"),
			InventoryItemID: item.ID,
			LocationID:      item.LocationID,
			Type:            m.Type,
			Quantity:        applied,
			Reason:          m.Reason,
			ReferenceID:     m.ReferenceID,
			ActorID:         m.ActorID,
			IdempotencyKey:  m.IdempotencyKey,
			StockBefore:     current,
			StockAfter:      next,
			CreatedAt:       l.now(),
		})
		if err != nil {
			l.revert(ctx, item.ID, next-current)
			if errors.Is(err, store.ErrConflict) && m.IdempotencyKey != "" {
				if existing, findErr := l.findByKey(ctx, m.IdempotencyKey); findErr == nil && existing != nil {
					return replayed(existing, m.Quantity), nil
				}
			}
			return Result{}, err
		}

		if capped {
			log.Warn().Str("component", "ledger").Str("item_id", item.ID).Int("requested", m.Quantity).Int("applied", applied).Msg("partial reduction")
		}
		result.Movement = saved
		return result, nil
	}

	return Result{}, &domain.PersistenceError{Op: "update stock " + m.ItemID, Err: ErrContention}
}

// recordEmpty stores a zero-quantity movement under the key so that a later
// resume of the same line replays "nothing applied" instead of reducing
// stock that arrived in the meantime. Stock is not touched.
func (l *Ledger) recordEmpty(ctx context.Context, item *domain.InventoryItem, m Movement, result Result) (Result, error) {
	saved, err := l.append(ctx, domain.InventoryMovement{
		ID:              xid.New("mv"),
		InventoryItemID: item.ID,
		LocationID:      item.LocationID,
		Type:            m.Type,
		Quantity:        0,
		Reason:          m.Reason,
		ReferenceID:     m.ReferenceID,
		ActorID:         m.ActorID,
		IdempotencyKey:  m.IdempotencyKey,
		StockBefore:     result.StockBefore,
		StockAfter:      result.StockAfter,
		CreatedAt:       l.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			if existing, findErr := l.findByKey(ctx, m.IdempotencyKey); findErr == nil && existing != nil {
				return replayed(existing, m.Quantity), nil
			}
		}
		return Result{}, err
	}
	result.Movement = saved
	return result, nil
}

// Lookup returns the movement recorded under key, or nil when none was.
func (l *Ledger) Lookup(ctx context.Context, key string) (*domain.InventoryMovement, error) {
	return l.findByKey(ctx, key)
}

// Reconcile replays every movement of an item from zero and compares the
// outcome with the recorded stock.
func (l *Ledger) Reconcile(ctx context.Context, itemID string) (domain.Reconciliation, error) {
	item, err := l.getItem(ctx, itemID)
	if err != nil {
		return domain.Reconciliation{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	movements, err := l.store.ListMovements(callCtx, domain.MovementFilter{ItemID: itemID})
	if err != nil {
		return domain.Reconciliation{}, &domain.PersistenceError{Op: "list movements", Err: err}
	}

	replayedStock := Replay(movements)
	return domain.Reconciliation{
		ItemID:     item.ID,
		LocationID: item.LocationID,
		Name:       item.Name,
		Recorded:   item.CurrentStock,
		Replayed:   replayedStock,
		Movements:  len(movements),
		Consistent: replayedStock == item.CurrentStock,
	}, nil
}

// Replay folds movements into a stock level starting from zero.
func Replay(movements []domain.InventoryMovement) int {
	stock := 0
	for _, m := range movements {
		switch m.Type {
		case domain.MovementAddition:
			stock += m.Quantity
		case domain.MovementReduction:
			stock -= m.Quantity
		}
	}
	return stock
}

func (m Movement) validate() error {
	if strings.TrimSpace(m.ItemID) == "" {
		return domain.NewValidationError("inventory item id is required")
	}
	if m.Type != domain.MovementAddition && m.Type != domain.MovementReduction {
		return domain.NewValidationError("unknown movement type %q", m.Type)
	}
	if m.Quantity <= 0 {
		return domain.NewValidationError("movement quantity must be positive")
	}
	if strings.TrimSpace(m.Reason) == "" {
		return domain.NewValidationError("movement reason is required")
	}
	return nil
}

func replayed(existing *domain.InventoryMovement, requested int) Result {
	return Result{
		Movement:    existing,
		Requested:   requested,
		Applied:     existing.Quantity,
		Capped:      existing.Type == domain.MovementReduction && existing.Quantity < requested,
		Replayed:    true,
		StockBefore: existing.StockBefore,
		StockAfter:  existing.StockAfter,
	}
}

// revert undoes a stock write whose movement could not be recorded, so the
// replayed stock still matches the recorded stock. delta is the signed change to undo.
func (l *Ledger) revert(ctx context.Context, itemID string, delta int) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		item, err := l.getItem(ctx, itemID)
		if err != nil {
			break
		}
		target := item.CurrentStock - delta
		if target < 0 {
			break
		}
		swapped, err := l.compareAndSwap(ctx, itemID, item.CurrentStock, target)
		if err != nil {
			break
		}
		if swapped {
			return
		}
	}
	log.Error().Str("component", "ledger").Str("item_id", itemID).Int("delta", delta).Msg("could not revert stock after failed movement append; ledger drift")
}

func (l *Ledger) getItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	item, err := l.store.GetInventoryItem(callCtx, id)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get inventory item " + id, Err: err}
	}
	return item, nil
}

func (l *Ledger) compareAndSwap(ctx context.Context, id string, expected int, next int) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	swapped, err := l.store.CompareAndSwapStock(callCtx, id, expected, next)
	if err != nil {
		return false, &domain.PersistenceError{Op: "update stock " + id, Err: err}
	}
	return swapped, nil
}

func (l *Ledger) append(ctx context.Context, m domain.InventoryMovement) (*domain.InventoryMovement, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	saved, err := l.store.AppendMovement(callCtx, m)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "append movement", Err: err}
	}
	return saved, nil
}

func (l *Ledger) findByKey(ctx context.Context, key string) (*domain.InventoryMovement, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	existing, err := l.store.FindMovementByKey(callCtx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "find movement", Err: err}
	}
	return existing, nil
}
