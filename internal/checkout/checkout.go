// Package checkout turns a cart into a persisted sale and the matching
// stock reductions.
//
// A checkout runs as a small saga. The sale header is stored as pending,
// every cart line is booked as an idempotent reduction, and the header is
// then marked settled. Line failures never undo the header; they are
// returned as warnings, and headers that could not be settled are picked
// up again by the reconciliation sweep through Resume.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pekseg/backend/internal/cart"
	"pekseg/backend/internal/domain"
	"pekseg/backend/internal/eventbus"
	"pekseg/backend/internal/ledger"
	"pekseg/backend/internal/xid"
)

type State string

const (
	StateIdle               State = "idle"
	StateValidating         State = "validating"
	StatePersistingHeader   State = "persisting_header"
	StateAdjustingInventory State = "adjusting_inventory"
	StateCompleted          State = "completed"
	StateAborted            State = "aborted"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

type SaleStore interface {
	CreateSale(ctx context.Context, sale domain.SaleTransaction) (*domain.SaleTransaction, error)
	SetSaleStatus(ctx context.Context, id string, status domain.RecordStatus, at time.Time) error
}

type Inventory interface {
	Apply(ctx context.Context, m ledger.Movement) (ledger.Result, error)
}

type Request struct {
	LocationID     string
	CashierID      string
	PaymentMethod  string
	AmountTendered int64
}

type Result struct {
	Sale      *domain.SaleTransaction
	Cart      cart.Cart
	ChangeDue int64
	Warnings  []domain.Warning
	State     State
}

type Processor struct {
	sales     SaleStore
	inventory Inventory
	events    eventbus.Publisher
	timeout   time.Duration
	now       func() time.Time
}

func NewProcessor(sales SaleStore, inventory Inventory, events eventbus.Publisher, timeout time.Duration) *Processor {
	if events == nil {
		events = eventbus.NoopPublisher{}
	}
	if timeout <= 0 {
		timeout = ledger.DefaultTimeout
	}
	return &Processor{
		sales:     sales,
		inventory: inventory,
		events:    events,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reason is the movement reason recorded for every line of a sale.
func Reason(transactionNumber string) string {
	return "sale:" + transactionNumber
}

// Checkout commits the cart. On validation failure nothing is written and
// the state stays Idle; if the header cannot be stored the checkout is
// Aborted and the caller keeps its cart. Once the header is stored the
// caller's context can no longer cancel the run.
func (p *Processor) Checkout(ctx context.Context, c cart.Cart, req Request) (Result, error) {
	result := Result{Cart: c, State: StateValidating}

	method, err := p.validate(ctx, c, &req)
	if err != nil {
		result.State = StateIdle
		return result, err
	}

	total := c.Total()
	tendered := req.AmountTendered
	if method != PaymentCash {
		tendered = total
	}

	now := p.now()
	sale := domain.SaleTransaction{
		ID:             xid.New("sale"),
		Number:         xid.Number("S", now),
		LocationID:     req.LocationID,
		CashierID:      req.CashierID,
		PaymentMethod:  method,
		Lines:          saleLines(c),
		TotalAmount:    total,
		AmountTendered: tendered,
		ChangeDue:      tendered - total,
		TaxIncluded:    c.TaxIncluded(),
		Status:         domain.StatusPending,
		CreatedAt:      now,
	}

	result.State = StatePersistingHeader
	runCtx := context.WithoutCancel(ctx)
	saved, err := p.createSale(runCtx, sale)
	if err != nil {
		log.Error().Err(err).Str("component", "checkout").Str("transaction_number", sale.Number).Msg("sale header not stored, checkout aborted")
		result.State = StateAborted
		return result, err
	}

	result.State = StateAdjustingInventory
	warnings, settleErr := p.Resume(runCtx, *saved)
	if settleErr != nil {
		warnings = append(warnings, domain.Warning{
			Kind:    domain.WarningSettleFailed,
			Message: fmt.Sprintf("sale %s left pending: %v", saved.Number, settleErr),
		})
	} else {
		settledAt := p.now()
		saved.Status = domain.StatusSettled
		saved.SettledAt = &settledAt
	}

	result.Sale = saved
	result.Cart = c.Clear()
	result.ChangeDue = saved.ChangeDue
	result.Warnings = warnings
	result.State = StateCompleted
	log.Info().Str("component", "checkout").Str("transaction_number", saved.Number).Int64("total", saved.TotalAmount).Int("warnings", len(warnings)).Msg("checkout completed")
	return result, nil
}

// Resume books the reductions of a stored sale and marks it settled.
// Movements carry per-line idempotency keys, so resuming a sale whose
// lines were partly booked applies only the missing ones. The returned
// error reports a failure to settle the header.
func (p *Processor) Resume(ctx context.Context, sale domain.SaleTransaction) ([]domain.Warning, error) {
	warnings := make([]domain.Warning, 0)
	for i, line := range sale.Lines {
		res, err := p.inventory.Apply(ctx, ledger.Movement{
			ItemID:         line.ItemID,
			Type:           domain.MovementReduction,
			Quantity:       line.Quantity,
			Reason:         Reason(sale.Number),
			ReferenceID:    sale.ID,
			ActorID:        sale.CashierID,
			IdempotencyKey: ledger.LineKey(sale.Number, i),
		})
		if err != nil {
			log.Warn().Err(err).Str("component", "checkout").Str("transaction_number", sale.Number).Str("item_id", line.ItemID).Msg("stock reduction failed, continuing")
			warnings = append(warnings, domain.Warning{
				Kind:      domain.WarningMovementFailed,
				ItemID:    line.ItemID,
				Name:      line.Name,
				Requested: line.Quantity,
				Message:   err.Error(),
			})
			continue
		}
		if res.Capped {
			warnings = append(warnings, domain.Warning{
				Kind:      domain.WarningPartialReduction,
				ItemID:    line.ItemID,
				Name:      line.Name,
				Requested: res.Requested,
				Applied:   res.Applied,
				Message:   fmt.Sprintf("only %d of %d reduced, stock exhausted", res.Applied, res.Requested),
			})
		}
	}

	if err := p.settle(ctx, sale.ID); err != nil {
		log.Error().Err(err).Str("component", "checkout").Str("transaction_number", sale.Number).Msg("sale could not be settled")
		p.publish(ctx, eventbus.NewEvent(eventbus.TopicLedgerWarning, sale.LocationID, sale.ID, warnings))
		return warnings, err
	}

	p.publish(ctx, eventbus.NewEvent(eventbus.TopicSaleSettled, sale.LocationID, sale.ID, map[string]any{
		"transaction_number": sale.Number,
		"total_amount":       sale.TotalAmount,
		"warnings":           warnings,
	}))
	if len(warnings) > 0 {
		p.publish(ctx, eventbus.NewEvent(eventbus.TopicLedgerWarning, sale.LocationID, sale.ID, warnings))
	}
	return warnings, nil
}

func (p *Processor) validate(ctx context.Context, c cart.Cart, req *Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.IsEmpty() {
		return "", domain.NewValidationError("cart is empty")
	}
	req.LocationID = strings.TrimSpace(req.LocationID)
	if req.LocationID == "" {
		return "", domain.NewValidationError("location is required")
	}

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = PaymentCash
	}
	switch method {
	case PaymentCash:
		if req.AmountTendered < c.Total() {
			return "", domain.NewValidationError("amount tendered %d is less than total %d", req.AmountTendered, c.Total())
		}
	case PaymentCard, PaymentTransfer:
	default:
		return "", domain.NewValidationError("unsupported payment method %q", method)
	}
	return method, nil
}

func (p *Processor) createSale(ctx context.Context, sale domain.SaleTransaction) (*domain.SaleTransaction, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	saved, err := p.sales.CreateSale(callCtx, sale)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "create sale", Err: err}
	}
	return saved, nil
}

func (p *Processor) settle(ctx context.Context, id string) error {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.sales.SetSaleStatus(callCtx, id, domain.StatusSettled, p.now()); err != nil {
		return &domain.PersistenceError{Op: "settle sale", Err: err}
	}
	return nil
}

func (p *Processor) publish(ctx context.Context, event eventbus.Event) {
	if err := p.events.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("component", "checkout").Str("topic", event.Topic).Msg("event not published")
	}
}

func saleLines(c cart.Cart) []domain.SaleLine {
	lines := make([]domain.SaleLine, 0, c.Len())
	for _, line := range c.Lines() {
		lines = append(lines, domain.SaleLine{
			ItemID:     line.Item.ID,
			Name:       line.Item.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.Item.UnitPrice,
			TaxPercent: line.Item.TaxPercent,
			LineTotal:  line.Total(),
		})
	}
	return lines
}
