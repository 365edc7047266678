// Package returns books customer returns back into stock.
//
// A return is not checked against earlier sales: any positive quantity of
// any item known to the location may be returned.
package returns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

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

type ReturnStore interface {
	CreateReturn(ctx context.Context, record domain.ReturnRecord) (*domain.ReturnRecord, error)
	SetReturnStatus(ctx context.Context, id string, status domain.RecordStatus, at time.Time) error
}

type Inventory interface {
	Apply(ctx context.Context, m ledger.Movement) (ledger.Result, error)
}

type Line struct {
	Item     domain.Item
	Quantity int
}

type Request struct {
	LocationID  string
	ProcessedBy string
	Reason      string
	Lines       []Line
}

type Result struct {
	Return   *domain.ReturnRecord
	Warnings []domain.Warning
	State    State
}

type Processor struct {
	returns   ReturnStore
	inventory Inventory
	events    eventbus.Publisher
	timeout   time.Duration
	now       func() time.Time
}

func NewProcessor(returns ReturnStore, inventory Inventory, events eventbus.Publisher, timeout time.Duration) *Processor {
	if events == nil {
		events = eventbus.NoopPublisher{}
	}
	if timeout <= 0 {
		timeout = ledger.DefaultTimeout
	}
	return &Processor{
		returns:   returns,
		inventory: inventory,
		events:    events,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func Reason(returnNumber string) string {
	return "return:" + returnNumber
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if err := validate(ctx, &req); err != nil {
		return Result{State: StateIdle}, err
	}

	now := p.now()
	record := domain.ReturnRecord{
		ID:          xid.New("ret"),
		Number:      xid.Number("R", now),
		LocationID:  req.LocationID,
		ProcessedBy: req.ProcessedBy,
		Reason:      req.Reason,
		Status:      domain.StatusPending,
		CreatedAt:   now,
	}
	for _, line := range req.Lines {
		total := int64(line.Quantity) * line.Item.UnitPrice
		record.Lines = append(record.Lines, domain.ReturnLine{
			ItemID:    line.Item.ID,
			Name:      line.Item.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.Item.UnitPrice,
			LineTotal: total,
		})
		record.TotalAmount += total
	}

	runCtx := context.WithoutCancel(ctx)
	saved, err := p.createReturn(runCtx, record)
	if err != nil {
		log.Error().Err(err).Str("component", "returns").Str("return_number", record.Number).Msg("return header not stored, return aborted")
		return Result{State: StateAborted}, err
	}

	warnings, settleErr := p.Resume(runCtx, *saved)
	if settleErr != nil {
		warnings = append(warnings, domain.Warning{
			Kind:    domain.WarningSettleFailed,
			Message: fmt.Sprintf("return %s left pending: %v", saved.Number, settleErr),
		})
	} else {
		settledAt := p.now()
		saved.Status = domain.StatusSettled
		saved.SettledAt = &settledAt
	}

	log.Info().Str("component", "returns").Str("return_number", saved.Number).Int64("total", saved.TotalAmount).Int("warnings", len(warnings)).Msg("return completed")
	return Result{Return: saved, Warnings: warnings, State: StateCompleted}, nil
}

// Resume books the additions of a stored return and settles it.
func (p *Processor) Resume(ctx context.Context, record domain.ReturnRecord) ([]domain.Warning, error) {
	warnings := make([]domain.Warning, 0)
	for i, line := range record.Lines {
		_, err := p.inventory.Apply(ctx, ledger.Movement{
			ItemID:         line.ItemID,
			Type:           domain.MovementAddition,
			Quantity:       line.Quantity,
			Reason:         Reason(record.Number),
			ReferenceID:    record.ID,
			ActorID:        record.ProcessedBy,
			IdempotencyKey: ledger.LineKey(record.Number, i),
		})
		if err != nil {
			log.Warn().Err(err).Str("component", "returns").Str("return_number", record.Number).Str("item_id", line.ItemID).Msg("stock addition failed, continuing")
			warnings = append(warnings, domain.Warning{
				Kind:      domain.WarningMovementFailed,
				ItemID:    line.ItemID,
				Name:      line.Name,
				Requested: line.Quantity,
				Message:   err.Error(),
			})
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.returns.SetReturnStatus(callCtx, record.ID, domain.StatusSettled, p.now()); err != nil {
		return warnings, &domain.PersistenceError{Op: "settle return", Err: err}
	}

	if err := p.events.Publish(ctx, eventbus.NewEvent(eventbus.TopicReturnSettled, record.LocationID, record.ID, map[string]any{
		"return_number": record.Number,
		"total_amount":  record.TotalAmount,
		"warnings":      warnings,
	})); err != nil {
		log.Warn().Err(err).Str("component", "returns").Msg("event not published")
	}
	if len(warnings) > 0 {
		if err := p.events.Publish(ctx, eventbus.NewEvent(eventbus.TopicLedgerWarning, record.LocationID, record.ID, warnings)); err != nil {
			log.Warn().Err(err).Str("component", "returns").Msg("event not published")
		}
	}
	return warnings, nil
}

func validate(ctx context.Context, req *Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req.LocationID = strings.TrimSpace(req.LocationID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.LocationID == "" {
		return domain.NewValidationError("location is required")
	}
	if req.Reason == "" {
		return domain.NewValidationError("return reason is required")
	}
	if len(req.Lines) == 0 {
		return domain.NewValidationError("no items selected for return")
	}
	for _, line := range req.Lines {
		if line.Item.ID == "" {
			return domain.NewValidationError("return line without item")
		}
		if line.Quantity <= 0 {
			return domain.NewValidationError("return quantity for %s must be positive", line.Item.ID)
		}
	}
	return nil
}

func (p *Processor) createReturn(ctx context.Context, record domain.ReturnRecord) (*domain.ReturnRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	saved, err := p.returns.CreateReturn(callCtx, record)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "create return", Err: err}
	}
	return saved, nil
}
