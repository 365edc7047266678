// Package reconcile repairs sales and returns whose header was stored but
// never settled, and checks that recorded stock still matches the ledger.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"pekseg/backend/internal/domain"
	"pekseg/backend/internal/eventbus"
)

const (
	DefaultGrace = 2 * time.Minute
	sweepBatch   = 100
)

type PendingStore interface {
	ListPendingSales(ctx context.Context, createdBefore time.Time, limit int) ([]domain.SaleTransaction, error)
	ListPendingReturns(ctx context.Context, createdBefore time.Time, limit int) ([]domain.ReturnRecord, error)
	ListInventoryItems(ctx context.Context, locationID string) ([]domain.InventoryItem, error)
}

type SaleResumer interface {
	Resume(ctx context.Context, sale domain.SaleTransaction) ([]domain.Warning, error)
}

type ReturnResumer interface {
	Resume(ctx context.Context, record domain.ReturnRecord) ([]domain.Warning, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, itemID string) (domain.Reconciliation, error)
}

type Sweeper struct {
	store   PendingStore
	sales   SaleResumer
	returns ReturnResumer
	ledger  Reconciler
	events  eventbus.Publisher
	grace   time.Duration
	now     func() time.Time
}

func NewSweeper(store PendingStore, sales SaleResumer, returns ReturnResumer, ledger Reconciler, events eventbus.Publisher, grace time.Duration) *Sweeper {
	if events == nil {
		events = eventbus.NoopPublisher{}
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Sweeper{
		store:   store,
		sales:   sales,
		returns: returns,
		ledger:  ledger,
		events:  events,
		grace:   grace,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sweep resumes every header that has been pending for longer than the
// grace period. Headers that still fail to settle are counted in
// StillPending and retried on the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (domain.SweepReport, error) {
	report := domain.SweepReport{Warnings: make([]domain.Warning, 0), Locations: make([]string, 0)}
	cutoff := s.now().Add(-s.grace)

	sales, err := s.store.ListPendingSales(ctx, cutoff, sweepBatch)
	if err != nil {
		return report, &domain.PersistenceError{Op: "list pending sales", Err: err}
	}
	for _, sale := range sales {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		warnings, err := s.sales.Resume(ctx, sale)
		report.Warnings = append(report.Warnings, warnings...)
		report.TouchLocation(sale.LocationID)
		if err != nil {
			report.StillPending++
			log.Warn().Err(err).Str("component", "reconcile").Str("transaction_number", sale.Number).Msg("pending sale still not settled")
			continue
		}
		report.SalesSettled++
		s.alert(ctx, sale.LocationID, sale.ID, map[string]any{
			"kind":               "sale_resumed",
			"transaction_number": sale.Number,
			"warnings":           len(warnings),
		})
	}

	returns, err := s.store.ListPendingReturns(ctx, cutoff, sweepBatch)
	if err != nil {
		return report, &domain.PersistenceError{Op: "list pending returns", Err: err}
	}
	for _, record := range returns {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		warnings, err := s.returns.Resume(ctx, record)
		report.Warnings = append(report.Warnings, warnings...)
		report.TouchLocation(record.LocationID)
		if err != nil {
			report.StillPending++
			log.Warn().Err(err).Str("component", "reconcile").Str("return_number", record.Number).Msg("pending return still not settled")
			continue
		}
		report.ReturnsSettled++
		s.alert(ctx, record.LocationID, record.ID, map[string]any{
			"kind":          "return_resumed",
			"return_number": record.Number,
			"warnings":      len(warnings),
		})
	}

	if report.SalesSettled+report.ReturnsSettled+report.StillPending > 0 {
		log.Info().Str("component", "reconcile").
			Int("sales_settled", report.SalesSettled).
			Int("returns_settled", report.ReturnsSettled).
			Int("still_pending", report.StillPending).
			Msg("sweep finished")
	}
	return report, nil
}

// CheckItems replays the ledger of every item at a location and returns
// the items whose recorded stock has drifted.
func (s *Sweeper) CheckItems(ctx context.Context, locationID string) ([]domain.Reconciliation, error) {
	items, err := s.store.ListInventoryItems(ctx, locationID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list inventory items", Err: err}
	}

	drift := make([]domain.Reconciliation, 0)
	for _, item := range items {
		rec, err := s.ledger.Reconcile(ctx, item.ID)
		if err != nil {
			return drift, err
		}
		if rec.Consistent {
			continue
		}
		log.Warn().Str("component", "reconcile").Str("item_id", rec.ItemID).Int("recorded", rec.Recorded).Int("replayed", rec.Replayed).Msg("ledger drift")
		s.alert(ctx, locationID, rec.ItemID, rec)
		drift = append(drift, rec)
	}
	return drift, nil
}

// Run sweeps every interval until ctx is done. after, when set, sees each
// report, including partial ones from a failed sweep.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, after func(domain.SweepReport)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.Sweep(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("component", "reconcile").Msg("sweep failed")
			}
			if after != nil {
				after(report)
			}
		}
	}
}

func (s *Sweeper) alert(ctx context.Context, locationID string, referenceID string, payload any) {
	if err := s.events.Publish(ctx, eventbus.NewEvent(eventbus.TopicReconcileAlert, locationID, referenceID, payload)); err != nil {
		log.Warn().Err(err).Str("component", "reconcile").Msg("alert not published")
	}
}
