package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pekseg/backend/internal/domain"
	"pekseg/backend/internal/store"
	"pekseg/backend/internal/store/memory"
)

func seededLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, time.Second), repo
}

func stockOf(t *testing.T, repo *memory.Store, id string) int {
	t.Helper()
	item, err := repo.GetInventoryItem(context.Background(), id)
	require.NoError(t, err)
	return item.CurrentStock
}

func TestReductionWithinStock(t *testing.T) {
	l, repo := seededLedger(t)

	res, err := l.Apply(context.Background(), Movement{
		ItemID: "inv-croissant", Type: domain.MovementReduction, Quantity: 3,
		Reason: "sale:S-1", ReferenceID: "sale-1", ActorID: "cashier",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)
	assert.False(t, res.Capped)
	assert.Equal(t, 5, res.StockBefore)
	assert.Equal(t, 2, res.StockAfter)
	require.NotNil(t, res.Movement)
	assert.Equal(t, "sale:S-1", res.Movement.Reason)
	assert.Equal(t, "main-bakery", res.Movement.LocationID)
	assert.Equal(t, 2, stockOf(t, repo, "inv-croissant"))
}

func TestReductionBeyondStockIsCappedAtZero(t *testing.T) {
	l, repo := seededLedger(t)

	res, err := l.Apply(context.Background(), Movement{
		ItemID: "inv-croissant", Type: domain.MovementReduction, Quantity: 9, Reason: "sale:S-2",
	})
	require.NoError(t, err)
	assert.True(t, res.Capped)
	assert.Equal(t, 9, res.Requested)
	assert.Equal(t, 5, res.Applied)
	assert.Equal(t, 5, res.Movement.Quantity)
	assert.Equal(t, 0, stockOf(t, repo, "inv-croissant"))

	res, err = l.Apply(context.Background(), Movement{
		ItemID: "inv-croissant", Type: domain.MovementReduction, Quantity: 1, Reason: "sale:S-3",
	})
	require.NoError(t, err)
	assert.True(t, res.Capped)
	assert.Equal(t, 0, res.Applied)
	assert.Nil(t, res.Movement, "nothing is written when stock is already zero")
	assert.Equal(t, 0, stockOf(t, repo, "inv-croissant"))
}

func TestKeyedReductionAtZeroIsRecordedAndReplayed(t *testing.T) {
	l, repo := seededLedger(t)
	ctx := context.Background()

	_, err := l.Apply(ctx, Movement{ItemID: "inv-croissant", Type: domain.MovementReduction, Quantity: 5, Reason: "sale:S-0"})
	require.NoError(t, err)

	m := Movement{ItemID: "inv-croissant", Type: domain.MovementReduction, Quantity: 3, Reason: "sale:S-Z", IdempotencyKey: LineKey("S-Z", 0)}
	first, err := l.Apply(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Applied)
	require.NotNil(t, first.Movement)
	assert.Equal(t, 0, first.Movement.Quantity)

	_, err = l.Apply(ctx, Movement{ItemID: "inv-croissant", Type: domain.MovementAddition, Quantity: 10, Reason: "bake"})
	require.NoError(t, err)

	again, err := l.Apply(ctx, m)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.True(t, again.Capped)
	assert.Equal(t, 0, again.Applied)
	assert.Equal(t, 10, stockOf(t, repo, "inv-croissant"))

	rec, err := l.Reconcile(ctx, "inv-croissant")
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
}

func TestIdempotencyKeyReplaysWithoutDoubleApplying(t *testing.T) {
	l, repo := seededLedger(t)
	m := Movement{ItemID: "inv-csiga", Type: domain.MovementReduction, Quantity: 2, Reason: "sale:S-4", IdempotencyKey: LineKey("S-4", 0)}

	first, err := l.Apply(context.Background(), m)
	require.NoError(t, err)
	second, err := l.Apply(context.Background(), m)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Movement.ID, second.Movement.ID)
	assert.Equal(t, 10, stockOf(t, repo, "inv-csiga"))
}

func TestValidationRejectsBadMovements(t *testing.T) {
	l, _ := seededLedger(t)

	for name, m := range map[string]Movement{
		"zero quantity": {ItemID: "inv-csiga", Type: domain.MovementAddition, Quantity: 0, Reason: "manual"},
		"no reason":     {ItemID: "inv-csiga", Type: domain.MovementAddition, Quantity: 1},
		"bad type":      {ItemID: "inv-csiga", Type: "transfer", Quantity: 1, Reason: "manual"},
		"no item":       {Type: domain.MovementAddition, Quantity: 1, Reason: "manual"},
	} {
		_, err := l.Apply(context.Background(), m)
		assert.ErrorIs(t, err, domain.ErrValidation, name)
	}
}

func TestUnknownItemIsPersistenceError(t *testing.T) {
	l, _ := seededLedger(t)

	_, err := l.Apply(context.Background(), Movement{ItemID: "nope", Type: domain.MovementAddition, Quantity: 1, Reason: "manual"})
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentReductionsDoNotLoseUpdates(t *testing.T) {
	l, repo := seededLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Apply(ctx, Movement{ItemID: "inv-pogacsa", Type: domain.MovementReduction, Quantity: 2, Reason: "sale:race"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, stockOf(t, repo, "inv-pogacsa"))
	rec, err := l.Reconcile(ctx, "inv-pogacsa")
	require.NoError(t, err)
	assert.True(t, rec.Consistent, "replayed %d recorded %d", rec.Replayed, rec.Recorded)
}

func TestReconcileReplaysFromZero(t *testing.T) {
	l, _ := seededLedger(t)
	ctx := context.Background()

	steps := []Movement{
		{ItemID: "inv-kenyer", Type: domain.MovementReduction, Quantity: 3, Reason: "sale:a"},
		{ItemID: "inv-kenyer", Type: domain.MovementAddition, Quantity: 2, Reason: "return:b"},
		{ItemID: "inv-kenyer", Type: domain.MovementReduction, Quantity: 50, Reason: "sale:c"},
		{ItemID: "inv-kenyer", Type: domain.MovementAddition, Quantity: 4, Reason: "scan:barcode"},
	}
	for _, m := range steps {
		_, err := l.Apply(ctx, m)
		require.NoError(t, err)
	}

	rec, err := l.Reconcile(ctx, "inv-kenyer")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Recorded)
	assert.Equal(t, 4, rec.Replayed)
	assert.True(t, rec.Consistent)
}

// flakyStore wraps the memory store with injectable failures.
type flakyStore struct {
	*memory.Store
	failAppend  error
	casConflict int
	block       bool
}

func (f *flakyStore) AppendMovement(ctx context.Context, m domain.InventoryMovement) (*domain.InventoryMovement, error) {
	if f.failAppend != nil {
		return nil, f.failAppend
	}
	return f.Store.AppendMovement(ctx, m)
}

func (f *flakyStore) CompareAndSwapStock(ctx context.Context, id string, expected int, next int) (bool, error) {
	if f.casConflict > 0 {
		f.casConflict--
		return false, nil
	}
	return f.Store.CompareAndSwapStock(ctx, id, expected, next)
}

func (f *flakyStore) GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.Store.GetInventoryItem(ctx, id)
}

func TestFailedAppendRevertsStock(t *testing.T) {
	repo := &flakyStore{Store: memory.NewSeeded(), failAppend: errors.New("disk full")}
	l := New(repo, time.Second)

	_, err := l.Apply(context.Background(), Movement{ItemID: "inv-croissant", Type: domain.MovementReduction, Quantity: 2, Reason: "sale:x"})
	require.ErrorIs(t, err, domain.ErrPersistence)

	item, _ := repo.Store.GetInventoryItem(context.Background(), "inv-croissant")
	assert.Equal(t, 5, item.CurrentStock)
}

func TestCASConflictIsRetried(t *testing.T) {
	repo := &flakyStore{Store: memory.NewSeeded(), casConflict: 3}
	l := New(repo, time.Second)

	res, err := l.Apply(context.Background(), Movement{ItemID: "inv-croissant", Type: domain.MovementAddition, Quantity: 1, Reason: "manual"})
	require.NoError(t, err)
	assert.Equal(t, 6, res.StockAfter)
}

func TestPersistentContentionGivesUp(t *testing.T) {
	repo := &flakyStore{Store: memory.NewSeeded(), casConflict: 1000}
	l := New(repo, time.Second)

	_, err := l.Apply(context.Background(), Movement{ItemID: "inv-croissant", Type: domain.MovementAddition, Quantity: 1, Reason: "manual"})
	require.ErrorIs(t, err, ErrContention)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestTimeoutIsPersistenceError(t *testing.T) {
	repo := &flakyStore{Store: memory.NewSeeded(), block: true}
	l := New(repo, 20*time.Millisecond)

	_, err := l.Apply(context.Background(), Movement{ItemID: "inv-croissant", Type: domain.MovementAddition, Quantity: 1, Reason: "manual"})
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
