package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	batches map[int64]Batch
	nextID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: make(map[int64]Batch)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[int64]Batch, len(r.batches))
	for id, b := range r.batches {
		snapshot[id] = b
	}
	nextID := r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.batches = snapshot
		r.nextID = nextID
		return err
	}
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok || b.DeletedAt != nil {
		return Batch{}, shared.NewError(shared.ErrNotFound, "inventory_batch", "", "")
	}
	return b, nil
}

func (r *memoryRepo) List(_ context.Context, filter Filter) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Batch{}
	for _, b := range r.batches {
		if b.DeletedAt != nil {
			continue
		}
		if filter.ProductID != 0 && b.ProductID != filter.ProductID {
			continue
		}
		if filter.LocationID != 0 && b.LocationID != filter.LocationID {
			continue
		}
		if filter.BatchNumber != "" && b.BatchNumber != filter.BatchNumber {
			continue
		}
		if !filter.IncludeEmpty && !b.Quantity.IsPositive() {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) OnHand(_ context.Context, productID, locationID int64, asOf time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, b := range r.batches {
		if b.DeletedAt != nil || b.ProductID != productID || b.Expired(asOf) {
			continue
		}
		if locationID != 0 && b.LocationID != locationID {
			continue
		}
		total = total.Add(b.Quantity)
	}
	return total, nil
}

func (tx *memoryTx) live() []Batch {
	out := []Batch{}
	for _, b := range tx.repo.batches {
		if b.DeletedAt == nil {
			out = append(out, b)
		}
	}
	return out
}

func (tx *memoryTx) FindForUpdate(_ context.Context, key Key) (Batch, error) {
	for _, b := range tx.live() {
		if b.Key().Equal(key) {
			return b, nil
		}
	}
	return Batch{}, shared.NewError(shared.ErrNotFound, "inventory_batch", "", "")
}

func (tx *memoryTx) GetForUpdate(_ context.Context, id int64) (Batch, error) {
	b, ok := tx.repo.batches[id]
	if !ok || b.DeletedAt != nil {
		return Batch{}, shared.NewError(shared.ErrNotFound, "inventory_batch", "", "")
	}
	return b, nil
}

func (tx *memoryTx) Insert(_ context.Context, b Batch) (Batch, error) {
	tx.repo.nextID++
	b.ID = tx.repo.nextID
	tx.repo.batches[b.ID] = b
	return b, nil
}

func (tx *memoryTx) Update(_ context.Context, b Batch) (Batch, error) {
	if b.Quantity.IsNegative() {
		return Batch{}, errors.New("check constraint quantity >= 0")
	}
	tx.repo.batches[b.ID] = b
	return b, nil
}

func (tx *memoryTx) LockAvailable(_ context.Context, productID, locationID int64, asOf time.Time) ([]Batch, error) {
	out := []Batch{}
	for _, b := range tx.live() {
		if b.ProductID != productID || (locationID != 0 && b.LocationID != locationID) {
			continue
		}
		if !b.Quantity.IsPositive() || b.Expired(asOf) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) Archive(_ context.Context, id int64, at time.Time) error {
	b := tx.repo.batches[id]
	b.DeletedAt = &at
	tx.repo.batches[id] = b
	return nil
}

type recordingAudit struct {
	entries []audit.Entry
	fail    error
}

func (a *recordingAudit) Record(_ context.Context, entry audit.Entry) error {
	if a.fail != nil {
		return a.fail
	}
	a.entries = append(a.entries, entry)
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func scenarioKey() Key {
	return Key{ProductID: 1, LocationID: 10, BatchNumber: "B1", ExpiryDate: day(2025, 12, 1), PurchasePrice: dec("5.00")}
}

func TestReceiveMergesSameIdentity(t *testing.T) {
	repo := newMemoryRepo()
	auditLog := &recordingAudit{}
	svc := NewService(repo, auditLog, nil, nil)
	ctx := context.Background()

	first, err := svc.Receive(ctx, ReceiveInput{Key: scenarioKey(), Quantity: dec("10")})
	require.NoError(t, err)
	require.True(t, first.Quantity.Equal(dec("10")))

	key := scenarioKey()
	key.BatchNumber = "  B1 "
	later := time.Date(2025, 12, 1, 17, 45, 0, 0, time.UTC)
	key.ExpiryDate = &later
	blank := "   "
	key.SerialNumber = &blank
	second, err := svc.Receive(ctx, ReceiveInput{Key: key, Quantity: dec("5"), LocationHint: "shelf 3"})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.True(t, second.Quantity.Equal(dec("15")))
	require.True(t, second.TotalUnits.Equal(dec("15")))
	require.Equal(t, "shelf 3", second.LocationHint)
	require.Len(t, repo.batches, 1)

	require.Len(t, auditLog.entries, 2)
	require.Nil(t, auditLog.entries[0].Before)
	require.NotNil(t, auditLog.entries[1].Before)
}

func TestReceiveDifferentPriceCreatesNewBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{Key: scenarioKey(), Quantity: dec("10")})
	require.NoError(t, err)
	key := scenarioKey()
	key.PurchasePrice = dec("5.50")
	_, err = svc.Receive(ctx, ReceiveInput{Key: key, Quantity: dec("3")})
	require.NoError(t, err)
	require.Len(t, repo.batches, 2)
}

func TestMergeInvariantOverManyReceipts(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	total := decimal.Zero
	for _, q := range []string{"1", "2.5", "0.25", "7", "100"} {
		_, err := svc.Receive(ctx, ReceiveInput{Key: scenarioKey(), Quantity: dec(q)})
		require.NoError(t, err)
		total = total.Add(dec(q))
	}
	require.Len(t, repo.batches, 1)
	require.True(t, repo.batches[1].Quantity.Equal(total))
}

func TestConsumeInsufficientStockLeavesQuantity(t *testing.T) {
	repo := newMemoryRepo()
	auditLog := &recordingAudit{}
	svc := NewService(repo, auditLog, nil, nil)
	ctx := context.Background()

	batch, err := svc.Receive(ctx, ReceiveInput{Key: scenarioKey(), Quantity: dec("15")})
	require.NoError(t, err)

	key := scenarioKey()
	_, err = svc.Consume(ctx, ConsumeInput{Key: &key, Quantity: dec("20")})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, "inventory_batch", domainErr.Entity)
	require.True(t, repo.batches[batch.ID].Quantity.Equal(dec("15")))

	after, err := svc.Consume(ctx, ConsumeInput{BatchID: batch.ID, Quantity: dec("15")})
	require.NoError(t, err)
	require.True(t, after.Quantity.IsZero())

	_, err = svc.Consume(ctx, ConsumeInput{BatchID: 999, Quantity: dec("1")})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Len(t, auditLog.entries, 2)
}

func TestConsumeRejectsNonPositive(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	_, err := svc.Consume(context.Background(), ConsumeInput{BatchID: 1, Quantity: dec("-1")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAuditFailureRollsBackReceipt(t *testing.T) {
	repo := newMemoryRepo()
	auditLog := &recordingAudit{fail: shared.Wrap(shared.ErrStorageUnavailable, errors.New("down"))}
	svc := NewService(repo, auditLog, nil, nil)

	_, err := svc.Receive(context.Background(), ReceiveInput{Key: scenarioKey(), Quantity: dec("10")})
	require.ErrorIs(t, err, shared.ErrStorageUnavailable)
	require.Empty(t, repo.batches)
}

func TestReturnToStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	batch, err := svc.Receive(ctx, ReceiveInput{Key: scenarioKey(), Quantity: dec("4")})
	require.NoError(t, err)

	returned, err := svc.ReturnToStock(ctx, ReturnInput{BatchID: batch.ID, Quantity: dec("2")})
	require.NoError(t, err)
	require.True(t, returned.Quantity.Equal(dec("6")))

	_, err = svc.ReturnToStock(ctx, ReturnInput{BatchID: 404, Quantity: dec("2")})
	require.ErrorIs(t, err, shared.ErrNotFound)

	unknown := scenarioKey()
	unknown.BatchNumber = "RET-1"
	created, err := svc.ReturnToStock(ctx, ReturnInput{Key: &unknown, Quantity: dec("3")})
	require.NoError(t, err)
	require.NotEqual(t, batch.ID, created.ID)
	require.True(t, created.Quantity.Equal(dec("3")))
}

func TestLockAvailableSkipsExpiredAndEmpty(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	asOf := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	expired := scenarioKey()
	expired.BatchNumber = "OLD"
	expired.ExpiryDate = day(2025, 5, 31)
	_, err := svc.Receive(ctx, ReceiveInput{Key: expired, Quantity: dec("5")})
	require.NoError(t, err)

	today := scenarioKey()
	today.BatchNumber = "TODAY"
	today.ExpiryDate = day(2025, 6, 1)
	_, err = svc.Receive(ctx, ReceiveInput{Key: today, Quantity: dec("5")})
	require.NoError(t, err)

	empty := scenarioKey()
	empty.BatchNumber = "EMPTY"
	b, err := svc.Receive(ctx, ReceiveInput{Key: empty, Quantity: dec("1")})
	require.NoError(t, err)
	_, err = svc.Consume(ctx, ConsumeInput{BatchID: b.ID, Quantity: dec("1")})
	require.NoError(t, err)

	batches, err := svc.LockAvailable(ctx, 1, 10, asOf)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, "TODAY", batches[0].BatchNumber)
}

func TestArchiveRequiresEmptyBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	batch, err := svc.Receive(ctx, ReceiveInput{Key: scenarioKey(), Quantity: dec("2")})
	require.NoError(t, err)
	require.ErrorIs(t, svc.Archive(ctx, batch.ID, 1), shared.ErrInvalidState)

	_, err = svc.Consume(ctx, ConsumeInput{BatchID: batch.ID, Quantity: dec("2")})
	require.NoError(t, err)
	require.NoError(t, svc.Archive(ctx, batch.ID, 1))

	_, err = svc.Get(ctx, batch.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	// a fresh receipt of the archived identity starts a new live row
	again, err := svc.Receive(ctx, ReceiveInput{Key: scenarioKey(), Quantity: dec("1")})
	require.NoError(t, err)
	require.NotEqual(t, batch.ID, again.ID)
}

func TestLookupBarcode(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	batch, err := svc.Receive(ctx, ReceiveInput{Key: scenarioKey(), Quantity: dec("2")})
	require.NoError(t, err)

	code, err := svc.BarcodeFor(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, "(01)1(10)B1(17)251201", code)

	_, matches, err := svc.LookupBarcode(ctx, code)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, batch.ID, matches[0].ID)
}
