package reservation

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Reservation, error)
	SumHeld(ctx context.Context, productID, locationID int64, asOf time.Time) (decimal.Decimal, error)
}

// InventoryPort is the slice of the batch store reservations depend on.
type InventoryPort interface {
	LockAvailable(ctx context.Context, productID, locationID int64, asOf time.Time) ([]inventory.Batch, error)
	Consume(ctx context.Context, input inventory.ConsumeInput) (inventory.Batch, error)
	OnHand(ctx context.Context, productID, locationID int64, asOf time.Time) (decimal.Decimal, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Config tunes reservation defaults.
type Config struct {
	// DefaultTTL applies when a reservation carries no explicit expiry. Zero
	// keeps such reservations open until released or fulfilled.
	DefaultTTL time.Duration
}

// Service manages holds on available stock.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	audit     AuditPort
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	newID     func() uuid.UUID
}

// NewService builds Service.
func NewService(repo RepositoryPort, inv InventoryPort, audit AuditPort, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, inventory: inv, audit: audit, cfg: cfg, logger: logger, now: time.Now, newID: uuid.New}
}

// Reserve holds quantity against unreserved stock. Every batch of the product is
// locked first so concurrent reservations of the same product serialise.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (Reservation, error) {
	if input.ProductID <= 0 {
		return Reservation{}, shared.NewError(shared.ErrValidation, "reservation", "", "product required")
	}
	if !input.Quantity.IsPositive() {
		return Reservation{}, shared.NewError(shared.ErrValidation, "reservation", "", "quantity must be greater than zero")
	}
	asOf := s.asOf(input.AsOf)
	if input.ExpiresAt != nil && !input.ExpiresAt.After(asOf) {
		return Reservation{}, shared.NewError(shared.ErrValidation, "reservation", "", "expiry must be in the future")
	}

	res := Reservation{
		ID:          s.newID(),
		ProductID:   input.ProductID,
		LocationID:  input.LocationID,
		Quantity:    input.Quantity,
		RequestedBy: input.RequestedBy,
		Status:      StatusActive,
		Reference:   input.Reference,
		ExpiresAt:   input.ExpiresAt,
		CreatedAt:   asOf,
	}
	if res.ExpiresAt == nil && s.cfg.DefaultTTL > 0 {
		expires := asOf.Add(s.cfg.DefaultTTL)
		res.ExpiresAt = &expires
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batches, err := s.inventory.LockAvailable(ctx, input.ProductID, 0, asOf)
		if err != nil {
			return err
		}
		available, err := s.available(ctx, tx, batches, input.ProductID, input.LocationID, asOf)
		if err != nil {
			return err
		}
		if available.LessThan(input.Quantity) {
			return shared.Errorf(shared.ErrInsufficientAvailableStock, "product", strconv.FormatInt(input.ProductID, 10),
				"requested %s, available %s", input.Quantity, available)
		}
		if err := tx.Insert(ctx, res); err != nil {
			return err
		}
		return s.record(ctx, input.RequestedBy, "reservation.created", nil, res)
	})
	if err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// Release returns a hold to the pool. Releasing a released or expired
// reservation is a no-op.
func (s *Service) Release(ctx context.Context, id uuid.UUID, actorID int64) (Reservation, error) {
	var out Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch res.Status {
		case StatusReleased, StatusExpired:
			out = res
			return nil
		case StatusFulfilled:
			return shared.NewError(shared.ErrInvalidState, "reservation", id.String(), "reservation already fulfilled")
		}
		before := res
		at := s.now().UTC()
		res.Status = StatusReleased
		res.ReleasedAt = &at
		if err := tx.UpdateStatus(ctx, res); err != nil {
			return err
		}
		out = res
		return s.record(ctx, actorID, "reservation.released", &before, res)
	})
	return out, err
}

// Fulfill consumes the reserved quantity from eligible batches in FEFO order.
// Any shortfall fails the whole call and nothing is consumed.
func (s *Service) Fulfill(ctx context.Context, id uuid.UUID, actorID int64) (Consumption, error) {
	var consumption Consumption
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if res.Status != StatusActive {
			return shared.Errorf(shared.ErrInvalidState, "reservation", id.String(), "reservation is %s", res.Status)
		}
		asOf := s.now().UTC()
		if res.Overdue(asOf) {
			return shared.NewError(shared.ErrInvalidState, "reservation", id.String(), "reservation expired")
		}
		batches, err := s.inventory.LockAvailable(ctx, res.ProductID, res.LocationID, asOf)
		if err != nil {
			return err
		}
		if res.LocationID == 0 {
			pinned, err := s.pinnedHolds(ctx, tx, batches, res.ProductID, asOf)
			if err != nil {
				return err
			}
			batches = WithoutPinned(batches, pinned, asOf)
		}
		allocations, shortfall := SelectFEFO(batches, res.Quantity, asOf)
		if shortfall.IsPositive() {
			return shared.Errorf(shared.ErrInsufficientStock, "reservation", id.String(),
				"short by %s of %s", shortfall, res.Quantity)
		}
		for _, a := range allocations {
			if _, err := s.inventory.Consume(ctx, inventory.ConsumeInput{
				BatchID:    a.BatchID,
				Quantity:   a.Quantity,
				ActorID:    actorID,
				Reference:  "reservation " + id.String(),
				ParentKind: audit.KindReservation,
				ParentID:   id.String(),
			}); err != nil {
				return err
			}
		}
		if err := tx.InsertAllocations(ctx, id, allocations); err != nil {
			return err
		}
		before := res
		res.Status = StatusFulfilled
		res.FulfilledAt = &asOf
		res.Allocations = allocations
		if err := tx.UpdateStatus(ctx, res); err != nil {
			return err
		}
		consumption = Consumption{ReservationID: id, Allocations: allocations, Total: res.Quantity}
		return s.record(ctx, actorID, "reservation.fulfilled", &before, res)
	})
	if err != nil {
		return Consumption{}, err
	}
	return consumption, nil
}

// SweepExpired marks up to limit lapsed active reservations as expired. It only
// ever releases, and rows locked by live operations are skipped for the next run.
func (s *Service) SweepExpired(ctx context.Context, asOf time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	swept := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		overdue, err := tx.LockOverdue(ctx, asOf, limit)
		if err != nil {
			return err
		}
		for _, res := range overdue {
			before := res
			at := asOf.UTC()
			res.Status = StatusExpired
			res.ReleasedAt = &at
			if err := tx.UpdateStatus(ctx, res); err != nil {
				return err
			}
			if err := s.record(ctx, 0, "reservation.expired", &before, res); err != nil {
				return err
			}
		}
		swept = len(overdue)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		s.logger.Info("reservations expired", slog.Int("count", swept), slog.Time("as_of", asOf))
	}
	return swept, nil
}

// Get returns a reservation.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return s.repo.Get(ctx, id)
}

// Available returns unreserved, non-expired stock of a product at a location, or
// everywhere when locationID is zero.
func (s *Service) Available(ctx context.Context, productID, locationID int64) (decimal.Decimal, error) {
	asOf := s.now().UTC()
	globalStock, err := s.inventory.OnHand(ctx, productID, 0, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	globalHeld, err := s.repo.SumHeld(ctx, productID, 0, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	available := globalStock.Sub(globalHeld)
	if locationID != 0 {
		localStock, err := s.inventory.OnHand(ctx, productID, locationID, asOf)
		if err != nil {
			return decimal.Zero, err
		}
		localHeld, err := s.repo.SumHeld(ctx, productID, locationID, asOf)
		if err != nil {
			return decimal.Zero, err
		}
		available = decimal.Min(available, localStock.Sub(localHeld))
	}
	return decimal.Max(available, decimal.Zero), nil
}

// available computes unreserved stock from locked batches. Unpinned holds may be
// served from any location, so a pinned request is bounded by both the location
// and the product-wide figure.
func (s *Service) available(ctx context.Context, tx TxRepository, batches []inventory.Batch, productID, locationID int64, asOf time.Time) (decimal.Decimal, error) {
	globalStock, localStock := decimal.Zero, decimal.Zero
	for _, b := range batches {
		if b.Expired(asOf) {
			continue
		}
		globalStock = globalStock.Add(b.Quantity)
		if b.LocationID == locationID {
			localStock = localStock.Add(b.Quantity)
		}
	}
	globalHeld, err := tx.SumHeld(ctx, productID, 0, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	available := globalStock.Sub(globalHeld)
	if locationID != 0 {
		localHeld, err := tx.SumHeld(ctx, productID, locationID, asOf)
		if err != nil {
			return decimal.Zero, err
		}
		available = decimal.Min(available, localStock.Sub(localHeld))
	}
	return available, nil
}

// pinnedHolds sums the active holds pinned to each location the batches sit in.
func (s *Service) pinnedHolds(ctx context.Context, tx TxRepository, batches []inventory.Batch, productID int64, asOf time.Time) (map[int64]decimal.Decimal, error) {
	held := map[int64]decimal.Decimal{}
	for _, b := range batches {
		if _, ok := held[b.LocationID]; ok {
			continue
		}
		sum, err := tx.SumHeld(ctx, productID, b.LocationID, asOf)
		if err != nil {
			return nil, err
		}
		held[b.LocationID] = sum
	}
	return held, nil
}

func (s *Service) asOf(override time.Time) time.Time {
	if !override.IsZero() {
		return override.UTC()
	}
	return s.now().UTC()
}

func (s *Service) record(ctx context.Context, actorID int64, action string, before *Reservation, after Reservation) error {
	if s.audit == nil {
		return nil
	}
	entry := audit.Entry{
		Entity:  audit.Ref{Kind: audit.KindReservation, ID: after.ID.String()},
		ActorID: actorID,
		Action:  action,
		After:   audit.Snapshot(after),
		Notes:   after.Reference,
	}
	if before != nil {
		entry.Before = audit.Snapshot(before)
	}
	return s.audit.Record(ctx, entry)
}
