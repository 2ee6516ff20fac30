package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists reservations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Insert(ctx context.Context, r Reservation) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error)
	UpdateStatus(ctx context.Context, r Reservation) error
	InsertAllocations(ctx context.Context, id uuid.UUID, allocations []Allocation) error
	// SumHeld totals active, unlapsed reservations of a product. A zero
	// locationID sums every reservation of the product; otherwise only those
	// pinned to that location.
	SumHeld(ctx context.Context, productID, locationID int64, asOf time.Time) (decimal.Decimal, error)
	// LockOverdue locks active reservations whose expiry passed, skipping rows
	// another transaction holds.
	LockOverdue(ctx context.Context, asOf time.Time, limit int) ([]Reservation, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a transaction, joining the caller's when
// the context already carries one.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("reservation repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const reservationColumns = `id, product_id, COALESCE(location_id, 0), quantity, requested_by, status, reference, expires_at, created_at, released_at, fulfilled_at`

// Get returns a reservation with its allocations.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Reservation, error) {
	conn := db.Conn(ctx, r.pool)
	res, err := scanReservation(conn.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		return Reservation{}, notFound(err, id)
	}
	rows, err := conn.Query(ctx, `SELECT a.batch_id, b.location_id, b.batch_number, b.expiry_date, b.serial_number, b.purchase_price, b.unit_label, a.quantity
FROM reservation_allocations a JOIN inventory_batches b ON b.id = a.batch_id
WHERE a.reservation_id = $1 ORDER BY a.batch_id`, id)
	if err != nil {
		return Reservation{}, db.MapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.BatchID, &a.LocationID, &a.BatchNumber, &a.ExpiryDate, &a.SerialNumber, &a.PurchasePrice, &a.UnitLabel, &a.Quantity); err != nil {
			return Reservation{}, db.MapError(err)
		}
		res.Allocations = append(res.Allocations, a)
	}
	return res, db.MapError(rows.Err())
}

// SumHeld is the read-only variant used outside a transaction.
func (r *Repository) SumHeld(ctx context.Context, productID, locationID int64, asOf time.Time) (decimal.Decimal, error) {
	return sumHeld(ctx, db.Conn(ctx, r.pool), productID, locationID, asOf)
}

func (r *txRepository) Insert(ctx context.Context, res Reservation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO reservations (id, product_id, location_id, quantity, requested_by, status, reference, expires_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		res.ID, res.ProductID, nullInt(res.LocationID), res.Quantity, res.RequestedBy, string(res.Status), res.Reference, res.ExpiresAt, res.CreatedAt)
	return db.MapError(err)
}

func (r *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error) {
	res, err := scanReservation(r.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Reservation{}, notFound(err, id)
	}
	return res, nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, res Reservation) error {
	_, err := r.tx.Exec(ctx, `UPDATE reservations SET status = $2, released_at = $3, fulfilled_at = $4 WHERE id = $1`,
		res.ID, string(res.Status), res.ReleasedAt, res.FulfilledAt)
	return db.MapError(err)
}

func (r *txRepository) InsertAllocations(ctx context.Context, id uuid.UUID, allocations []Allocation) error {
	batch := &pgx.Batch{}
	for _, a := range allocations {
		batch.Queue(`INSERT INTO reservation_allocations (reservation_id, batch_id, quantity) VALUES ($1,$2,$3)`, id, a.BatchID, a.Quantity)
	}
	return db.MapError(r.tx.SendBatch(ctx, batch).Close())
}

func (r *txRepository) SumHeld(ctx context.Context, productID, locationID int64, asOf time.Time) (decimal.Decimal, error) {
	return sumHeld(ctx, r.tx, productID, locationID, asOf)
}

func (r *txRepository) LockOverdue(ctx context.Context, asOf time.Time, limit int) ([]Reservation, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
ORDER BY expires_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED`, asOf, limit)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	out := []Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, db.MapError(err)
		}
		out = append(out, res)
	}
	return out, db.MapError(rows.Err())
}

func sumHeld(ctx context.Context, conn db.DBTX, productID, locationID int64, asOf time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := conn.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM reservations
WHERE product_id = $1
  AND status = 'active'
  AND ($2::bigint = 0 OR location_id = $2)
  AND (expires_at IS NULL OR expires_at >= $3)`, productID, locationID, asOf).Scan(&total)
	if err != nil {
		return decimal.Zero, db.MapError(err)
	}
	return total, nil
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var res Reservation
	var status string
	err := row.Scan(&res.ID, &res.ProductID, &res.LocationID, &res.Quantity, &res.RequestedBy, &status, &res.Reference,
		&res.ExpiresAt, &res.CreatedAt, &res.ReleasedAt, &res.FulfilledAt)
	res.Status = Status(status)
	return res, err
}

func notFound(err error, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NewError(shared.ErrNotFound, "reservation", id.String(), "")
	}
	return db.MapError(err)
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
