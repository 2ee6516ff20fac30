package inventory

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists inventory batches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	FindForUpdate(ctx context.Context, key Key) (Batch, error)
	GetForUpdate(ctx context.Context, id int64) (Batch, error)
	Insert(ctx context.Context, batch Batch) (Batch, error)
	Update(ctx context.Context, batch Batch) (Batch, error)
	LockAvailable(ctx context.Context, productID, locationID int64, asOf time.Time) ([]Batch, error)
	Archive(ctx context.Context, id int64, at time.Time) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a transaction, joining the caller's when
// the context already carries one.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const batchColumns = `id, product_id, location_id, batch_number, expiry_date, serial_number, quantity, total_units, unit_label, purchase_price, location_hint, created_at, updated_at, deleted_at`

// Get returns a live batch by id.
func (r *Repository) Get(ctx context.Context, id int64) (Batch, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanOne(row, id)
}

// List returns live batches matching filter in FEFO order.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM inventory_batches WHERE deleted_at IS NULL`
	args := []any{}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		query += ` AND product_id = $` + strconv.Itoa(len(args))
	}
	if filter.LocationID != 0 {
		args = append(args, filter.LocationID)
		query += ` AND location_id = $` + strconv.Itoa(len(args))
	}
	if filter.BatchNumber != "" {
		args = append(args, filter.BatchNumber)
		query += ` AND batch_number = $` + strconv.Itoa(len(args))
	}
	if !filter.IncludeEmpty {
		query += ` AND quantity > 0`
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	args = append(args, limit)
	query += ` ORDER BY product_id, location_id, expiry_key ASC, id ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, db.MapError(err)
	}
	return collectBatches(rows)
}

// OnHand sums non-expired stock of a product. A zero locationID spans every location.
func (r *Repository) OnHand(ctx context.Context, productID, locationID int64, asOf time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM inventory_batches
WHERE product_id = $1
  AND ($2::bigint = 0 OR location_id = $2)
  AND deleted_at IS NULL
  AND expiry_key >= $3::date`, productID, locationID, truncateDay(asOf)).Scan(&total)
	if err != nil {
		return decimal.Zero, db.MapError(err)
	}
	return total, nil
}

func (r *txRepository) FindForUpdate(ctx context.Context, key Key) (Batch, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE product_id = $1 AND location_id = $2 AND batch_number = $3
  AND expiry_key = COALESCE($4::date, 'infinity'::date)
  AND serial_key = COALESCE($5::text, '')
  AND purchase_price = $6
  AND deleted_at IS NULL
FOR UPDATE`, key.ProductID, key.LocationID, key.BatchNumber, key.ExpiryDate, key.SerialNumber, key.PurchasePrice)
	var b Batch
	if err := scanBatch(row, &b); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, shared.NewError(shared.ErrNotFound, "inventory_batch", batchKeyRef(key), "")
		}
		return Batch{}, db.MapError(err)
	}
	return b, nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Batch, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
	return scanOne(row, id)
}

// Insert creates a batch. A concurrent first receipt of the same identity that
// committed in between is merged into instead of duplicated.
func (r *txRepository) Insert(ctx context.Context, b Batch) (Batch, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO inventory_batches (product_id, location_id, batch_number, expiry_date, serial_number, quantity, total_units, unit_label, purchase_price, location_hint, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
ON CONFLICT (product_id, location_id, batch_number, expiry_key, serial_key, purchase_price) WHERE deleted_at IS NULL
DO UPDATE SET quantity = inventory_batches.quantity + EXCLUDED.quantity,
              total_units = inventory_batches.total_units + EXCLUDED.total_units,
              location_hint = CASE WHEN EXCLUDED.location_hint <> '' THEN EXCLUDED.location_hint ELSE inventory_batches.location_hint END,
              updated_at = EXCLUDED.updated_at
RETURNING `+batchColumns,
		b.ProductID, b.LocationID, b.BatchNumber, b.ExpiryDate, b.SerialNumber, b.Quantity, b.TotalUnits, b.UnitLabel, b.PurchasePrice, b.LocationHint, b.UpdatedAt)
	var out Batch
	if err := scanBatch(row, &out); err != nil {
		return Batch{}, db.MapError(err)
	}
	return out, nil
}

func (r *txRepository) Update(ctx context.Context, b Batch) (Batch, error) {
	row := r.tx.QueryRow(ctx, `UPDATE inventory_batches
SET quantity = $2, total_units = $3, location_hint = $4, updated_at = $5
WHERE id = $1 AND deleted_at IS NULL
RETURNING `+batchColumns, b.ID, b.Quantity, b.TotalUnits, b.LocationHint, b.UpdatedAt)
	return scanOne(row, b.ID)
}

// LockAvailable locks non-expired batches with stock, FEFO ordered. A zero
// locationID spans every location.
func (r *txRepository) LockAvailable(ctx context.Context, productID, locationID int64, asOf time.Time) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE product_id = $1
  AND ($2::bigint = 0 OR location_id = $2)
  AND deleted_at IS NULL
  AND quantity > 0
  AND expiry_key >= $3::date
ORDER BY expiry_key ASC, created_at ASC, id ASC
FOR UPDATE`, productID, locationID, truncateDay(asOf))
	if err != nil {
		return nil, db.MapError(err)
	}
	return collectBatches(rows)
}

func (r *txRepository) Archive(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_batches SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewError(shared.ErrNotFound, "inventory_batch", strconv.FormatInt(id, 10), "")
	}
	return nil
}

func scanBatch(row pgx.Row, b *Batch) error {
	return row.Scan(&b.ID, &b.ProductID, &b.LocationID, &b.BatchNumber, &b.ExpiryDate, &b.SerialNumber,
		&b.Quantity, &b.TotalUnits, &b.UnitLabel, &b.PurchasePrice, &b.LocationHint, &b.CreatedAt, &b.UpdatedAt, &b.DeletedAt)
}

func scanOne(row pgx.Row, id int64) (Batch, error) {
	var b Batch
	if err := scanBatch(row, &b); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, shared.NewError(shared.ErrNotFound, "inventory_batch", strconv.FormatInt(id, 10), "")
		}
		return Batch{}, db.MapError(err)
	}
	return b, nil
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		var b Batch
		if err := scanBatch(rows, &b); err != nil {
			return nil, db.MapError(err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, db.MapError(err)
	}
	return batches, nil
}

func batchKeyRef(key Key) string {
	ref := strconv.FormatInt(key.ProductID, 10) + "@" + strconv.FormatInt(key.LocationID, 10) + ":" + key.BatchNumber
	if key.ExpiryDate != nil {
		ref += ":" + key.ExpiryDate.Format(time.DateOnly)
	}
	if key.SerialNumber != nil {
		ref += ":" + *key.SerialNumber
	}
	return ref
}
