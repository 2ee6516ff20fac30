package transfer

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists transfers, their items and batch selections.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Insert(ctx context.Context, t Transfer) (Transfer, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	// GetForUpdate locks the transfer row and its items.
	GetForUpdate(ctx context.Context, id int64) (Transfer, error)
	UpdateHeader(ctx context.Context, t Transfer) error
	UpdateItem(ctx context.Context, item Item) error
	InsertSelections(ctx context.Context, selections []Selection) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a transaction, joining the caller's when
// the context already carries one.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("transfer repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const transferColumns = `id, code, requesting_location_id, providing_location_id, status, total_amount, approval_request_id, note,
created_by, requested_at, approved_at, executed_at, providing_confirmed_at, requesting_confirmed_at, completed_at, cancelled_at,
created_at, updated_at`

const itemColumns = `id, transfer_id, product_id, requested_quantity, approved_quantity, executed_quantity, provided_quantity,
unit_price, decided_by, decided_at, notes`

// Get loads a transfer with items and selections.
func (r *Repository) Get(ctx context.Context, id int64) (Transfer, error) {
	conn := db.Conn(ctx, r.pool)
	t, err := scanTransfer(conn.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
	if err != nil {
		return Transfer{}, notFound(err, id)
	}
	if t.Items, err = loadItems(ctx, conn, id, false); err != nil {
		return Transfer{}, err
	}
	rows, err := conn.Query(ctx, `SELECT s.id, s.item_id, s.batch_id, s.target_batch_id, s.batch_number, s.expiry_date, s.serial_number,
s.purchase_price, s.quantity, s.created_at
FROM transfer_selections s JOIN transfer_items i ON i.id = s.item_id
WHERE i.transfer_id = $1
ORDER BY s.item_id, s.id`, id)
	if err != nil {
		return Transfer{}, db.MapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var s Selection
		if err := rows.Scan(&s.ID, &s.ItemID, &s.BatchID, &s.TargetBatchID, &s.BatchNumber, &s.ExpiryDate, &s.SerialNumber,
			&s.PurchasePrice, &s.Quantity, &s.CreatedAt); err != nil {
			return Transfer{}, db.MapError(err)
		}
		if item, ok := t.Item(s.ItemID); ok {
			item.Selections = append(item.Selections, s)
		}
	}
	return t, db.MapError(rows.Err())
}

func (r *txRepository) Insert(ctx context.Context, t Transfer) (Transfer, error) {
	out, err := scanTransfer(r.tx.QueryRow(ctx, `INSERT INTO transfers
(code, requesting_location_id, providing_location_id, status, total_amount, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
RETURNING `+transferColumns,
		t.Code, t.RequestingLocationID, t.ProvidingLocationID, string(t.Status), t.TotalAmount, t.Note, t.CreatedBy, t.CreatedAt))
	if err != nil {
		return Transfer{}, db.MapError(err)
	}
	return out, nil
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (Item, error) {
	out, err := scanItem(r.tx.QueryRow(ctx, `INSERT INTO transfer_items (transfer_id, product_id, requested_quantity, unit_price, notes)
VALUES ($1,$2,$3,$4,$5)
RETURNING `+itemColumns, item.TransferID, item.ProductID, item.RequestedQuantity, item.UnitPrice, item.Notes))
	if err != nil {
		return Item{}, db.MapError(err)
	}
	return out, nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Transfer{}, notFound(err, id)
	}
	if t.Items, err = loadItems(ctx, r.tx, id, true); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

func (r *txRepository) UpdateHeader(ctx context.Context, t Transfer) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfers SET
status = $2, total_amount = $3, approval_request_id = $4, note = $5,
requested_at = $6, approved_at = $7, executed_at = $8, providing_confirmed_at = $9, requesting_confirmed_at = $10,
completed_at = $11, cancelled_at = $12, updated_at = NOW()
WHERE id = $1`,
		t.ID, string(t.Status), t.TotalAmount, t.ApprovalRequestID, t.Note,
		t.RequestedAt, t.ApprovedAt, t.ExecutedAt, t.ProvidingConfirmedAt, t.RequestingConfirmedAt,
		t.CompletedAt, t.CancelledAt)
	return db.MapError(err)
}

func (r *txRepository) UpdateItem(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_items SET
approved_quantity = $2, executed_quantity = $3, provided_quantity = $4, decided_by = $5, decided_at = $6, notes = $7
WHERE id = $1`,
		item.ID, item.ApprovedQuantity, item.ExecutedQuantity, item.ProvidedQuantity, item.DecidedBy, item.DecidedAt, item.Notes)
	return db.MapError(err)
}

func (r *txRepository) InsertSelections(ctx context.Context, selections []Selection) error {
	if len(selections) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range selections {
		batch.Queue(`INSERT INTO transfer_selections
(item_id, batch_id, target_batch_id, batch_number, expiry_date, serial_number, purchase_price, quantity)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			s.ItemID, s.BatchID, s.TargetBatchID, s.BatchNumber, s.ExpiryDate, s.SerialNumber, s.PurchasePrice, s.Quantity)
	}
	return db.MapError(r.tx.SendBatch(ctx, batch).Close())
}

func loadItems(ctx context.Context, conn db.DBTX, transferID int64, lock bool) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM transfer_items WHERE transfer_id = $1 ORDER BY id`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := conn.Query(ctx, query, transferID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, db.MapError(err)
		}
		items = append(items, item)
	}
	return items, db.MapError(rows.Err())
}

func scanTransfer(row pgx.Row) (Transfer, error) {
	var (
		t      Transfer
		status string
	)
	err := row.Scan(&t.ID, &t.Code, &t.RequestingLocationID, &t.ProvidingLocationID, &status, &t.TotalAmount, &t.ApprovalRequestID,
		&t.Note, &t.CreatedBy, &t.RequestedAt, &t.ApprovedAt, &t.ExecutedAt, &t.ProvidingConfirmedAt, &t.RequestingConfirmedAt,
		&t.CompletedAt, &t.CancelledAt, &t.CreatedAt, &t.UpdatedAt)
	t.Status = Status(status)
	return t, err
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.TransferID, &item.ProductID, &item.RequestedQuantity, &item.ApprovedQuantity,
		&item.ExecutedQuantity, &item.ProvidedQuantity, &item.UnitPrice, &item.DecidedBy, &item.DecidedAt, &item.Notes)
	return item, err
}

func notFound(err error, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NewError(shared.ErrNotFound, "transfer", strconv.FormatInt(id, 10), "")
	}
	return db.MapError(err)
}
