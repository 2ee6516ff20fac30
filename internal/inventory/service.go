package inventory

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	"github.com/odyssey-erp/odyssey-stock/internal/catalog"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Batch, error)
	List(ctx context.Context, filter Filter) ([]Batch, error)
	OnHand(ctx context.Context, productID, locationID int64, asOf time.Time) (decimal.Decimal, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// CatalogPort checks product and location existence.
type CatalogPort interface {
	RequireProduct(ctx context.Context, id int64) (string, error)
	RequireLocation(ctx context.Context, id int64) error
	Product(ctx context.Context, id int64) (catalog.Product, error)
	ProductByCode(ctx context.Context, code string) (catalog.Product, error)
}

// Service coordinates batch inventory operations.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	catalog CatalogPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service. catalog may be nil, in which case product and
// location checks are left to foreign keys.
func NewService(repo RepositoryPort, audit AuditPort, catalog CatalogPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, catalog: catalog, logger: logger, now: time.Now}
}

// Receive merges a receipt into the batch with the same identity or creates it.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (Batch, error) {
	if err := validateKey(input.Key); err != nil {
		return Batch{}, err
	}
	if err := requirePositive("quantity", input.Quantity); err != nil {
		return Batch{}, err
	}
	if input.TotalUnits.IsNegative() {
		return Batch{}, shared.NewError(shared.ErrValidation, "receipt", "total_units", "must not be negative")
	}
	units := input.TotalUnits
	if units.IsZero() {
		units = input.Quantity
	}
	label, err := s.checkCatalog(ctx, input.ProductID, input.LocationID, input.UnitLabel)
	if err != nil {
		return Batch{}, err
	}
	key := input.Key.Normalize()

	var result Batch
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		before, after, err := s.merge(ctx, tx, key, input.Quantity, units, label, input.LocationHint)
		if err != nil {
			return err
		}
		result = after
		return s.record(ctx, input.ActorID, "batch.received", before, after, notes(input.Reference, input.Notes), audit.Ref{})
	})
	if err != nil {
		return Batch{}, err
	}
	s.logger.Debug("batch received", slog.Int64("batch_id", result.ID), slog.String("quantity", input.Quantity.String()))
	return result, nil
}

// Consume draws quantity from one batch. It never drives quantity below zero.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) (Batch, error) {
	if err := requirePositive("quantity", input.Quantity); err != nil {
		return Batch{}, err
	}
	var result Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := locate(ctx, tx, input.BatchID, input.Key)
		if err != nil {
			return err
		}
		if batch.Quantity.LessThan(input.Quantity) {
			return shared.Errorf(shared.ErrInsufficientStock, "inventory_batch", strconv.FormatInt(batch.ID, 10),
				"requested %s, available %s", input.Quantity, batch.Quantity)
		}
		before := batch
		batch.Quantity = batch.Quantity.Sub(input.Quantity)
		batch.UpdatedAt = s.now().UTC()
		updated, err := tx.Update(ctx, batch)
		if err != nil {
			return err
		}
		result = updated
		parent := audit.Ref{Kind: input.ParentKind, ID: input.ParentID}
		return s.record(ctx, input.ActorID, "batch.consumed", &before, updated, notes(input.Reference, input.Notes), parent)
	})
	if err != nil {
		return Batch{}, err
	}
	return result, nil
}

// ReturnToStock increments a batch, creating it from Key when unknown.
func (s *Service) ReturnToStock(ctx context.Context, input ReturnInput) (Batch, error) {
	if err := requirePositive("quantity", input.Quantity); err != nil {
		return Batch{}, err
	}
	if input.BatchID == 0 && input.Key == nil {
		return Batch{}, shared.NewError(shared.ErrValidation, "return", "", "batch id or batch identity required")
	}
	label := input.UnitLabel
	if input.BatchID == 0 {
		if err := validateKey(*input.Key); err != nil {
			return Batch{}, err
		}
		var err error
		label, err = s.checkCatalog(ctx, input.Key.ProductID, input.Key.LocationID, label)
		if err != nil {
			return Batch{}, err
		}
	}

	var result Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var before *Batch
		var after Batch
		if input.BatchID != 0 {
			batch, err := tx.GetForUpdate(ctx, input.BatchID)
			if err != nil {
				return err
			}
			prev := batch
			before = &prev
			batch.Quantity = batch.Quantity.Add(input.Quantity)
			batch.TotalUnits = batch.TotalUnits.Add(input.Quantity)
			if input.LocationHint != "" {
				batch.LocationHint = input.LocationHint
			}
			batch.UpdatedAt = s.now().UTC()
			if after, err = tx.Update(ctx, batch); err != nil {
				return err
			}
		} else {
			var err error
			before, after, err = s.merge(ctx, tx, input.Key.Normalize(), input.Quantity, input.Quantity, label, input.LocationHint)
			if err != nil {
				return err
			}
		}
		result = after
		return s.record(ctx, input.ActorID, "batch.returned", before, after, notes(input.Reference, input.Notes), audit.Ref{})
	})
	if err != nil {
		return Batch{}, err
	}
	return result, nil
}

// LockAvailable locks and returns the non-expired batches holding stock for a
// product, FEFO ordered. A zero locationID spans every location. It joins the
// caller's transaction so the locks are held until that commits.
func (s *Service) LockAvailable(ctx context.Context, productID, locationID int64, asOf time.Time) ([]Batch, error) {
	var batches []Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batches, err = tx.LockAvailable(ctx, productID, locationID, asOf)
		return err
	})
	return batches, err
}

// Archive retires an empty batch. Batches with stock cannot be archived and rows
// are never physically deleted because selections and audit entries reference them.
func (s *Service) Archive(ctx context.Context, batchID, actorID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if !batch.Quantity.IsZero() {
			return shared.Errorf(shared.ErrInvalidState, "inventory_batch", strconv.FormatInt(batchID, 10),
				"batch still holds %s", batch.Quantity)
		}
		at := s.now().UTC()
		if err := tx.Archive(ctx, batchID, at); err != nil {
			return err
		}
		after := batch
		after.DeletedAt = &at
		return s.record(ctx, actorID, "batch.archived", &batch, after, "", audit.Ref{})
	})
}

// Get returns a live batch.
func (s *Service) Get(ctx context.Context, id int64) (Batch, error) {
	return s.repo.Get(ctx, id)
}

// List lists live batches.
func (s *Service) List(ctx context.Context, filter Filter) ([]Batch, error) {
	return s.repo.List(ctx, filter)
}

// OnHand returns the non-expired quantity of a product, at one location or, with
// a zero locationID, everywhere.
func (s *Service) OnHand(ctx context.Context, productID, locationID int64, asOf time.Time) (decimal.Decimal, error) {
	return s.repo.OnHand(ctx, productID, locationID, asOf)
}

// BarcodeFor renders the GS1 element string of a batch.
func (s *Service) BarcodeFor(ctx context.Context, batchID int64) (string, error) {
	batch, err := s.repo.Get(ctx, batchID)
	if err != nil {
		return "", err
	}
	code := strconv.FormatInt(batch.ProductID, 10)
	if s.catalog != nil {
		product, err := s.catalog.Product(ctx, batch.ProductID)
		if err != nil {
			return "", err
		}
		code = product.Code
	}
	return Barcode(code, batch.BatchNumber, batch.ExpiryDate, batch.SerialNumber), nil
}

// LookupBarcode resolves a scanned element string to the live batches it names.
func (s *Service) LookupBarcode(ctx context.Context, raw string) (BarcodeData, []Batch, error) {
	data, err := ParseBarcode(raw)
	if err != nil {
		return BarcodeData{}, nil, err
	}
	var productID int64
	if s.catalog != nil {
		product, err := s.catalog.ProductByCode(ctx, data.ProductCode)
		if err != nil {
			return data, nil, err
		}
		productID = product.ID
	} else if productID, err = strconv.ParseInt(data.ProductCode, 10, 64); err != nil {
		return data, nil, shared.NewError(shared.ErrNotFound, "product", data.ProductCode, "")
	}
	candidates, err := s.repo.List(ctx, Filter{ProductID: productID, BatchNumber: data.BatchNumber, IncludeEmpty: true})
	if err != nil {
		return data, nil, err
	}
	matches := []Batch{}
	for _, b := range candidates {
		if data.Matches(b) {
			matches = append(matches, b)
		}
	}
	return data, matches, nil
}

func (s *Service) merge(ctx context.Context, tx TxRepository, key Key, qty, units decimal.Decimal, label, hint string) (*Batch, Batch, error) {
	now := s.now().UTC()
	existing, err := tx.FindForUpdate(ctx, key)
	switch {
	case err == nil:
		before := existing
		existing.Quantity = existing.Quantity.Add(qty)
		existing.TotalUnits = existing.TotalUnits.Add(units)
		if hint != "" {
			existing.LocationHint = hint
		}
		existing.UpdatedAt = now
		updated, err := tx.Update(ctx, existing)
		return &before, updated, err
	case errors.Is(err, shared.ErrNotFound):
		created, err := tx.Insert(ctx, Batch{
			ProductID:     key.ProductID,
			LocationID:    key.LocationID,
			BatchNumber:   key.BatchNumber,
			ExpiryDate:    key.ExpiryDate,
			SerialNumber:  key.SerialNumber,
			PurchasePrice: key.PurchasePrice,
			Quantity:      qty,
			TotalUnits:    units,
			UnitLabel:     label,
			LocationHint:  hint,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		return nil, created, err
	default:
		return nil, Batch{}, err
	}
}

func (s *Service) checkCatalog(ctx context.Context, productID, locationID int64, label string) (string, error) {
	if s.catalog == nil {
		return label, nil
	}
	unit, err := s.catalog.RequireProduct(ctx, productID)
	if err != nil {
		return "", err
	}
	if err := s.catalog.RequireLocation(ctx, locationID); err != nil {
		return "", err
	}
	if label == "" {
		label = unit
	}
	return label, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, before *Batch, after Batch, note string, parent audit.Ref) error {
	if s.audit == nil {
		return nil
	}
	entry := audit.Entry{
		Entity:  audit.NewRef(audit.KindBatch, after.ID),
		Parent:  parent,
		ActorID: actorID,
		Action:  action,
		After:   audit.Snapshot(after),
		Notes:   note,
	}
	if before != nil {
		entry.Before = audit.Snapshot(before)
	}
	return s.audit.Record(ctx, entry)
}

func locate(ctx context.Context, tx TxRepository, batchID int64, key *Key) (Batch, error) {
	switch {
	case batchID != 0:
		return tx.GetForUpdate(ctx, batchID)
	case key != nil:
		return tx.FindForUpdate(ctx, key.Normalize())
	default:
		return Batch{}, shared.NewError(shared.ErrValidation, "inventory_batch", "", "batch id or batch identity required")
	}
}

func validateKey(key Key) error {
	if key.ProductID <= 0 || key.LocationID <= 0 {
		return shared.NewError(shared.ErrValidation, "inventory_batch", "", "product and location required")
	}
	if key.PurchasePrice.IsNegative() {
		return shared.NewError(shared.ErrValidation, "inventory_batch", "", "purchase price must be >= 0")
	}
	return nil
}

func requirePositive(field string, value decimal.Decimal) error {
	if !value.IsPositive() {
		return shared.NewError(shared.ErrValidation, field, "", "must be greater than zero")
	}
	return nil
}

func notes(reference, note string) string {
	switch {
	case reference == "":
		return note
	case note == "":
		return reference
	default:
		return reference + ": " + note
	}
}
