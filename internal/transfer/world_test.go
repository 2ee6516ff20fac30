package transfer

import (
	"context"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/approval"
	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/reservation"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// world is an in-memory store shared by every collaborator of the transfer
// service. WithTx snapshots all of it so a failure rolls back transfers,
// approvals, reservations and stock together.
type world struct {
	transfers  map[int64]Transfer
	selections []Selection
	batches    map[int64]inventory.Batch
	persons    map[int64]approval.Person
	requests   map[int64]approval.Request
	holds      map[uuid.UUID]reservation.Reservation
	audit      []audit.Entry
	nextID     int64
	missing    map[int64]bool
	events     []string
}

func newWorld() *world {
	return &world{
		transfers: map[int64]Transfer{},
		batches:   map[int64]inventory.Batch{},
		persons:   map[int64]approval.Person{},
		requests:  map[int64]approval.Request{},
		holds:     map[uuid.UUID]reservation.Reservation{},
		missing:   map[int64]bool{},
	}
}

func (w *world) id() int64 {
	w.nextID++
	return w.nextID
}

func (w *world) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	transfers := map[int64]Transfer{}
	for id, t := range w.transfers {
		t.Items = slices.Clone(t.Items)
		transfers[id] = t
	}
	selections := slices.Clone(w.selections)
	batches := maps.Clone(w.batches)
	persons := maps.Clone(w.persons)
	requests := maps.Clone(w.requests)
	holds := maps.Clone(w.holds)
	auditLen := len(w.audit)
	if err := fn(ctx, w); err != nil {
		w.transfers, w.selections, w.batches = transfers, selections, batches
		w.persons, w.requests, w.holds = persons, requests, holds
		w.audit = w.audit[:auditLen]
		return err
	}
	return nil
}

func (w *world) Get(_ context.Context, id int64) (Transfer, error) {
	t, ok := w.transfers[id]
	if !ok {
		return Transfer{}, shared.NewError(shared.ErrNotFound, "transfer", "", "")
	}
	t.Items = slices.Clone(t.Items)
	for i := range t.Items {
		for _, s := range w.selections {
			if s.ItemID == t.Items[i].ID {
				t.Items[i].Selections = append(t.Items[i].Selections, s)
			}
		}
	}
	return t, nil
}

func (w *world) Insert(_ context.Context, t Transfer) (Transfer, error) {
	t.ID = w.id()
	t.Items = nil
	w.transfers[t.ID] = t
	return t, nil
}

func (w *world) InsertItem(_ context.Context, item Item) (Item, error) {
	item.ID = w.id()
	t := w.transfers[item.TransferID]
	t.Items = append(slices.Clone(t.Items), item)
	w.transfers[t.ID] = t
	return item, nil
}

func (w *world) GetForUpdate(_ context.Context, id int64) (Transfer, error) {
	t, ok := w.transfers[id]
	if !ok {
		return Transfer{}, shared.NewError(shared.ErrNotFound, "transfer", "", "")
	}
	t.Items = slices.Clone(t.Items)
	return t, nil
}

func (w *world) UpdateHeader(_ context.Context, t Transfer) error {
	t.Items = w.transfers[t.ID].Items
	w.transfers[t.ID] = t
	return nil
}

func (w *world) UpdateItem(_ context.Context, item Item) error {
	t := w.transfers[item.TransferID]
	t.Items = slices.Clone(t.Items)
	for i := range t.Items {
		if t.Items[i].ID == item.ID {
			item.Selections = nil
			t.Items[i] = item
		}
	}
	w.transfers[t.ID] = t
	return nil
}

func (w *world) InsertSelections(_ context.Context, selections []Selection) error {
	for _, s := range selections {
		s.ID = w.id()
		w.selections = append(w.selections, s)
	}
	return nil
}

func (w *world) Record(_ context.Context, entry audit.Entry) error {
	w.audit = append(w.audit, entry)
	return nil
}

func (w *world) RequireProduct(_ context.Context, id int64) (string, error) {
	if w.missing[id] {
		return "", shared.NewError(shared.ErrNotFound, "product", "", "")
	}
	return "box", nil
}

func (w *world) RequireLocation(_ context.Context, id int64) error {
	if w.missing[id] {
		return shared.NewError(shared.ErrNotFound, "storage_location", "", "")
	}
	return nil
}

func (w *world) ApprovalNeeded(_ context.Context, req approval.Request) error {
	w.events = append(w.events, "approval_needed:"+req.TransactionRef)
	return nil
}

func (w *world) TransferCompleted(_ context.Context, t Transfer) error {
	w.events = append(w.events, "transfer_completed:"+t.Code)
	return nil
}

func (w *world) addBatch(productID, locationID int64, qty, price, batchNumber string, expiry *time.Time) int64 {
	id := w.id()
	w.batches[id] = inventory.Batch{
		ID:            id,
		ProductID:     productID,
		LocationID:    locationID,
		BatchNumber:   batchNumber,
		ExpiryDate:    expiry,
		Quantity:      decimal.RequireFromString(qty),
		TotalUnits:    decimal.RequireFromString(qty),
		UnitLabel:     "box",
		PurchasePrice: decimal.RequireFromString(price),
		CreatedAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute),
	}
	return id
}

func (w *world) stockAt(productID, locationID int64) []inventory.Batch {
	out := []inventory.Batch{}
	for _, b := range w.batches {
		if b.ProductID == productID && b.LocationID == locationID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// stock serves both the reservation inventory port and the transfer receive port.
type stock struct{ w *world }

func (s stock) LockAvailable(_ context.Context, productID, locationID int64, asOf time.Time) ([]inventory.Batch, error) {
	out := []inventory.Batch{}
	for _, b := range s.w.batches {
		if b.ProductID != productID || (locationID != 0 && b.LocationID != locationID) {
			continue
		}
		if b.Quantity.IsPositive() && !b.Expired(asOf) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s stock) Consume(_ context.Context, input inventory.ConsumeInput) (inventory.Batch, error) {
	b, ok := s.w.batches[input.BatchID]
	if !ok {
		return inventory.Batch{}, shared.NewError(shared.ErrNotFound, "inventory_batch", "", "")
	}
	if b.Quantity.LessThan(input.Quantity) {
		return inventory.Batch{}, shared.NewError(shared.ErrInsufficientStock, "inventory_batch", "", "")
	}
	b.Quantity = b.Quantity.Sub(input.Quantity)
	s.w.batches[b.ID] = b
	return b, nil
}

func (s stock) OnHand(_ context.Context, productID, locationID int64, asOf time.Time) (decimal.Decimal, error) {
	batches, _ := s.LockAvailable(context.Background(), productID, locationID, asOf)
	total := decimal.Zero
	for _, b := range batches {
		total = total.Add(b.Quantity)
	}
	return total, nil
}

func (s stock) Receive(_ context.Context, input inventory.ReceiveInput) (inventory.Batch, error) {
	key := input.Key.Normalize()
	for id, b := range s.w.batches {
		if b.Key().Normalize().Equal(key) {
			b.Quantity = b.Quantity.Add(input.Quantity)
			b.TotalUnits = b.TotalUnits.Add(input.Quantity)
			s.w.batches[id] = b
			return b, nil
		}
	}
	id := s.w.id()
	b := inventory.Batch{
		ID:            id,
		ProductID:     key.ProductID,
		LocationID:    key.LocationID,
		BatchNumber:   key.BatchNumber,
		ExpiryDate:    key.ExpiryDate,
		SerialNumber:  key.SerialNumber,
		PurchasePrice: key.PurchasePrice,
		Quantity:      input.Quantity,
		TotalUnits:    input.Quantity,
		UnitLabel:     input.UnitLabel,
	}
	s.w.batches[id] = b
	return b, nil
}

// holds backs the reservation service. Its WithTx joins the world's transaction.
type holds struct{ w *world }

func (h holds) WithTx(ctx context.Context, fn func(context.Context, reservation.TxRepository) error) error {
	return fn(ctx, h)
}

func (h holds) Get(_ context.Context, id uuid.UUID) (reservation.Reservation, error) {
	res, ok := h.w.holds[id]
	if !ok {
		return reservation.Reservation{}, shared.NewError(shared.ErrNotFound, "reservation", id.String(), "")
	}
	return res, nil
}

func (h holds) Insert(_ context.Context, res reservation.Reservation) error {
	h.w.holds[res.ID] = res
	return nil
}

func (h holds) GetForUpdate(ctx context.Context, id uuid.UUID) (reservation.Reservation, error) {
	return h.Get(ctx, id)
}

func (h holds) UpdateStatus(_ context.Context, res reservation.Reservation) error {
	h.w.holds[res.ID] = res
	return nil
}

func (h holds) InsertAllocations(context.Context, uuid.UUID, []reservation.Allocation) error {
	return nil
}

func (h holds) SumHeld(_ context.Context, productID, locationID int64, asOf time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, res := range h.w.holds {
		if res.ProductID != productID || !res.Status.Holding() || res.Overdue(asOf) {
			continue
		}
		if locationID != 0 && res.LocationID != locationID {
			continue
		}
		total = total.Add(res.Quantity)
	}
	return total, nil
}

func (h holds) LockOverdue(context.Context, time.Time, int) ([]reservation.Reservation, error) {
	return nil, nil
}

// approvals backs the approval service. Its WithTx joins the world's transaction.
type approvals struct{ w *world }

func (a approvals) WithTx(ctx context.Context, fn func(context.Context, approval.TxRepository) error) error {
	return fn(ctx, a)
}

func (a approvals) ListPersons(ctx context.Context, _ bool) ([]approval.Person, error) {
	return a.Candidates(ctx, decimal.Zero)
}

func (a approvals) Candidates(_ context.Context, amount decimal.Decimal) ([]approval.Person, error) {
	out := []approval.Person{}
	for _, p := range a.w.persons {
		if p.Covers(amount) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (a approvals) GetRequest(_ context.Context, id int64) (approval.Request, error) {
	req, ok := a.w.requests[id]
	if !ok {
		return approval.Request{}, shared.NewError(shared.ErrNotFound, "approval_request", "", "")
	}
	return req, nil
}

func (a approvals) InsertPerson(_ context.Context, p approval.Person) (approval.Person, error) {
	p.ID = a.w.id()
	a.w.persons[p.ID] = p
	return p, nil
}

func (a approvals) GetPersonForUpdate(_ context.Context, id int64) (approval.Person, error) {
	return a.w.persons[id], nil
}

func (a approvals) UpdatePerson(_ context.Context, p approval.Person) (approval.Person, error) {
	a.w.persons[p.ID] = p
	return p, nil
}

func (a approvals) InsertRequest(_ context.Context, req approval.Request) (approval.Request, error) {
	req.ID = a.w.id()
	a.w.requests[req.ID] = req
	return req, nil
}

func (a approvals) GetRequestForUpdate(ctx context.Context, id int64) (approval.Request, error) {
	return a.GetRequest(ctx, id)
}

func (a approvals) UpdateRequest(_ context.Context, req approval.Request) error {
	a.w.requests[req.ID] = req
	return nil
}
