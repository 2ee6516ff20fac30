package reservation

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

// SelectFEFO picks batches first-expired-first-out until quantity is covered:
// earliest expiry first, batches without expiry last, then oldest receipt and
// lowest id. Expired and empty batches are skipped. The shortfall is zero when
// the batches cover quantity.
func SelectFEFO(batches []inventory.Batch, quantity decimal.Decimal, asOf time.Time) ([]Allocation, decimal.Decimal) {
	ordered := slices.Clone(batches)
	slices.SortStableFunc(ordered, compareFEFO)

	remaining := quantity
	allocations := []Allocation{}
	for _, b := range ordered {
		if !remaining.IsPositive() {
			break
		}
		if !b.Quantity.IsPositive() || b.Expired(asOf) {
			continue
		}
		take := decimal.Min(b.Quantity, remaining)
		allocations = append(allocations, Allocation{
			BatchID:       b.ID,
			LocationID:    b.LocationID,
			BatchNumber:   b.BatchNumber,
			ExpiryDate:    b.ExpiryDate,
			SerialNumber:  b.SerialNumber,
			PurchasePrice: b.PurchasePrice,
			UnitLabel:     b.UnitLabel,
			Quantity:      take,
		})
		remaining = remaining.Sub(take)
	}
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return allocations, remaining
}

// WithoutPinned trims batches so an unpinned hold leaves each location enough
// stock for the holds pinned there. Pinned holds keep the earliest-expiring
// units of their location; what is left is returned with reduced quantities.
func WithoutPinned(batches []inventory.Batch, pinned map[int64]decimal.Decimal, asOf time.Time) []inventory.Batch {
	ordered := slices.Clone(batches)
	slices.SortStableFunc(ordered, compareFEFO)

	owed := maps.Clone(pinned)
	free := make([]inventory.Batch, 0, len(ordered))
	for _, b := range ordered {
		if !b.Quantity.IsPositive() || b.Expired(asOf) {
			continue
		}
		if debt := owed[b.LocationID]; debt.IsPositive() {
			kept := decimal.Min(debt, b.Quantity)
			owed[b.LocationID] = debt.Sub(kept)
			b.Quantity = b.Quantity.Sub(kept)
		}
		if b.Quantity.IsPositive() {
			free = append(free, b)
		}
	}
	return free
}

func compareFEFO(a, b inventory.Batch) int {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return 1
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return -1
	case a.ExpiryDate != nil && b.ExpiryDate != nil:
		if c := a.ExpiryDate.Compare(*b.ExpiryDate); c != 0 {
			return c
		}
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
