package reservation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enumerates reservation lifecycle states.
type Status string

const (
	StatusActive    Status = "active"
	StatusReleased  Status = "released"
	StatusFulfilled Status = "fulfilled"
	StatusExpired   Status = "expired"
)

// Label returns a human readable status.
func (s Status) Label() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusReleased:
		return "Released"
	case StatusFulfilled:
		return "Fulfilled"
	case StatusExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Holding reports whether the reservation still withholds stock.
func (s Status) Holding() bool {
	return s == StatusActive
}

// Reservation is a time-bounded hold on available stock. LocationID zero means
// the hold may be satisfied from any location.
type Reservation struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   int64           `json:"product_id"`
	LocationID  int64           `json:"location_id,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	RequestedBy int64           `json:"requested_by"`
	Status      Status          `json:"status"`
	Reference   string          `json:"reference,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ReleasedAt  *time.Time      `json:"released_at,omitempty"`
	FulfilledAt *time.Time      `json:"fulfilled_at,omitempty"`
	Allocations []Allocation    `json:"allocations,omitempty"`
}

// Overdue reports whether the hold lapsed before asOf.
func (r Reservation) Overdue(asOf time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(asOf)
}

// Allocation is the quantity drawn from one batch on fulfilment, with the batch
// identity captured at that moment.
type Allocation struct {
	BatchID       int64           `json:"batch_id"`
	LocationID    int64           `json:"location_id"`
	BatchNumber   string          `json:"batch_number"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	SerialNumber  *string         `json:"serial_number,omitempty"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	UnitLabel     string          `json:"unit_label,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// Consumption is the outcome of fulfilling a reservation.
type Consumption struct {
	ReservationID uuid.UUID       `json:"reservation_id"`
	Allocations   []Allocation    `json:"allocations"`
	Total         decimal.Decimal `json:"total"`
}

// ReserveInput describes a new hold.
type ReserveInput struct {
	ProductID   int64
	LocationID  int64
	Quantity    decimal.Decimal
	RequestedBy int64
	ExpiresAt   *time.Time
	Reference   string
	// AsOf overrides the service clock.
	AsOf time.Time
}
