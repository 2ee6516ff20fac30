package inventory

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Batch is one live inventory row. Its identity is the normalised Key.
type Batch struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	LocationID    int64           `json:"location_id"`
	BatchNumber   string          `json:"batch_number"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	SerialNumber  *string         `json:"serial_number,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	TotalUnits    decimal.Decimal `json:"total_units"`
	UnitLabel     string          `json:"unit_label"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	LocationHint  string          `json:"location_hint,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
}

// Key returns the batch identity.
func (b Batch) Key() Key {
	return Key{
		ProductID:     b.ProductID,
		LocationID:    b.LocationID,
		BatchNumber:   b.BatchNumber,
		ExpiryDate:    b.ExpiryDate,
		SerialNumber:  b.SerialNumber,
		PurchasePrice: b.PurchasePrice,
	}
}

// Expired reports whether the batch expiry day is before asOf's day.
func (b Batch) Expired(asOf time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return b.ExpiryDate.Before(truncateDay(asOf))
}

// Key is the batch identity tuple. Price is part of the key so lots bought at
// different costs never merge.
type Key struct {
	ProductID     int64           `json:"product_id"`
	LocationID    int64           `json:"location_id"`
	BatchNumber   string          `json:"batch_number"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	SerialNumber  *string         `json:"serial_number,omitempty"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
}

// Normalize trims text fields, truncates the expiry to a UTC day, turns blank
// serials into nil and rounds the price to the stored scale.
func (k Key) Normalize() Key {
	k.BatchNumber = strings.TrimSpace(k.BatchNumber)
	if k.ExpiryDate != nil {
		day := truncateDay(*k.ExpiryDate)
		k.ExpiryDate = &day
	}
	if k.SerialNumber != nil {
		serial := strings.TrimSpace(*k.SerialNumber)
		if serial == "" {
			k.SerialNumber = nil
		} else {
			k.SerialNumber = &serial
		}
	}
	k.PurchasePrice = k.PurchasePrice.Round(priceScale)
	return k
}

// Equal compares two normalised keys.
func (k Key) Equal(other Key) bool {
	if k.ProductID != other.ProductID || k.LocationID != other.LocationID || k.BatchNumber != other.BatchNumber {
		return false
	}
	if !k.PurchasePrice.Equal(other.PurchasePrice) {
		return false
	}
	switch {
	case k.ExpiryDate == nil && other.ExpiryDate != nil, k.ExpiryDate != nil && other.ExpiryDate == nil:
		return false
	case k.ExpiryDate != nil && !k.ExpiryDate.Equal(*other.ExpiryDate):
		return false
	}
	return serialValue(k.SerialNumber) == serialValue(other.SerialNumber)
}

const priceScale = 4

// ReceiveInput describes an incoming receipt.
type ReceiveInput struct {
	Key
	Quantity     decimal.Decimal
	TotalUnits   decimal.Decimal
	UnitLabel    string
	LocationHint string
	ActorID      int64
	Reference    string
	Notes        string
}

// ConsumeInput identifies a batch by id or by full key and the amount to draw.
type ConsumeInput struct {
	BatchID   int64
	Key       *Key
	Quantity  decimal.Decimal
	ActorID   int64
	Reference string
	Notes     string
	// Parent ties the audit entry to the operation that caused it.
	ParentKind string
	ParentID   string
}

// ReturnInput puts stock back. With only BatchID the batch must exist; with a Key
// an unknown identity is created as on receipt.
type ReturnInput struct {
	BatchID      int64
	Key          *Key
	Quantity     decimal.Decimal
	UnitLabel    string
	LocationHint string
	ActorID      int64
	Reference    string
	Notes        string
}

// Filter narrows batch listings.
type Filter struct {
	ProductID    int64
	LocationID   int64
	BatchNumber  string
	IncludeEmpty bool
	Limit        int
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func serialValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
