package catalog

import "time"

// Product is the catalog view the stock core needs: existence and unit.
type Product struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location is a storage location (pharmacy, ward store, warehouse).
type Location struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilters narrows product and location listings.
type ListFilters struct {
	Search     string
	ActiveOnly bool
	Limit      int
}
