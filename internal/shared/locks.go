package shared

import "fmt"

// ReservationSweepLockKey guards the periodic reservation expiry sweep.
const ReservationSweepLockKey = "stock:reservations:sweep:lock"

// ProductCacheKey builds redis keys for cached catalog products.
func ProductCacheKey(productID int64) string {
	return fmt.Sprintf("stock:catalog:product:%d", productID)
}

// LocationCacheKey builds redis keys for cached storage locations.
func LocationCacheKey(locationID int64) string {
	return fmt.Sprintf("stock:catalog:location:%d", locationID)
}

// ProductCodeCacheKey builds redis keys for products looked up by code.
func ProductCodeCacheKey(code string) string {
	return fmt.Sprintf("stock:catalog:product-code:%s", code)
}
