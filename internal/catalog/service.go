package catalog

import (
	"context"
	"strconv"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Service answers catalog lookups through a redis read-through cache.
type Service struct {
	repo  Repository
	cache *cache.JSONCache
}

// NewService builds Service. A nil cache reads straight from the repository.
func NewService(repo Repository, c *cache.JSONCache) *Service {
	return &Service{repo: repo, cache: c}
}

// Product returns a product by id.
func (s *Service) Product(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, shared.NewError(shared.ErrValidation, "product", strconv.FormatInt(id, 10), "invalid product id")
	}
	var p Product
	err := s.cache.FetchJSON(ctx, shared.ProductCacheKey(id), &p, func(ctx context.Context) (any, error) {
		return s.repo.GetProduct(ctx, id)
	})
	return p, err
}

// ProductByCode returns a product by its catalog code.
func (s *Service) ProductByCode(ctx context.Context, code string) (Product, error) {
	if code == "" {
		return Product{}, shared.NewError(shared.ErrValidation, "product", "", "code required")
	}
	var p Product
	err := s.cache.FetchJSON(ctx, shared.ProductCodeCacheKey(code), &p, func(ctx context.Context) (any, error) {
		return s.repo.GetProductByCode(ctx, code)
	})
	return p, err
}

// RequireProduct ensures the product exists and is active, returning its unit.
func (s *Service) RequireProduct(ctx context.Context, id int64) (string, error) {
	p, err := s.Product(ctx, id)
	if err != nil {
		return "", err
	}
	if !p.IsActive {
		return "", shared.NewError(shared.ErrValidation, "product", strconv.FormatInt(id, 10), "product is inactive")
	}
	return p.Unit, nil
}

// Location returns a storage location by id.
func (s *Service) Location(ctx context.Context, id int64) (Location, error) {
	if id <= 0 {
		return Location{}, shared.NewError(shared.ErrValidation, "storage_location", strconv.FormatInt(id, 10), "invalid location id")
	}
	var l Location
	err := s.cache.FetchJSON(ctx, shared.LocationCacheKey(id), &l, func(ctx context.Context) (any, error) {
		return s.repo.GetLocation(ctx, id)
	})
	return l, err
}

// RequireLocation ensures the location exists and is active.
func (s *Service) RequireLocation(ctx context.Context, id int64) error {
	l, err := s.Location(ctx, id)
	if err != nil {
		return err
	}
	if !l.IsActive {
		return shared.NewError(shared.ErrValidation, "storage_location", strconv.FormatInt(id, 10), "location is inactive")
	}
	return nil
}

// ListProducts lists products without caching.
func (s *Service) ListProducts(ctx context.Context, filters ListFilters) ([]Product, error) {
	return s.repo.ListProducts(ctx, filters)
}

// ListLocations lists storage locations without caching.
func (s *Service) ListLocations(ctx context.Context, filters ListFilters) ([]Location, error) {
	return s.repo.ListLocations(ctx, filters)
}

// Invalidate drops cached entries for a product and its code.
func (s *Service) Invalidate(ctx context.Context, p Product) error {
	return s.cache.Invalidate(ctx, shared.ProductCacheKey(p.ID), shared.ProductCodeCacheKey(p.Code))
}
