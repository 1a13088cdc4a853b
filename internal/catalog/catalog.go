// Package catalog is product administration: listing, create and edit, and
// seeding an empty store with the demo range.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/store"
	"github.com/nazeru/storefront-tx-go/pkg/logging"
)

var ErrInvalidProduct = errors.New("invalid product")

const (
	defaultImageURL  = "https://picsum.photos/seed/new/600/400"
	defaultImageHint = "new product"
)

// maxPrice is the first value a NUMERIC(12,2) column cannot hold.
var maxPrice = decimal.New(1, 10)

type ProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"imageUrl"`
	ImageHint   string          `json:"imageHint"`
}

func (in ProductInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case in.Price.IsNegative():
		return fmt.Errorf("%w: price must be >= 0", ErrInvalidProduct)
	case !in.Price.Equal(in.Price.Truncate(2)):
		return fmt.Errorf("%w: price must have at most 2 decimal places", ErrInvalidProduct)
	case in.Price.GreaterThanOrEqual(maxPrice):
		return fmt.Errorf("%w: price must be below %s", ErrInvalidProduct, maxPrice)
	case in.Stock < 0:
		return fmt.Errorf("%w: stock must be >= 0", ErrInvalidProduct)
	}
	return nil
}

type Service struct {
	products store.ProductStore
}

func New(products store.ProductStore) *Service {
	return &Service{products: products}
}

func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	ps, err := s.products.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return ps, nil
}

func requireAdmin(p *domain.Principal) error {
	if !p.Authenticated() {
		return domain.ErrUnauthorized
	}
	if !p.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}

func (s *Service) Create(ctx context.Context, p *domain.Principal, in ProductInput) (domain.Product, error) {
	if err := requireAdmin(p); err != nil {
		return domain.Product{}, err
	}
	if err := in.validate(); err != nil {
		return domain.Product{}, err
	}
	prod := domain.Product{
		ID:          domain.ProductID(uuid.NewString()),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		ImageURL:    in.ImageURL,
		ImageHint:   in.ImageHint,
	}
	if prod.ImageURL == "" {
		prod.ImageURL = defaultImageURL
	}
	if prod.ImageHint == "" {
		prod.ImageHint = defaultImageHint
	}
	if err := s.products.PutProduct(ctx, prod); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	logging.Log(logging.Fields{Service: "catalog", UserID: string(p.ID), ProductID: string(prod.ID), Step: "create_product", Status: "ok"})
	return prod, nil
}

// Update replaces a product's fields. Stock is set directly, not adjusted;
// an in-flight checkout that read the old record will retry.
func (s *Service) Update(ctx context.Context, p *domain.Principal, id domain.ProductID, in ProductInput) (domain.Product, error) {
	if err := requireAdmin(p); err != nil {
		return domain.Product{}, err
	}
	if err := in.validate(); err != nil {
		return domain.Product{}, err
	}
	cur, err := s.products.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	cur.Name = strings.TrimSpace(in.Name)
	cur.Description = in.Description
	cur.Price = in.Price
	cur.Stock = in.Stock
	if in.ImageURL != "" {
		cur.ImageURL = in.ImageURL
	}
	if in.ImageHint != "" {
		cur.ImageHint = in.ImageHint
	}
	if err := s.products.PutProduct(ctx, cur); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	logging.Log(logging.Fields{Service: "catalog", UserID: string(p.ID), ProductID: string(id), Step: "update_product", Status: "ok"})
	return cur, nil
}

// DemoProducts is the starter range written by Seed.
func DemoProducts() []domain.Product {
	return []domain.Product{
		{ID: "1", Name: "Wireless Headphones", Description: "High-fidelity sound, 24-hour battery.", Price: decimal.RequireFromString("199.99"), Stock: 15, ImageURL: "https://picsum.photos/seed/headphones/600/400", ImageHint: "headphones"},
		{ID: "2", Name: "Durable Backpack", Description: "Water-resistant, multiple compartments.", Price: decimal.RequireFromString("89.99"), Stock: 30, ImageURL: "https://picsum.photos/seed/backpack/600/400", ImageHint: "backpack"},
		{ID: "3", Name: "Smart Watch", Description: "Fitness tracking, notifications, and more.", Price: decimal.RequireFromString("249.99"), Stock: 0, ImageURL: "https://picsum.photos/seed/watch/600/400", ImageHint: "smart watch"},
		{ID: "4", Name: "Coffee Maker", Description: "Brews up to 12 cups. Programmable timer.", Price: decimal.RequireFromString("129.99"), Stock: 10, ImageURL: "https://picsum.photos/seed/coffee/600/400", ImageHint: "coffee maker"},
	}
}

// Seed writes the demo range when the catalog is empty and reports how
// many products it wrote.
func (s *Service) Seed(ctx context.Context) (int, error) {
	existing, err := s.products.ListProducts(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	demo := DemoProducts()
	for _, p := range demo {
		if err := s.products.PutProduct(ctx, p); err != nil {
			return 0, err
		}
	}
	return len(demo), nil
}
