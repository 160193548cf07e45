package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront-service/internal/model"
	"storefront-service/internal/pricing"
	"storefront-service/internal/repository"
	"storefront-service/pkg/cache"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductInput carries the editable fields of a product
type ProductInput struct {
	Name        string
	Description string
	BasePrice   decimal.Decimal
	Active      *bool
	DosageLabel *string
	Variants    []VariantInput
	Tiers       []TierInput
}

// VariantInput carries the editable fields of a variant
type VariantInput struct {
	Flavor model.Flavor
	Color  string
	Stock  int
	SKU    string
	Images []string
}

// TierInput carries the editable fields of a price tier
type TierInput struct {
	Quantity int
	Price    decimal.Decimal
}

// ProductPage is one page of a product listing
type ProductPage struct {
	Products []model.Product `json:"products"`
	Total    int64           `json:"total"`
}

// CatalogService reads and edits products, variants and price tiers
type CatalogService struct {
	store *repository.Store
	cache *cache.Cache
	log   *zap.Logger
}

// NewCatalogService creates a CatalogService. A nil cache disables caching.
func NewCatalogService(store *repository.Store, c *cache.Cache, log *zap.Logger) *CatalogService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogService{store: store, cache: c, log: log}
}

// ListProducts returns products with their variants and tiers
func (s *CatalogService) ListProducts(ctx context.Context, filter repository.ProductFilter) (*ProductPage, error) {
	if filter.Flavor != "" && !filter.Flavor.Valid() {
		return nil, validationError("unknown flavor %q", filter.Flavor)
	}
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	return cache.Fetch(ctx, s.cache, productListCacheKey(filter), func(ctx context.Context) (*ProductPage, error) {
		products, total, err := s.store.Products.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		return &ProductPage{Products: products, Total: total}, nil
	})
}

func productListCacheKey(f repository.ProductFilter) string {
	active := "any"
	if f.Active != nil {
		active = fmt.Sprintf("%t", *f.Active)
	}
	return fmt.Sprintf("%slist:%s:%s:%s:%d:%d", productsCachePrefix, active, f.Flavor,
		strings.ToLower(strings.TrimSpace(f.Search)), f.Limit, f.Offset)
}

// GetProduct returns a product. Inactive products are only visible when
// includeInactive is set.
func (s *CatalogService) GetProduct(ctx context.Context, id uint, includeInactive bool) (*model.Product, error) {
	product, err := cache.Fetch(ctx, s.cache, productCacheKey(id), func(ctx context.Context) (*model.Product, error) {
		return s.store.Products.Get(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if !product.Active && !includeInactive {
		return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
	}
	return product, nil
}

func validateProduct(in ProductInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return validationError("name is required")
	}
	if !in.BasePrice.IsPositive() {
		return validationError("basePrice must be greater than 0")
	}
	return nil
}

func validateVariant(in VariantInput) error {
	if !in.Flavor.Valid() {
		return validationError("unknown flavor %q", in.Flavor)
	}
	if !model.ValidColor(in.Color) {
		return validationError("color %q must be a hex color like #ff66aa", in.Color)
	}
	if in.Stock < 0 {
		return validationError("stock must not be negative")
	}
	if strings.TrimSpace(in.SKU) == "" {
		return validationError("sku is required")
	}
	return nil
}

func tiersOf(inputs []TierInput) []pricing.Tier {
	tiers := make([]pricing.Tier, 0, len(inputs))
	for _, t := range inputs {
		tiers = append(tiers, pricing.Tier{Quantity: t.Quantity, Price: t.Price})
	}
	return tiers
}

func tierError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

func variantModel(productID uint, in VariantInput) model.ProductVariant {
	return model.ProductVariant{
		ProductID: productID,
		Flavor:    in.Flavor,
		Color:     strings.ToLower(in.Color),
		Stock:     in.Stock,
		SKU:       strings.TrimSpace(in.SKU),
		Images:    model.ImageRefs(in.Images),
	}
}

// CreateProduct stores a product with its initial variants and tiers
func (s *CatalogService) CreateProduct(ctx context.Context, in ProductInput) (*model.Product, error) {
	if err := validateProduct(in); err != nil {
		return nil, err
	}
	skus := make(map[string]struct{}, len(in.Variants))
	for i, v := range in.Variants {
		if err := validateVariant(v); err != nil {
			return nil, fmt.Errorf("variants[%d]: %w", i, err)
		}
		sku := strings.TrimSpace(v.SKU)
		if _, dup := skus[sku]; dup {
			return nil, fmt.Errorf("%w: sku %q repeated", ErrConflict, sku)
		}
		skus[sku] = struct{}{}
	}
	if err := pricing.ValidateTiers(tiersOf(in.Tiers)); err != nil {
		return nil, tierError(err)
	}

	product := model.Product{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		BasePrice:   in.BasePrice.Round(2),
		Active:      in.Active == nil || *in.Active,
		DosageLabel: in.DosageLabel,
	}
	for _, v := range in.Variants {
		product.Variants = append(product.Variants, variantModel(0, v))
	}
	for _, t := range in.Tiers {
		product.PriceTiers = append(product.PriceTiers, model.PriceTier{Quantity: t.Quantity, Price: t.Price.Round(2)})
	}

	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		for sku := range skus {
			taken, err := tx.Products.SKUTaken(ctx, sku, 0)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: sku %q already exists", ErrConflict, sku)
			}
		}
		return tx.Products.Create(ctx, &product)
	})
	if err != nil {
		return nil, conflictOr(err, "product")
	}

	s.log.Info("Product created",
		zap.Uint("product_id", product.ID),
		zap.String("name", product.Name),
		zap.Int("variants", len(product.Variants)))
	s.cache.Invalidate(ctx, productsCachePrefix)
	return s.store.Products.Get(ctx, product.ID)
}

// UpdateProduct replaces the product's own fields
func (s *CatalogService) UpdateProduct(ctx context.Context, id uint, in ProductInput) (*model.Product, error) {
	if err := validateProduct(in); err != nil {
		return nil, err
	}
	current, err := s.store.Products.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	current.Name = strings.TrimSpace(in.Name)
	current.Description = in.Description
	current.BasePrice = in.BasePrice.Round(2)
	current.DosageLabel = in.DosageLabel
	if in.Active != nil {
		current.Active = *in.Active
	}
	if err := s.store.Products.Update(ctx, current); err != nil {
		return nil, err
	}

	s.log.Info("Product updated", zap.Uint("product_id", id))
	s.cache.Invalidate(ctx, productsCachePrefix)
	return s.store.Products.Get(ctx, id)
}

// DeactivateProduct hides a product from the storefront. Products are never
// deleted because orders keep referring to them.
func (s *CatalogService) DeactivateProduct(ctx context.Context, id uint) error {
	err := s.store.Products.SetActive(ctx, id, false)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: id %d", ErrProductNotFound, id)
	}
	if err != nil {
		return err
	}
	s.log.Info("Product deactivated", zap.Uint("product_id", id))
	s.cache.Invalidate(ctx, productsCachePrefix)
	return nil
}

func (s *CatalogService) requireProduct(ctx context.Context, id uint) error {
	_, err := s.store.Products.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: id %d", ErrProductNotFound, id)
	}
	return err
}

// CreateVariant adds a variant to a product
func (s *CatalogService) CreateVariant(ctx context.Context, productID uint, in VariantInput) (*model.ProductVariant, error) {
	if err := validateVariant(in); err != nil {
		return nil, err
	}
	if err := s.requireProduct(ctx, productID); err != nil {
		return nil, err
	}
	if err := s.ensureSKUFree(ctx, in.SKU, 0); err != nil {
		return nil, err
	}

	variant := variantModel(productID, in)
	if err := s.store.Products.CreateVariant(ctx, &variant); err != nil {
		return nil, conflictOr(err, "variant")
	}
	s.log.Info("Variant created",
		zap.Uint("product_id", productID),
		zap.Uint("variant_id", variant.ID),
		zap.String("sku", variant.SKU))
	s.cache.Invalidate(ctx, productsCachePrefix)
	return &variant, nil
}

// UpdateVariant replaces a variant's fields
func (s *CatalogService) UpdateVariant(ctx context.Context, productID, variantID uint, in VariantInput) (*model.ProductVariant, error) {
	if err := validateVariant(in); err != nil {
		return nil, err
	}
	if _, err := s.store.Products.GetVariant(ctx, productID, variantID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: variant %d of product %d", ErrVariantNotFound, variantID, productID)
		}
		return nil, err
	}
	if err := s.ensureSKUFree(ctx, in.SKU, variantID); err != nil {
		return nil, err
	}

	variant := variantModel(productID, in)
	variant.ID = variantID
	if err := s.store.Products.UpdateVariant(ctx, &variant); err != nil {
		return nil, conflictOr(err, "variant")
	}
	s.log.Info("Variant updated", zap.Uint("variant_id", variantID), zap.Int("stock", variant.Stock))
	s.cache.Invalidate(ctx, productsCachePrefix)
	return s.store.Products.GetVariant(ctx, productID, variantID)
}

// DeleteVariant removes a variant. Variants that appear on orders stay so
// order history keeps its lines; they can be taken off sale with zero stock.
func (s *CatalogService) DeleteVariant(ctx context.Context, productID, variantID uint) error {
	err := s.store.Products.DeleteVariant(ctx, productID, variantID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: variant %d of product %d", ErrVariantNotFound, variantID, productID)
	}
	if errors.Is(err, repository.ErrReferenced) {
		return fmt.Errorf("%w: variant %d has orders, set its stock to 0 instead", ErrConflict, variantID)
	}
	if err != nil {
		return err
	}
	s.log.Info("Variant deleted", zap.Uint("variant_id", variantID))
	s.cache.Invalidate(ctx, productsCachePrefix)
	return nil
}

func (s *CatalogService) ensureSKUFree(ctx context.Context, sku string, excludeID uint) error {
	taken, err := s.store.Products.SKUTaken(ctx, strings.TrimSpace(sku), excludeID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: sku %q already exists", ErrConflict, sku)
	}
	return nil
}

// CreateTier adds a price tier to a product
func (s *CatalogService) CreateTier(ctx context.Context, productID uint, in TierInput) (*model.PriceTier, error) {
	if err := s.checkTier(ctx, productID, 0, in); err != nil {
		return nil, err
	}
	tier := model.PriceTier{ProductID: productID, Quantity: in.Quantity, Price: in.Price.Round(2)}
	if err := s.store.Products.CreateTier(ctx, &tier); err != nil {
		return nil, conflictOr(err, "price tier")
	}
	s.log.Info("Price tier created", zap.Uint("product_id", productID), zap.Int("quantity", tier.Quantity))
	s.cache.Invalidate(ctx, productsCachePrefix)
	return &tier, nil
}

// UpdateTier replaces a tier's quantity and price
func (s *CatalogService) UpdateTier(ctx context.Context, productID, tierID uint, in TierInput) (*model.PriceTier, error) {
	if err := s.checkTier(ctx, productID, tierID, in); err != nil {
		return nil, err
	}
	tier := model.PriceTier{ID: tierID, ProductID: productID, Quantity: in.Quantity, Price: in.Price.Round(2)}
	if err := s.store.Products.UpdateTier(ctx, &tier); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrTierNotFound, tierID)
		}
		return nil, conflictOr(err, "price tier")
	}
	s.log.Info("Price tier updated", zap.Uint("tier_id", tierID))
	s.cache.Invalidate(ctx, productsCachePrefix)
	return &tier, nil
}

// DeleteTier removes a price tier
func (s *CatalogService) DeleteTier(ctx context.Context, productID, tierID uint) error {
	err := s.store.Products.DeleteTier(ctx, productID, tierID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: id %d", ErrTierNotFound, tierID)
	}
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, productsCachePrefix)
	return nil
}

// checkTier validates a tier against the product's other tiers
func (s *CatalogService) checkTier(ctx context.Context, productID, tierID uint, in TierInput) error {
	if err := pricing.ValidateTiers([]pricing.Tier{{Quantity: in.Quantity, Price: in.Price}}); err != nil {
		return tierError(err)
	}
	if err := s.requireProduct(ctx, productID); err != nil {
		return err
	}
	existing, err := s.store.Products.ListTiers(ctx, productID)
	if err != nil {
		return err
	}
	found := tierID == 0
	for _, t := range existing {
		if t.ID == tierID {
			found = true
			continue
		}
		if t.Quantity == in.Quantity {
			return fmt.Errorf("%w: product %d already has a tier for quantity %d", ErrConflict, productID, in.Quantity)
		}
	}
	if !found {
		return fmt.Errorf("%w: id %d", ErrTierNotFound, tierID)
	}
	return nil
}

func conflictOr(err error, what string) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("%w: %s already exists", ErrConflict, what)
	}
	return err
}
