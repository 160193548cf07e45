package repository

import (
	"context"
	"time"

	"storefront-service/internal/model"
	"storefront-service/prometheus"

	"gorm.io/gorm"
)

// ProductFilter narrows a product listing
type ProductFilter struct {
	Active *bool
	Flavor model.Flavor
	Search string
	Limit  int
	Offset int
}

// ProductRepository reads and writes products, variants and price tiers
type ProductRepository struct {
	db *gorm.DB
}

func withDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("product_variants.id") }).
		Preload("PriceTiers", func(db *gorm.DB) *gorm.DB { return db.Order("price_tiers.quantity") })
}

// List returns one page of products with variants and tiers, plus the total match count
func (r *ProductRepository) List(ctx context.Context, filter ProductFilter) ([]model.Product, int64, error) {
	defer prometheus.TrackDBOperation("product_list")(time.Now())

	filtered := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&model.Product{})
		if filter.Active != nil {
			query = query.Where("products.active = ?", *filter.Active)
		}
		if filter.Flavor != "" {
			query = query.Where("EXISTS (SELECT 1 FROM product_variants v WHERE v.product_id = products.id AND v.flavor = ?)", filter.Flavor)
		}
		if filter.Search != "" {
			pattern := likePattern(filter.Search)
			query = query.Where("(LOWER(products.name) LIKE ? ESCAPE '\\' OR LOWER(products.description) LIKE ? ESCAPE '\\')", pattern, pattern)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var products []model.Product
	page := withDetails(filtered()).Order("products.id")
	if filter.Limit > 0 {
		page = page.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		page = page.Offset(filter.Offset)
	}
	if err := page.Find(&products).Error; err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// Get returns a product with its variants and tiers
func (r *ProductRepository) Get(ctx context.Context, id uint) (*model.Product, error) {
	defer prometheus.TrackDBOperation("product_get")(time.Now())

	var product model.Product
	if err := withDetails(r.db.WithContext(ctx)).First(&product, id).Error; err != nil {
		return nil, translate(err)
	}
	return &product, nil
}

// Create inserts a product together with any variants and tiers it carries
func (r *ProductRepository) Create(ctx context.Context, product *model.Product) error {
	defer prometheus.TrackDBOperation("product_create")(time.Now())
	return translate(r.db.WithContext(ctx).Create(product).Error)
}

// Update writes the product's own columns, leaving variants and tiers alone
func (r *ProductRepository) Update(ctx context.Context, product *model.Product) error {
	defer prometheus.TrackDBOperation("product_update")(time.Now())
	result := r.db.WithContext(ctx).Model(product).
		Select("name", "description", "base_price", "active", "dosage_label").
		Updates(product)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActive toggles whether a product is sold
func (r *ProductRepository) SetActive(ctx context.Context, id uint, active bool) error {
	defer prometheus.TrackDBOperation("product_update")(time.Now())
	result := r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", id).Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetVariant returns a variant of the given product
func (r *ProductRepository) GetVariant(ctx context.Context, productID, variantID uint) (*model.ProductVariant, error) {
	var variant model.ProductVariant
	err := r.db.WithContext(ctx).Where("id = ? AND product_id = ?", variantID, productID).First(&variant).Error
	if err != nil {
		return nil, translate(err)
	}
	return &variant, nil
}

// SKUTaken reports whether another variant already uses sku
func (r *ProductRepository) SKUTaken(ctx context.Context, sku string, excludeID uint) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&model.ProductVariant{}).Where("sku = ?", sku)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ProductRepository) CreateVariant(ctx context.Context, variant *model.ProductVariant) error {
	defer prometheus.TrackDBOperation("variant_create")(time.Now())
	return translate(r.db.WithContext(ctx).Create(variant).Error)
}

func (r *ProductRepository) UpdateVariant(ctx context.Context, variant *model.ProductVariant) error {
	defer prometheus.TrackDBOperation("variant_update")(time.Now())
	result := r.db.WithContext(ctx).Model(variant).
		Select("flavor", "color", "stock", "sku", "images").
		Updates(variant)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ProductRepository) DeleteVariant(ctx context.Context, productID, variantID uint) error {
	defer prometheus.TrackDBOperation("variant_delete")(time.Now())
	result := r.db.WithContext(ctx).Where("id = ? AND product_id = ?", variantID, productID).Delete(&model.ProductVariant{})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DecrementStock reserves quantity units of a variant. It reports false,
// without changing anything, when the variant does not hold enough stock.
func (r *ProductRepository) DecrementStock(ctx context.Context, variantID uint, quantity int) (bool, error) {
	defer prometheus.TrackDBOperation("stock_decrement")(time.Now())
	result := r.db.WithContext(ctx).Model(&model.ProductVariant{}).
		Where("id = ? AND stock >= ?", variantID, quantity).
		UpdateColumn("stock", gorm.Expr("stock - ?", quantity))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// IncrementStock returns quantity units to a variant
func (r *ProductRepository) IncrementStock(ctx context.Context, variantID uint, quantity int) error {
	defer prometheus.TrackDBOperation("stock_increment")(time.Now())
	return r.db.WithContext(ctx).Model(&model.ProductVariant{}).
		Where("id = ?", variantID).
		UpdateColumn("stock", gorm.Expr("stock + ?", quantity)).Error
}

// VariantsByIDs loads variants, used to refresh stock gauges
func (r *ProductRepository) VariantsByIDs(ctx context.Context, ids []uint) ([]model.ProductVariant, error) {
	var variants []model.ProductVariant
	if len(ids) == 0 {
		return variants, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&variants).Error
	return variants, err
}

// ListTiers returns a product's tiers by ascending quantity
func (r *ProductRepository) ListTiers(ctx context.Context, productID uint) ([]model.PriceTier, error) {
	var tiers []model.PriceTier
	err := r.db.WithContext(ctx).Where("product_id = ?", productID).Order("quantity").Find(&tiers).Error
	return tiers, err
}

func (r *ProductRepository) CreateTier(ctx context.Context, tier *model.PriceTier) error {
	defer prometheus.TrackDBOperation("tier_create")(time.Now())
	return translate(r.db.WithContext(ctx).Create(tier).Error)
}

func (r *ProductRepository) UpdateTier(ctx context.Context, tier *model.PriceTier) error {
	defer prometheus.TrackDBOperation("tier_update")(time.Now())
	result := r.db.WithContext(ctx).Model(tier).Select("quantity", "price").Updates(tier)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ProductRepository) DeleteTier(ctx context.Context, productID, tierID uint) error {
	defer prometheus.TrackDBOperation("tier_delete")(time.Now())
	result := r.db.WithContext(ctx).Where("id = ? AND product_id = ?", tierID, productID).Delete(&model.PriceTier{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
