package repository

import (
	"context"
	"time"

	"storefront-service/internal/model"
	"storefront-service/prometheus"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderFilter narrows an order listing
type OrderFilter struct {
	Status     model.OrderStatus
	From       *time.Time
	To         *time.Time
	Search     string
	CustomerID uint
}

// OrderRepository reads and writes orders and their items
type OrderRepository struct {
	db *gorm.DB
}

func withOrderDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("order_items.id") }).
		Preload("Items.Product").
		Preload("Items.Variant").
		Preload("Customer")
}

// Create inserts an order and its items
func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	defer prometheus.TrackDBOperation("order_create")(time.Now())
	return translate(r.db.WithContext(ctx).Omit("Customer").Create(order).Error)
}

// Get returns an order with items and customer
func (r *OrderRepository) Get(ctx context.Context, id uint) (*model.Order, error) {
	defer prometheus.TrackDBOperation("order_get")(time.Now())
	var order model.Order
	if err := withOrderDetails(r.db.WithContext(ctx)).First(&order, id).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

// GetForUpdate loads the order row locking it until the transaction ends
func (r *OrderRepository) GetForUpdate(ctx context.Context, id uint) (*model.Order, error) {
	defer prometheus.TrackDBOperation("order_lock")(time.Now())
	var order model.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

// Items returns the lines of an order
func (r *OrderRepository) Items(ctx context.Context, orderID uint) ([]model.OrderItem, error) {
	var items []model.OrderItem
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&items).Error
	return items, err
}

// UpdateStatus writes status and paid time of an order
func (r *OrderRepository) UpdateStatus(ctx context.Context, order *model.Order) error {
	defer prometheus.TrackDBOperation("order_update")(time.Now())
	return r.db.WithContext(ctx).Model(order).
		Select("status", "paid_at").
		Updates(order).Error
}

// SetPaymentSession records the hosted checkout session of an order
func (r *OrderRepository) SetPaymentSession(ctx context.Context, orderID uint, sessionID string) error {
	defer prometheus.TrackDBOperation("order_update")(time.Now())
	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("payment_session_id", sessionID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns one page of orders, newest first, with the total match count
func (r *OrderRepository) List(ctx context.Context, filter OrderFilter, limit, offset int) ([]model.Order, int64, error) {
	defer prometheus.TrackDBOperation("order_list")(time.Now())
	filtered := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&model.Order{})
		if filter.Status != "" {
			query = query.Where("orders.status = ?", filter.Status)
		}
		if filter.CustomerID != 0 {
			query = query.Where("orders.customer_id = ?", filter.CustomerID)
		}
		if filter.From != nil {
			query = query.Where("orders.created_at >= ?", *filter.From)
		}
		if filter.To != nil {
			query = query.Where("orders.created_at < ?", *filter.To)
		}
		if filter.Search != "" {
			pattern := likePattern(filter.Search)
			query = query.
				Joins("LEFT JOIN customers ON customers.id = orders.customer_id").
				Where("(LOWER(orders.order_number) LIKE ? ESCAPE '\\' OR LOWER(customers.email) LIKE ? ESCAPE '\\' OR LOWER(customers.name) LIKE ? ESCAPE '\\')",
					pattern, pattern, pattern)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []model.Order
	page := withOrderDetails(filtered()).Order("orders.created_at DESC").Order("orders.id DESC")
	if limit > 0 {
		page = page.Limit(limit)
	}
	if offset > 0 {
		page = page.Offset(offset)
	}
	if err := page.Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
