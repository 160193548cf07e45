package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-service/internal/loyalty"
	"storefront-service/internal/model"
	"storefront-service/internal/pricing"
	"storefront-service/internal/repository"
	"storefront-service/pkg/cache"
	"storefront-service/prometheus"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// OrderNotifier is told about committed order changes
type OrderNotifier interface {
	OrderCreated(ctx context.Context, order *model.Order)
	OrderStatusChanged(ctx context.Context, order *model.Order, previous model.OrderStatus)
}

type noopNotifier struct{}

func (noopNotifier) OrderCreated(context.Context, *model.Order)                              {}
func (noopNotifier) OrderStatusChanged(context.Context, *model.Order, model.OrderStatus) {}

// OrderItemInput is one requested order line
type OrderItemInput struct {
	ProductID uint
	VariantID uint
	Quantity  int
}

// CreateOrderInput is everything needed to place an order
type CreateOrderInput struct {
	CustomerID      uint
	Items           []OrderItemInput
	ShippingAddress model.ShippingAddress
}

// OrderPage is one page of an order listing
type OrderPage struct {
	Orders   []model.Order `json:"orders"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

// OrderServiceConfig configures an OrderService
type OrderServiceConfig struct {
	Policy          loyalty.Policy
	RestockOnCancel bool
	Notifier        OrderNotifier
	Cache           *cache.Cache
	Logger          *zap.Logger
	Clock           func() time.Time
}

// OrderService owns the order lifecycle: placement with stock reservation,
// status transitions and loyalty accrual.
type OrderService struct {
	store           *repository.Store
	policy          loyalty.Policy
	restockOnCancel bool
	notifier        OrderNotifier
	cache           *cache.Cache
	log             *zap.Logger
	clock           func() time.Time
}

// NewOrderService creates an OrderService
func NewOrderService(store *repository.Store, cfg OrderServiceConfig) *OrderService {
	s := &OrderService{
		store:           store,
		policy:          cfg.Policy,
		restockOnCancel: cfg.RestockOnCancel,
		notifier:        cfg.Notifier,
		cache:           cfg.Cache,
		log:             cfg.Logger,
		clock:           cfg.Clock,
	}
	if !s.policy.Divisor.IsPositive() {
		s.policy = loyalty.DefaultPolicy()
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

func validateOrderInput(in CreateOrderInput) error {
	if in.CustomerID == 0 {
		return validationError("customer is required")
	}
	if len(in.Items) == 0 {
		return validationError("order must contain at least one item")
	}
	for i, item := range in.Items {
		if item.ProductID == 0 || item.VariantID == 0 {
			return validationError("items[%d]: productId and variantId are required", i)
		}
		if item.Quantity < 1 {
			return validationError("items[%d]: quantity must be at least 1", i)
		}
	}
	addr := in.ShippingAddress
	for _, field := range []struct {
		name  string
		value string
	}{
		{"name", addr.Name},
		{"line1", addr.Line1},
		{"city", addr.City},
		{"postalCode", addr.PostalCode},
		{"country", addr.Country},
	} {
		if strings.TrimSpace(field.value) == "" {
			return validationError("shippingAddress.%s is required", field.name)
		}
	}
	return nil
}

// CreateOrder prices the requested items, reserves their stock and persists
// the order in one transaction. Nothing is stored when any line fails.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (order *model.Order, err error) {
	defer func() { prometheus.RecordOrderOperation("create", outcome(err)) }()

	if err := validateOrderInput(in); err != nil {
		return nil, err
	}
	if _, err := s.store.Customers.Get(ctx, in.CustomerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrCustomerNotFound, in.CustomerID)
		}
		return nil, err
	}

	var created model.Order
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		products := make(map[uint]*model.Product)
		items := make([]model.OrderItem, 0, len(in.Items))
		total := decimal.Zero

		for i, line := range in.Items {
			product, ok := products[line.ProductID]
			if !ok {
				p, err := tx.Products.Get(ctx, line.ProductID)
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("%w: items[%d]: id %d", ErrProductNotFound, i, line.ProductID)
				}
				if err != nil {
					return err
				}
				product = p
				products[line.ProductID] = p
			}
			if !product.Active {
				return fmt.Errorf("%w: items[%d]: product %d is not available", ErrProductNotFound, i, line.ProductID)
			}
			if findVariant(product, line.VariantID) == nil {
				return fmt.Errorf("%w: items[%d]: variant %d of product %d", ErrVariantNotFound, i, line.VariantID, line.ProductID)
			}

			price := pricing.Resolve(product.BasePrice, product.Tiers(), line.Quantity).Round(2)
			total = total.Add(price)
			items = append(items, model.OrderItem{
				ProductID: line.ProductID,
				VariantID: line.VariantID,
				Quantity:  line.Quantity,
				Price:     price,
				UnitPrice: price.DivRound(decimal.NewFromInt(int64(line.Quantity)), 2),
			})
		}

		created = model.Order{
			OrderNumber:     newOrderNumber(s.clock()),
			CustomerID:      in.CustomerID,
			Status:          model.OrderStatusPending,
			TotalAmount:     total,
			ShippingAddress: in.ShippingAddress,
			Items:           items,
		}
		if err := tx.Orders.Create(ctx, &created); err != nil {
			return err
		}

		for i, line := range in.Items {
			reserved, err := tx.Products.DecrementStock(ctx, line.VariantID, line.Quantity)
			if err != nil {
				return err
			}
			if !reserved {
				return fmt.Errorf("%w: items[%d]: variant %d cannot supply %d", ErrInsufficientStock, i, line.VariantID, line.Quantity)
			}
		}
		return nil
	})
	if err != nil {
		s.log.Warn("Order creation failed",
			zap.Uint("customer_id", in.CustomerID),
			zap.Int("items", len(in.Items)),
			zap.Error(err))
		return nil, err
	}

	order, err = s.store.Orders.Get(ctx, created.ID)
	if err != nil {
		return nil, err
	}

	s.log.Info("Order created",
		zap.Uint("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Uint("customer_id", order.CustomerID),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	prometheus.ObserveOrderValue(order.TotalAmount.InexactFloat64())
	s.refreshStockGauges(ctx, order.Items)
	s.cache.Invalidate(ctx, ordersCachePrefix, productsCachePrefix)
	s.notifier.OrderCreated(ctx, order)
	return order, nil
}

func findVariant(product *model.Product, variantID uint) *model.ProductVariant {
	for i := range product.Variants {
		if product.Variants[i].ID == variantID {
			return &product.Variants[i]
		}
	}
	return nil
}

func newOrderNumber(now time.Time) string {
	return "ORD-" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// TransitionStatus moves an order to next. Requesting the current status is
// a no-op. Moving into paid awards loyalty points in the same transaction.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID uint, next model.OrderStatus) (order *model.Order, err error) {
	operation := "transition_unknown"
	defer func() { prometheus.RecordOrderOperation(operation, outcome(err)) }()

	if _, ok := model.ParseOrderStatus(string(next)); !ok {
		return nil, validationError("unknown status %q", next)
	}
	operation = "transition_" + string(next)

	var (
		previous  model.OrderStatus
		changed   bool
		earned    int
		restocked bool
	)
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		current, err := tx.Orders.GetForUpdate(ctx, orderID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: id %d", ErrOrderNotFound, orderID)
		}
		if err != nil {
			return err
		}

		previous = current.Status
		if current.Status == next {
			return nil
		}
		if !current.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, next)
		}

		switch next {
		case model.OrderStatusPaid:
			earned = s.policy.PointsFor(current.TotalAmount)
			if _, err := tx.Customers.AccrueLoyalty(ctx, current.CustomerID, earned, s.policy.Thresholds.TierFor); err != nil {
				return err
			}
			paidAt := s.clock()
			current.PaidAt = &paidAt
		case model.OrderStatusCancelled:
			if s.restockOnCancel {
				items, err := tx.Orders.Items(ctx, current.ID)
				if err != nil {
					return err
				}
				for _, item := range items {
					if err := tx.Products.IncrementStock(ctx, item.VariantID, item.Quantity); err != nil {
						return err
					}
				}
				restocked = true
			}
		}

		current.Status = next
		if err := tx.Orders.UpdateStatus(ctx, current); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		s.log.Warn("Order status transition failed",
			zap.Uint("order_id", orderID),
			zap.String("requested", string(next)),
			zap.Error(err))
		return nil, err
	}

	order, err = s.store.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !changed {
		s.log.Debug("Order already in requested status",
			zap.Uint("order_id", orderID),
			zap.String("status", string(next)))
		return order, nil
	}

	s.log.Info("Order status changed",
		zap.Uint("order_id", orderID),
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
		zap.Int("points_earned", earned))

	prometheus.AddLoyaltyPoints(earned)
	prefixes := []string{ordersCachePrefix, customersCachePrefix}
	if restocked {
		prefixes = append(prefixes, productsCachePrefix)
		s.refreshStockGauges(ctx, order.Items)
	}
	s.cache.Invalidate(ctx, prefixes...)
	s.notifier.OrderStatusChanged(ctx, order, previous)
	return order, nil
}

// GetOrder returns an order with items and customer
func (s *OrderService) GetOrder(ctx context.Context, id uint) (*model.Order, error) {
	order, err := cache.Fetch(ctx, s.cache, orderCacheKey(id), func(ctx context.Context) (*model.Order, error) {
		return s.store.Orders.Get(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	return order, err
}

// ListOrders returns one page of orders matching filter, newest first
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter, page, pageSize int) (*OrderPage, error) {
	if filter.Status != "" {
		if _, ok := model.ParseOrderStatus(string(filter.Status)); !ok {
			return nil, validationError("unknown status %q", filter.Status)
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, validationError("date range ends before it starts")
	}
	page, pageSize = normalizePage(page, pageSize)

	orders, total, err := s.store.Orders.List(ctx, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &OrderPage{Orders: orders, Total: total, Page: page, PageSize: pageSize}, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func (s *OrderService) refreshStockGauges(ctx context.Context, items []model.OrderItem) {
	ids := make([]uint, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.VariantID)
	}
	variants, err := s.store.Products.VariantsByIDs(ctx, ids)
	if err != nil {
		s.log.Warn("Stock gauge refresh failed", zap.Error(err))
		return
	}
	for _, v := range variants {
		prometheus.UpdateVariantStock(v.ID, v.SKU, v.Stock)
	}
}
