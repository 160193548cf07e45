package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront-service/internal/loyalty"
	"storefront-service/internal/model"
	"storefront-service/internal/rbac"
	"storefront-service/internal/repository"
	"storefront-service/internal/repository/repositorytest"
	"storefront-service/pkg/cache"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type notification struct {
	kind     string
	orderID  uint
	status   model.OrderStatus
	previous model.OrderStatus
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (r *recordingNotifier) OrderCreated(_ context.Context, order *model.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, notification{kind: "created", orderID: order.ID, status: order.Status})
}

func (r *recordingNotifier) OrderStatusChanged(_ context.Context, order *model.Order, previous model.OrderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, notification{kind: "status", orderID: order.ID, status: order.Status, previous: previous})
}

func (r *recordingNotifier) all() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.events...)
}

type fixture struct {
	store     *repository.Store
	cache     *cache.Cache
	notifier  *recordingNotifier
	orders    *OrderService
	catalog   *CatalogService
	customers *CustomerService
}

type fixtureOption func(*OrderServiceConfig)

func withRestock() fixtureOption {
	return func(c *OrderServiceConfig) { c.RestockOnCancel = true }
}

func withPolicy(p loyalty.Policy) fixtureOption {
	return func(c *OrderServiceConfig) { c.Policy = p }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	return newFixtureOn(t, repositorytest.NewDB(t), opts...)
}

func newFixtureOn(t *testing.T, db *gorm.DB, opts ...fixtureOption) *fixture {
	t.Helper()
	store := repository.NewStore(db)
	c := cache.New(cache.NewMemoryBackend(0), cache.Options{TTL: time.Minute})
	notifier := &recordingNotifier{}

	cfg := OrderServiceConfig{
		Policy:   loyalty.DefaultPolicy(),
		Notifier: notifier,
		Cache:    c,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	customers := NewCustomerService(store, c, nil)
	customers.bcryptCost = bcrypt.MinCost
	return &fixture{
		store:     store,
		cache:     c,
		notifier:  notifier,
		orders:    NewOrderService(store, cfg),
		catalog:   NewCatalogService(store, c, nil),
		customers: customers,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seedCandy creates a product priced 8.00 with tiers (1,8.00) (3,15.00)
// (6,25.00) and one variant holding stock units.
func (f *fixture) seedCandy(t *testing.T, sku string, stock int) *model.Product {
	t.Helper()
	product, err := f.catalog.CreateProduct(context.Background(), ProductInput{
		Name:      "Gummy Bears " + sku,
		BasePrice: dec("8.00"),
		Variants: []VariantInput{
			{Flavor: model.FlavorStrawberry, Color: "#ff3366", Stock: stock, SKU: sku},
		},
		Tiers: []TierInput{
			{Quantity: 1, Price: dec("8.00")},
			{Quantity: 3, Price: dec("15.00")},
			{Quantity: 6, Price: dec("25.00")},
		},
	})
	require.NoError(t, err)
	return product
}

func (f *fixture) seedCustomer(t *testing.T, email string) *model.Customer {
	t.Helper()
	customer := &model.Customer{Email: email, Name: "Test Customer", Role: rbac.RoleUser}
	require.NoError(t, f.store.Customers.Create(context.Background(), customer))
	return customer
}

func address() model.ShippingAddress {
	return model.ShippingAddress{
		Name:       "Jane Roe",
		Line1:      "1 Candy Lane",
		City:       "Sugartown",
		PostalCode: "12345",
		Country:    "US",
	}
}

func (f *fixture) placeOrder(t *testing.T, customerID uint, product *model.Product, quantity int) *model.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID:      customerID,
		Items:           []OrderItemInput{{ProductID: product.ID, VariantID: product.Variants[0].ID, Quantity: quantity}},
		ShippingAddress: address(),
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) stockOf(t *testing.T, product *model.Product) int {
	t.Helper()
	variant, err := f.store.Products.GetVariant(context.Background(), product.ID, product.Variants[0].ID)
	require.NoError(t, err)
	return variant.Stock
}

func (f *fixture) pointsOf(t *testing.T, customerID uint) (int, loyalty.Level) {
	t.Helper()
	program, err := f.store.Customers.LoyaltyFor(context.Background(), customerID)
	require.NoError(t, err)
	return program.Points, program.Level
}

// forceStatus puts an order into status without going through the lifecycle
func (f *fixture) forceStatus(t *testing.T, orderID uint, status model.OrderStatus) {
	t.Helper()
	require.NoError(t, f.store.Orders.UpdateStatus(context.Background(), &model.Order{ID: orderID, Status: status}))
	f.cache.Invalidate(context.Background(), ordersCachePrefix)
}
