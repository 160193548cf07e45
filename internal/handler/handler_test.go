package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"storefront-service/internal/middleware"
	"storefront-service/internal/model"
	"storefront-service/internal/payment"
	"storefront-service/internal/rbac"
	"storefront-service/internal/repository"
	"storefront-service/internal/repository/repositorytest"
	"storefront-service/internal/service"
	"storefront-service/pkg/cache"
	"storefront-service/pkg/jwtutil"
	"storefront-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct {
	paid map[string]uint
}

func (p *stubProvider) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	return &payment.Session{ID: "cs_" + req.OrderNumber, URL: "https://pay.example.com/" + req.OrderNumber}, nil
}

func (p *stubProvider) GetSession(_ context.Context, id string) (*payment.SessionStatus, error) {
	return &payment.SessionStatus{ID: id, OrderID: p.paid[id], Paid: true}, nil
}

func (p *stubProvider) ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	if signature != "t=1,v1=good" {
		return nil, payment.ErrInvalidSignature
	}
	var body struct {
		OrderID uint `json:"orderId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, payment.ErrMalformedEvent
	}
	return &payment.WebhookEvent{ID: "evt_1", Type: "checkout.session.completed", Kind: payment.EventPaymentSucceeded, OrderID: body.OrderID}, nil
}

type testServer struct {
	e        *echo.Echo
	store    *repository.Store
	catalog  *service.CatalogService
	tokens   *jwtutil.JWTUtil
	provider *stubProvider
}

func newTestServer(t *testing.T, withPayments bool) *testServer {
	t.Helper()
	logger.SetLogger(zap.NewNop())

	store := repository.NewStore(repositorytest.NewDB(t))
	c := cache.New(cache.NewMemoryBackend(0), cache.Options{TTL: time.Minute})
	tokens := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "handler-test", ExpirationHours: 168})

	catalog := service.NewCatalogService(store, c, nil)
	customers := service.NewCustomerService(store, c, nil)
	orders := service.NewOrderService(store, service.OrderServiceConfig{Cache: c})

	provider := &stubProvider{paid: map[string]uint{}}
	var checkout *service.CheckoutService
	if withPayments {
		checkout = service.NewCheckoutService(store, orders, provider, nil)
	}

	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Validator = NewValidator()
	e.Use(logger.Middleware())

	auth := middleware.NewAuth(tokens, "session_token").WithRoleSource(customers)
	RegisterRoutes(e, Handlers{
		Health:    NewHealthHandler("storefront", store),
		Auth:      NewAuthHandler(customers, tokens, auth.CookieName(), false),
		Products:  NewProductHandler(catalog),
		Orders:    NewOrderHandler(orders, customers),
		Checkout:  NewCheckoutHandler(checkout, orders),
		Customers: NewCustomerHandler(customers),
	}, auth, middleware.RateLimit(100, 100))

	return &testServer{e: e, store: store, catalog: catalog, tokens: tokens, provider: provider}
}

type result struct {
	Code    int
	Cookies []*http.Cookie
	Body    struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, token string) result {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "session_token", Value: token})
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var res result
	res.Code = rec.Code
	res.Cookies = rec.Result().Cookies()
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res.Body), rec.Body.String())
	}
	return res
}

func (r result) decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body.Data, v))
}

func (s *testServer) customer(t *testing.T, email string, role rbac.Role) (*model.Customer, string) {
	t.Helper()
	hash := "$2a$04$not-a-real-hash-only-marks-a-registered-account"
	c := &model.Customer{Email: email, Name: "Member", Role: role, PasswordHash: &hash}
	require.NoError(t, s.store.Customers.Create(context.Background(), c))
	token, _, err := s.tokens.GenerateToken(c.ID, c.Email, role.String())
	require.NoError(t, err)
	return c, token
}

func (s *testServer) product(t *testing.T, sku string, stock int) *model.Product {
	t.Helper()
	p, err := s.catalog.CreateProduct(context.Background(), service.ProductInput{
		Name:      "Cookie Box " + sku,
		BasePrice: decimal.RequireFromString("8.00"),
		Variants:  []service.VariantInput{{Flavor: model.FlavorChocolate, Color: "#5c3317", Stock: stock, SKU: sku}},
		Tiers: []service.TierInput{
			{Quantity: 1, Price: decimal.RequireFromString("8.00")},
			{Quantity: 3, Price: decimal.RequireFromString("15.00")},
		},
	})
	require.NoError(t, err)
	return p
}

func orderBody(p *model.Product, qty int, email string) map[string]interface{} {
	body := map[string]interface{}{
		"items": []map[string]interface{}{
			{"productId": p.ID, "variantId": p.Variants[0].ID, "quantity": qty},
		},
		"shippingAddress": map[string]interface{}{
			"name": "Jane Roe", "line1": "1 Candy Lane", "city": "Sugartown", "postalCode": "12345", "country": "US",
		},
	}
	if email != "" {
		body["email"] = email
	}
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	res := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.True(t, res.Body.Success)
}

func TestProductEndpoints(t *testing.T) {
	s := newTestServer(t, false)
	p := s.product(t, "BOX-1", 10)
	hidden := s.product(t, "BOX-2", 10)
	require.NoError(t, s.catalog.DeactivateProduct(context.Background(), hidden.ID))

	res := s.do(t, http.MethodGet, "/products", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	var list struct {
		Products []struct {
			ID         uint   `json:"id"`
			UnitPrice  string `json:"unitPrice"`
			PriceTiers []struct {
				Quantity int    `json:"quantity"`
				Savings  string `json:"savings"`
			} `json:"priceTiers"`
		} `json:"products"`
		Total int64 `json:"total"`
	}
	res.decode(t, &list)
	require.EqualValues(t, 1, list.Total)
	assert.Equal(t, p.ID, list.Products[0].ID)
	assert.Equal(t, "8", list.Products[0].UnitPrice)
	require.Len(t, list.Products[0].PriceTiers, 2)
	assert.Equal(t, "9", list.Products[0].PriceTiers[1].Savings)

	res = s.do(t, http.MethodGet, "/products/"+itoa(hidden.ID), nil, "")
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.False(t, res.Body.Success)
	assert.Contains(t, res.Body.Error, "product not found")

	res = s.do(t, http.MethodGet, "/products/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(t, http.MethodGet, "/products?flavor=bacon", nil, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, false)

	res := s.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "new@example.com", "password": "short"}, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.Error, "password")

	res = s.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "new@example.com", "password": "sweet-tooth-42", "name": "New"}, "")
	require.Equal(t, http.StatusCreated, res.Code)
	require.NotEmpty(t, res.Cookies)
	cookie := res.Cookies[0]
	assert.Equal(t, "session_token", cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	res = s.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "new@example.com", "password": "sweet-tooth-42"}, "")
	assert.Equal(t, http.StatusConflict, res.Code)

	res = s.do(t, http.MethodGet, "/auth/me", nil, cookie.Value)
	require.Equal(t, http.StatusOK, res.Code)
	var me model.Customer
	res.decode(t, &me)
	assert.Equal(t, "new@example.com", me.Email)
	require.NotNil(t, me.Loyalty)

	res = s.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "new@example.com", "password": "wrong-password"}, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = s.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "new@example.com", "password": "sweet-tooth-42"}, "")
	assert.Equal(t, http.StatusOK, res.Code)

	res = s.do(t, http.MethodPost, "/auth/logout", nil, cookie.Value)
	require.Equal(t, http.StatusOK, res.Code)
	require.NotEmpty(t, res.Cookies)
	assert.Equal(t, "", res.Cookies[0].Value)

	res = s.do(t, http.MethodGet, "/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestGuestOrderFlow(t *testing.T) {
	s := newTestServer(t, false)
	p := s.product(t, "GUEST-1", 5)

	res := s.do(t, http.MethodPost, "/orders", orderBody(p, 2, ""), "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.Error, "email")

	res = s.do(t, http.MethodPost, "/orders", orderBody(p, 2, "guest@example.com"), "")
	require.Equal(t, http.StatusCreated, res.Code, res.Body.Error)
	var order model.Order
	res.decode(t, &order)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("16")))

	guestPath := "/orders/" + itoa(order.ID) + "?orderNumber=" + order.OrderNumber
	res = s.do(t, http.MethodGet, guestPath, nil, "")
	assert.Equal(t, http.StatusOK, res.Code)

	for _, path := range []string{
		"/orders/" + itoa(order.ID),
		"/orders/" + itoa(order.ID) + "?orderNumber=ORD-GUESSED",
	} {
		res = s.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusNotFound, res.Code, path)
	}

	_, stranger := s.customer(t, "stranger@example.com", rbac.RoleUser)
	res = s.do(t, http.MethodGet, guestPath, nil, stranger)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = s.do(t, http.MethodPost, "/orders", orderBody(p, 4, "guest@example.com"), "")
	assert.Equal(t, http.StatusConflict, res.Code)

	body := orderBody(p, 1, "")
	body["customerId"] = order.CustomerID
	res = s.do(t, http.MethodPost, "/orders", body, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestMemberOrders(t *testing.T) {
	s := newTestServer(t, false)
	p := s.product(t, "MEMBER-1", 10)
	member, token := s.customer(t, "member@example.com", rbac.RoleUser)
	other, _ := s.customer(t, "other@example.com", rbac.RoleUser)

	body := orderBody(p, 1, "")
	body["customerId"] = other.ID
	res := s.do(t, http.MethodPost, "/orders", body, token)
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = s.do(t, http.MethodPost, "/orders", orderBody(p, 3, ""), token)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.Error)
	var order model.Order
	res.decode(t, &order)
	assert.Equal(t, member.ID, order.CustomerID)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("15")))

	res = s.do(t, http.MethodGet, "/orders/"+itoa(order.ID), nil, token)
	require.Equal(t, http.StatusOK, res.Code)

	// the owner's read above cached the order, anonymous reads must still fail
	for i := 0; i < 2; i++ {
		res = s.do(t, http.MethodGet, "/orders/"+itoa(order.ID)+"?orderNumber="+order.OrderNumber, nil, "")
		assert.Equal(t, http.StatusNotFound, res.Code, "anonymous read %d", i+1)
	}

	res = s.do(t, http.MethodPost, "/orders", orderBody(p, 1, "MEMBER@example.com"), "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Contains(t, res.Body.Error, "sign in")

	res = s.do(t, http.MethodGet, "/me/orders", nil, token)
	require.Equal(t, http.StatusOK, res.Code)
	var page service.OrderPage
	res.decode(t, &page)
	assert.EqualValues(t, 1, page.Total)

	res = s.do(t, http.MethodPatch, "/orders/"+itoa(order.ID), map[string]string{"status": "paid"}, token)
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t, false)
	p := s.product(t, "ADMIN-1", 10)
	_, userToken := s.customer(t, "user@example.com", rbac.RoleUser)
	_, adminToken := s.customer(t, "admin@example.com", rbac.RoleAdmin)
	_, rootToken := s.customer(t, "root@example.com", rbac.RoleSuperAdmin)
	shopper, _ := s.customer(t, "shopper@example.com", rbac.RoleUser)

	res := s.do(t, http.MethodGet, "/admin/orders", nil, userToken)
	assert.Equal(t, http.StatusForbidden, res.Code)
	res = s.do(t, http.MethodGet, "/admin/orders", nil, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = s.do(t, http.MethodPost, "/orders", orderBody(p, 1, "buyer@example.com"), "")
	require.Equal(t, http.StatusCreated, res.Code)
	var order model.Order
	res.decode(t, &order)

	res = s.do(t, http.MethodPatch, "/admin/orders/"+itoa(order.ID), map[string]string{"status": "shipped"}, adminToken)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.Error, "invalid status transition")

	res = s.do(t, http.MethodPatch, "/admin/orders/"+itoa(order.ID), map[string]string{"status": "refunded"}, adminToken)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(t, http.MethodPatch, "/admin/orders/"+itoa(order.ID), map[string]string{"status": "paid"}, adminToken)
	require.Equal(t, http.StatusOK, res.Code)
	res.decode(t, &order)
	assert.Equal(t, model.OrderStatusPaid, order.Status)

	res = s.do(t, http.MethodGet, "/admin/orders?status=paid&search=BUYER", nil, adminToken)
	require.Equal(t, http.StatusOK, res.Code)
	var page service.OrderPage
	res.decode(t, &page)
	assert.EqualValues(t, 1, page.Total)

	res = s.do(t, http.MethodGet, "/admin/orders?from=2020-13-01", nil, adminToken)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(t, http.MethodDelete, "/admin/products/"+itoa(p.ID)+"/variants/"+itoa(p.Variants[0].ID), nil, adminToken)
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.False(t, res.Body.Success)

	res = s.do(t, http.MethodDelete, "/admin/products/"+itoa(p.ID), nil, adminToken)
	require.Equal(t, http.StatusOK, res.Code)
	res = s.do(t, http.MethodGet, "/admin/products?active=false", nil, adminToken)
	require.Equal(t, http.StatusOK, res.Code)
	var products struct {
		Total int64 `json:"total"`
	}
	res.decode(t, &products)
	assert.EqualValues(t, 1, products.Total)

	res = s.do(t, http.MethodPost, "/admin/products", map[string]interface{}{
		"name":      "Fudge",
		"basePrice": "3.50",
		"variants":  []map[string]interface{}{{"flavor": "caramel", "color": "not-a-color", "sku": "FUDGE"}},
	}, adminToken)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.Error, "variants[0].color")

	res = s.do(t, http.MethodPost, "/admin/products", map[string]interface{}{
		"name":      "Fudge",
		"basePrice": "3.50",
		"variants":  []map[string]interface{}{{"flavor": "caramel", "color": "#c68e17", "stock": 4, "sku": "ADMIN-1"}},
	}, adminToken)
	assert.Equal(t, http.StatusConflict, res.Code)

	res = s.do(t, http.MethodPost, "/admin/products/"+itoa(p.ID)+"/tiers", map[string]interface{}{"quantity": 3, "price": "14.00"}, adminToken)
	assert.Equal(t, http.StatusConflict, res.Code)
	res = s.do(t, http.MethodDelete, "/admin/products/"+itoa(p.ID)+"/tiers/999", nil, adminToken)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = s.do(t, http.MethodPost, "/admin/products", "{not json", adminToken)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.False(t, res.Body.Success)

	res = s.do(t, http.MethodPatch, "/admin/customers/"+itoa(shopper.ID)+"/role", map[string]string{"role": "admin"}, adminToken)
	assert.Equal(t, http.StatusForbidden, res.Code)
	res = s.do(t, http.MethodPatch, "/admin/customers/"+itoa(shopper.ID)+"/role", map[string]string{"role": "admin"}, rootToken)
	require.Equal(t, http.StatusOK, res.Code)
	var promoted model.Customer
	res.decode(t, &promoted)
	assert.Equal(t, rbac.RoleAdmin, promoted.Role)

	res = s.do(t, http.MethodGet, "/admin/customers?search=shopper", nil, adminToken)
	require.Equal(t, http.StatusOK, res.Code)
	var customers service.CustomerPage
	res.decode(t, &customers)
	assert.EqualValues(t, 1, customers.Total)
}

func TestRoleChangesApplyToIssuedTokens(t *testing.T) {
	s := newTestServer(t, false)
	admin, adminToken := s.customer(t, "admin@example.com", rbac.RoleAdmin)
	shopper, shopperToken := s.customer(t, "shopper@example.com", rbac.RoleUser)
	_, rootToken := s.customer(t, "root@example.com", rbac.RoleSuperAdmin)

	res := s.do(t, http.MethodGet, "/admin/orders", nil, adminToken)
	require.Equal(t, http.StatusOK, res.Code)

	res = s.do(t, http.MethodPatch, "/admin/customers/"+itoa(admin.ID)+"/role", map[string]string{"role": "user"}, rootToken)
	require.Equal(t, http.StatusOK, res.Code)
	res = s.do(t, http.MethodGet, "/admin/orders", nil, adminToken)
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = s.do(t, http.MethodPatch, "/admin/customers/"+itoa(shopper.ID)+"/role", map[string]string{"role": "admin"}, rootToken)
	require.Equal(t, http.StatusOK, res.Code)
	res = s.do(t, http.MethodGet, "/admin/orders", nil, shopperToken)
	assert.Equal(t, http.StatusOK, res.Code)

	ghostToken, _, err := s.tokens.GenerateToken(9999, "ghost@example.com", rbac.RoleSuperAdmin.String())
	require.NoError(t, err)
	res = s.do(t, http.MethodGet, "/admin/orders", nil, ghostToken)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestCheckoutEndpoints(t *testing.T) {
	s := newTestServer(t, true)
	p := s.product(t, "PAY-1", 10)

	res := s.do(t, http.MethodPost, "/orders", orderBody(p, 1, "payer@example.com"), "")
	require.Equal(t, http.StatusCreated, res.Code)
	var order model.Order
	res.decode(t, &order)

	res = s.do(t, http.MethodPost, "/checkout/session", map[string]uint{"orderId": order.ID}, "")
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = s.do(t, http.MethodPost, "/checkout/session", map[string]interface{}{"orderId": order.ID, "orderNumber": order.OrderNumber}, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.Error)
	var session payment.Session
	res.decode(t, &session)
	assert.True(t, strings.HasPrefix(session.ID, "cs_ORD-"))

	res = s.do(t, http.MethodPost, "/webhooks/stripe", `{"orderId": 1}`, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"orderId": `+itoa(order.ID)+`}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.provider.paid[session.ID] = order.ID
	res = s.do(t, http.MethodPost, "/checkout/verify-payment", map[string]interface{}{"sessionId": session.ID, "orderId": order.ID}, "")
	assert.Equal(t, http.StatusNotFound, res.Code)
	res = s.do(t, http.MethodPost, "/checkout/verify-payment", map[string]interface{}{
		"sessionId": session.ID, "orderId": order.ID, "orderNumber": order.OrderNumber,
	}, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.Error)
	var verified service.VerifyResult
	res.decode(t, &verified)
	assert.True(t, verified.Paid)
	assert.Equal(t, model.OrderStatusPaid, verified.Order.Status)

	res = s.do(t, http.MethodPost, "/checkout/session", map[string]interface{}{"orderId": order.ID, "orderNumber": order.OrderNumber}, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestCheckoutUnavailable(t *testing.T) {
	s := newTestServer(t, false)
	res := s.do(t, http.MethodPost, "/checkout/session", map[string]uint{"orderId": 1}, "")
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.False(t, res.Body.Success)
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	s := newTestServer(t, false)
	res := s.do(t, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.False(t, res.Body.Success)
	assert.NotEmpty(t, res.Body.Error)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
