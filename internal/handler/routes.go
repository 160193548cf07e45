package handler

import (
	"storefront-service/internal/middleware"
	"storefront-service/internal/rbac"
	"storefront-service/prometheus"

	"github.com/labstack/echo/v4"
)

// Handlers groups everything the router serves
type Handlers struct {
	Health    *HealthHandler
	Auth      *AuthHandler
	Products  *ProductHandler
	Orders    *OrderHandler
	Checkout  *CheckoutHandler
	Customers *CustomerHandler
}

// RegisterRoutes mounts the API on e. authLimit guards the credential
// endpoints.
func RegisterRoutes(e *echo.Echo, h Handlers, auth *middleware.Auth, authLimit echo.MiddlewareFunc) {
	// Public routes - no authentication required
	e.GET("/health", h.Health.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(prometheus.Handler()))

	e.GET("/products", h.Products.ListProducts)
	e.GET("/products/:id", h.Products.GetProduct)

	authGroup := e.Group("/auth")
	authGroup.POST("/register", h.Auth.Register, authLimit)
	authGroup.POST("/login", h.Auth.Login, authLimit)
	authGroup.POST("/logout", h.Auth.Logout)
	authGroup.GET("/me", h.Auth.Me, auth.Required())

	// Guest checkout works without a session
	e.POST("/orders", h.Orders.CreateOrder, auth.Optional())
	e.GET("/orders/:id", h.Orders.GetOrder, auth.Optional())
	e.PATCH("/orders/:id", h.Orders.UpdateOrderStatus, auth.Required(), middleware.RequireRole(rbac.RoleAdmin))
	e.GET("/me/orders", h.Orders.MyOrders, auth.Required())

	e.POST("/checkout/session", h.Checkout.CreateSession, auth.Optional())
	e.POST("/checkout/verify-payment", h.Checkout.VerifyPayment, auth.Optional())
	e.POST("/webhooks/stripe", h.Checkout.StripeWebhook)

	admin := e.Group("/admin", auth.Required(), middleware.RequireRole(rbac.RoleAdmin))
	admin.GET("/orders", h.Orders.AdminListOrders)
	admin.GET("/orders/:id", h.Orders.GetOrder)
	admin.PATCH("/orders/:id", h.Orders.UpdateOrderStatus)

	admin.GET("/products", h.Products.AdminListProducts)
	admin.GET("/products/:id", h.Products.AdminGetProduct)
	admin.POST("/products", h.Products.CreateProduct)
	admin.PUT("/products/:id", h.Products.UpdateProduct)
	admin.DELETE("/products/:id", h.Products.DeactivateProduct)
	admin.POST("/products/:id/variants", h.Products.CreateVariant)
	admin.PUT("/products/:id/variants/:variantId", h.Products.UpdateVariant)
	admin.DELETE("/products/:id/variants/:variantId", h.Products.DeleteVariant)
	admin.POST("/products/:id/tiers", h.Products.CreateTier)
	admin.PUT("/products/:id/tiers/:tierId", h.Products.UpdateTier)
	admin.DELETE("/products/:id/tiers/:tierId", h.Products.DeleteTier)

	admin.GET("/customers", h.Customers.ListCustomers)
	admin.GET("/customers/:id", h.Customers.GetCustomer)
	admin.PATCH("/customers/:id/role", h.Customers.ChangeRole, middleware.RequireRole(rbac.RoleSuperAdmin))
}
