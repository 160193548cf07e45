package handler

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"storefront-service/internal/middleware"
	"storefront-service/internal/model"
	"storefront-service/internal/rbac"
	"storefront-service/internal/repository"
	"storefront-service/internal/service"
	"storefront-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// OrderHandler places orders and serves order history
type OrderHandler struct {
	orders    *service.OrderService
	customers *service.CustomerService
}

// NewOrderHandler creates an OrderHandler
func NewOrderHandler(orders *service.OrderService, customers *service.CustomerService) *OrderHandler {
	return &OrderHandler{orders: orders, customers: customers}
}

func isAdmin(session *middleware.Session) bool {
	return session != nil && session.Role.AtLeast(rbac.RoleAdmin)
}

// canAccess reports whether the caller may see or pay for order. Anonymous
// callers reach only orders of guest customers, and only when they also
// present the order number handed out at checkout.
func canAccess(session *middleware.Session, order *model.Order, orderNumber string) bool {
	if isAdmin(session) {
		return true
	}
	if session != nil {
		return session.CustomerID == order.CustomerID
	}
	if order.Customer == nil || !order.Customer.IsGuest() || orderNumber == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(orderNumber), []byte(order.OrderNumber)) == 1
}

// resolveCustomer decides who an order is placed for. Admins may order for
// anyone, signed in customers only for themselves, and anonymous callers
// check out as a guest identified by email.
func (h *OrderHandler) resolveCustomer(c echo.Context, req CreateOrderRequest) (uint, error) {
	session, signedIn := middleware.SessionFrom(c)
	switch {
	case signedIn && req.CustomerID != nil:
		if *req.CustomerID != session.CustomerID && !isAdmin(session) {
			return 0, fmt.Errorf("%w: cannot place orders for another customer", service.ErrUnauthorized)
		}
		return *req.CustomerID, nil
	case signedIn:
		return session.CustomerID, nil
	case req.CustomerID != nil:
		return 0, fmt.Errorf("%w: sign in to order for an existing account", service.ErrUnauthenticated)
	case req.Email != "":
		customer, err := h.customers.FindOrCreateGuest(c.Request().Context(), req.Email, req.Name)
		if err != nil {
			return 0, err
		}
		return customer.ID, nil
	default:
		return 0, fmt.Errorf("%w: email is required for guest checkout", service.ErrValidation)
	}
}

// CreateOrder handles placing an order
func (h *OrderHandler) CreateOrder(c echo.Context) error {
	log := logger.FromEcho(c)

	var req CreateOrderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	customerID, err := h.resolveCustomer(c, req)
	if err != nil {
		return err
	}

	order, err := h.orders.CreateOrder(c.Request().Context(), service.CreateOrderInput{
		CustomerID:      customerID,
		Items:           req.items(),
		ShippingAddress: req.ShippingAddress.model(),
	})
	if err != nil {
		log.Warn("Failed to create order", zap.Uint("customer_id", customerID), zap.Error(err))
		return err
	}

	log.Info("Order placed",
		zap.Uint("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))
	return respond(c, http.StatusCreated, order)
}

// GetOrder returns an order to its owner or an admin. Guests identify their
// order with the orderNumber query parameter.
func (h *OrderHandler) GetOrder(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	order, err := h.orders.GetOrder(c.Request().Context(), id)
	if err != nil {
		return err
	}
	session, _ := middleware.SessionFrom(c)
	if !canAccess(session, order, c.QueryParam("orderNumber")) {
		// indistinguishable from a missing order
		return fmt.Errorf("%w: id %d", service.ErrOrderNotFound, id)
	}
	return respond(c, http.StatusOK, order)
}

// UpdateOrderStatus handles admin status changes
func (h *OrderHandler) UpdateOrderStatus(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req UpdateOrderStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	order, err := h.orders.TransitionStatus(c.Request().Context(), id, model.OrderStatus(req.Status))
	if err != nil {
		if errors.Is(err, service.ErrInvalidTransition) {
			logger.FromEcho(c).Info("Rejected status change",
				zap.Uint("order_id", id),
				zap.String("requested", req.Status))
		}
		return err
	}
	return respond(c, http.StatusOK, order)
}

// MyOrders lists the signed in customer's orders
func (h *OrderHandler) MyOrders(c echo.Context) error {
	session, ok := middleware.SessionFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	}
	var page, pageSize int
	if err := bindPaging(c, &page, &pageSize); err != nil {
		return err
	}
	result, err := h.orders.ListOrders(c.Request().Context(), repository.OrderFilter{CustomerID: session.CustomerID}, page, pageSize)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, result)
}

// AdminListOrders lists orders with status, date range and text filters
func (h *OrderHandler) AdminListOrders(c echo.Context) error {
	filter := repository.OrderFilter{
		Status: model.OrderStatus(c.QueryParam("status")),
		Search: c.QueryParam("search"),
	}
	var err error
	if filter.From, err = dateQuery(c, "from", false); err != nil {
		return err
	}
	if filter.To, err = dateQuery(c, "to", true); err != nil {
		return err
	}
	if raw := c.QueryParam("customerId"); raw != "" {
		if err := echo.QueryParamsBinder(c).Uint("customerId", &filter.CustomerID).BindError(); err != nil {
			return fmt.Errorf("%w: customerId must be a positive integer", service.ErrValidation)
		}
	}

	var page, pageSize int
	if err := bindPaging(c, &page, &pageSize); err != nil {
		return err
	}
	result, err := h.orders.ListOrders(c.Request().Context(), filter, page, pageSize)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, result)
}
