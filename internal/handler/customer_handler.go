package handler

import (
	"net/http"

	"storefront-service/internal/middleware"
	"storefront-service/internal/rbac"
	"storefront-service/internal/service"
	"storefront-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// CustomerHandler serves the admin customer screens
type CustomerHandler struct {
	customers *service.CustomerService
}

// NewCustomerHandler creates a CustomerHandler
func NewCustomerHandler(customers *service.CustomerService) *CustomerHandler {
	return &CustomerHandler{customers: customers}
}

// ListCustomers lists customers matching the search query
func (h *CustomerHandler) ListCustomers(c echo.Context) error {
	var page, pageSize int
	if err := bindPaging(c, &page, &pageSize); err != nil {
		return err
	}
	result, err := h.customers.ListCustomers(c.Request().Context(), c.QueryParam("search"), page, pageSize)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, result)
}

// GetCustomer returns a customer with loyalty standing
func (h *CustomerHandler) GetCustomer(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	customer, err := h.customers.GetCustomer(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, customer)
}

// ChangeRole assigns a role on behalf of the signed in super admin
func (h *CustomerHandler) ChangeRole(c echo.Context) error {
	session, ok := middleware.SessionFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req ChangeRoleRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	customer, err := h.customers.ChangeRole(c.Request().Context(), session.CustomerID, session.Role, id, rbac.Role(req.Role))
	if err != nil {
		return err
	}
	logger.FromEcho(c).Info("Role changed",
		zap.Uint("actor_id", session.CustomerID),
		zap.Uint("customer_id", id),
		zap.String("role", req.Role))
	return respond(c, http.StatusOK, customer)
}
