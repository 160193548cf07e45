package handler

import (
	"fmt"
	"io"
	"net/http"

	"storefront-service/internal/middleware"
	"storefront-service/internal/service"
	"storefront-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// CheckoutHandler bridges the storefront to hosted payment
type CheckoutHandler struct {
	checkout *service.CheckoutService
	orders   *service.OrderService
}

// NewCheckoutHandler creates a CheckoutHandler. A nil checkout service
// answers every request with 503.
func NewCheckoutHandler(checkout *service.CheckoutService, orders *service.OrderService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, orders: orders}
}

func (h *CheckoutHandler) available() error {
	if h.checkout == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Payments are not configured")
	}
	return nil
}

func (h *CheckoutHandler) authorize(c echo.Context, orderID uint, orderNumber string) error {
	order, err := h.orders.GetOrder(c.Request().Context(), orderID)
	if err != nil {
		return err
	}
	session, _ := middleware.SessionFrom(c)
	if !canAccess(session, order, orderNumber) {
		return fmt.Errorf("%w: id %d", service.ErrOrderNotFound, orderID)
	}
	return nil
}

// CreateSession opens a hosted checkout session for a pending order
func (h *CheckoutHandler) CreateSession(c echo.Context) error {
	if err := h.available(); err != nil {
		return err
	}
	var req CreateSessionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.authorize(c, req.OrderID, req.OrderNumber); err != nil {
		return err
	}

	session, err := h.checkout.CreateSession(c.Request().Context(), req.OrderID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, session)
}

// VerifyPayment confirms a session after the shopper returns from checkout
func (h *CheckoutHandler) VerifyPayment(c echo.Context) error {
	if err := h.available(); err != nil {
		return err
	}
	var req VerifyPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.authorize(c, req.OrderID, req.OrderNumber); err != nil {
		return err
	}

	result, err := h.checkout.VerifyPayment(c.Request().Context(), req.SessionID, req.OrderID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, result)
}

// StripeWebhook applies a signed provider event. The raw body is needed to
// check the signature.
func (h *CheckoutHandler) StripeWebhook(c echo.Context) error {
	if err := h.available(); err != nil {
		return err
	}
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxWebhookBody)
	payload, err := io.ReadAll(body)
	if err != nil {
		logger.FromEcho(c).Warn("Unreadable webhook body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "Unreadable request body")
	}

	if err := h.checkout.HandleWebhook(c.Request().Context(), payload, c.Request().Header.Get("Stripe-Signature")); err != nil {
		return err
	}
	return respond(c, http.StatusOK, echo.Map{"received": true})
}
