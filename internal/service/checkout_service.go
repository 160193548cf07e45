package service

import (
	"context"
	"errors"
	"fmt"

	"storefront-service/internal/model"
	"storefront-service/internal/payment"
	"storefront-service/internal/repository"
	"storefront-service/prometheus"

	"go.uber.org/zap"
)

// VerifyResult reports the payment state of an order after verification
type VerifyResult struct {
	Paid  bool         `json:"paid"`
	Order *model.Order `json:"order"`
}

// CheckoutService connects orders with the hosted payment provider. The
// provider webhook is authoritative; VerifyPayment only lets a returning
// browser see the result sooner.
type CheckoutService struct {
	store    *repository.Store
	orders   *OrderService
	provider payment.Provider
	log      *zap.Logger
}

// NewCheckoutService creates a CheckoutService
func NewCheckoutService(store *repository.Store, orders *OrderService, provider payment.Provider, log *zap.Logger) *CheckoutService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutService{store: store, orders: orders, provider: provider, log: log}
}

// CreateSession opens a hosted checkout session for a pending order
func (s *CheckoutService) CreateSession(ctx context.Context, orderID uint) (session *payment.Session, err error) {
	defer func() { prometheus.RecordPaymentSession("create", outcome(err)) }()

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusPending {
		return nil, validationError("order %s is %s, only pending orders can be paid", order.OrderNumber, order.Status)
	}

	req := payment.SessionRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
	}
	if order.Customer != nil {
		req.CustomerEmail = order.Customer.Email
	}
	for _, item := range order.Items {
		// one line per order line at its captured price, tier prices are not unit multiples
		req.Items = append(req.Items, payment.LineItem{
			Name:     lineItemName(item),
			SKU:      variantSKU(item),
			Quantity: 1,
			Amount:   payment.MinorUnits(item.Price),
		})
	}

	session, err = s.provider.CreateSession(ctx, req)
	if err != nil {
		s.log.Error("Payment session creation failed", zap.Uint("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentUpstream, err)
	}
	if err := s.store.Orders.SetPaymentSession(ctx, order.ID, session.ID); err != nil {
		return nil, err
	}
	s.orders.cache.Invalidate(ctx, orderCacheKey(order.ID))

	s.log.Info("Payment session created",
		zap.Uint("order_id", orderID),
		zap.String("session_id", session.ID))
	return session, nil
}

func lineItemName(item model.OrderItem) string {
	name := fmt.Sprintf("Product %d", item.ProductID)
	if item.Product != nil {
		name = item.Product.Name
	}
	if item.Variant != nil {
		name += " (" + string(item.Variant.Flavor) + ")"
	}
	return fmt.Sprintf("%s x%d", name, item.Quantity)
}

func variantSKU(item model.OrderItem) string {
	if item.Variant == nil {
		return ""
	}
	return item.Variant.SKU
}

// VerifyPayment asks the provider about a session and marks the order paid
// when the provider reports payment. Repeated calls are harmless.
func (s *CheckoutService) VerifyPayment(ctx context.Context, sessionID string, orderID uint) (result *VerifyResult, err error) {
	defer func() { prometheus.RecordPaymentSession("verify", outcome(err)) }()

	if sessionID == "" {
		return nil, validationError("sessionId is required")
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	status, err := s.provider.GetSession(ctx, sessionID)
	if err != nil {
		s.log.Error("Payment session lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentUpstream, err)
	}
	if status.OrderID != order.ID {
		return nil, validationError("session %s does not belong to order %d", sessionID, orderID)
	}
	if !status.Paid {
		return &VerifyResult{Paid: order.Status != model.OrderStatusPending && order.Status != model.OrderStatusCancelled, Order: order}, nil
	}

	order, err = s.orders.TransitionStatus(ctx, order.ID, model.OrderStatusPaid)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Paid: true, Order: order}, nil
}

// HandleWebhook applies an authenticated provider callback. Events that
// cannot change the order any more are acknowledged so the provider stops
// retrying them.
func (s *CheckoutService) HandleWebhook(ctx context.Context, payload []byte, signature string) (err error) {
	defer func() { prometheus.RecordPaymentSession("webhook", outcome(err)) }()

	event, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) || errors.Is(err, payment.ErrMalformedEvent) {
			s.log.Warn("Rejected payment webhook", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return err
	}

	log := s.log.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.Uint("order_id", event.OrderID))

	switch event.Kind {
	case payment.EventPaymentSucceeded:
		_, err := s.orders.TransitionStatus(ctx, event.OrderID, model.OrderStatusPaid)
		switch {
		case err == nil:
			log.Info("Order paid via webhook")
			return nil
		case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrInvalidTransition):
			log.Warn("Payment webhook could not be applied", zap.Error(err))
			return nil
		default:
			return err
		}
	case payment.EventSessionExpired:
		log.Info("Payment session expired, order stays pending")
	default:
		log.Debug("Payment webhook ignored")
	}
	return nil
}
