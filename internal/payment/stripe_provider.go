package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"
)

const orderIDMetadataKey = "order_id"

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig configures the StripeProvider.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
	Logger        *zap.Logger
	Clock         func() time.Time

	sessions stripeSessionAPI
}

// StripeProvider implements Provider with Stripe Checkout.
type StripeProvider struct {
	sessions      stripeSessionAPI
	webhookSecret string
	currency      string
	successURL    string
	cancelURL     string
	log           *zap.Logger
	clock         func() time.Time
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" && cfg.sessions == nil {
		return nil, errors.New("stripe: secret key is required")
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		return nil, errors.New("stripe: currency is required")
	}

	sessions := cfg.sessions
	if sessions == nil {
		sessions = client.New(secret, nil).CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &StripeProvider{
		sessions:      sessions,
		webhookSecret: cfg.WebhookSecret,
		currency:      strings.ToLower(cfg.Currency),
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		log:           log,
		clock:         clock,
	}, nil
}

// CreateSession creates a Stripe Checkout session for an order.
func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	orderID := strconv.FormatUint(uint64(req.OrderID), 10)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withSessionPlaceholder(p.successURL, orderID)),
		CancelURL:         stripe.String(p.cancelURL),
		ClientReferenceID: stripe.String(orderID),
		Metadata: map[string]string{
			orderIDMetadataKey: orderID,
			"order_number":     req.OrderNumber,
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{orderIDMetadataKey: orderID},
		},
	}
	params.Context = ctx
	// one session per order and attempt window
	params.SetIdempotencyKey(fmt.Sprintf("checkout-%s-%d", orderID, p.clock().Unix()/60))
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(p.currency),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{"sku": item.SKU}
		}
		params.LineItems = append(params.LineItems, line)
	}
	if len(params.LineItems) == 0 {
		return nil, errors.New("stripe: checkout session needs at least one line item")
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.log.Info("Stripe checkout session created",
		zap.String("session_id", session.ID),
		zap.Uint("order_id", req.OrderID))

	out := &Session{ID: session.ID, URL: session.URL}
	if session.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return out, nil
}

// GetSession fetches the payment state of a session.
func (p *StripeProvider) GetSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	return &SessionStatus{
		ID:      session.ID,
		OrderID: sessionOrderID(session),
		Paid:    session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Status:  string(session.Status),
	}, nil
}

// ParseWebhook authenticates a Stripe webhook and extracts the session it refers to.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if p.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type), Kind: EventIgnored}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionExpired:
	default:
		return out, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	out.SessionID = session.ID
	out.OrderID = sessionOrderID(&session)
	if out.OrderID == 0 {
		return nil, fmt.Errorf("%w: session %s carries no order", ErrMalformedEvent, session.ID)
	}

	switch {
	case event.Type == stripe.EventTypeCheckoutSessionExpired:
		out.Kind = EventSessionExpired
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		out.Kind = EventPaymentSucceeded
	}
	return out, nil
}

func sessionOrderID(session *stripe.CheckoutSession) uint {
	raw := session.Metadata[orderIDMetadataKey]
	if raw == "" {
		raw = session.ClientReferenceID
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// Stripe substitutes {CHECKOUT_SESSION_ID} in the success URL.
func withSessionPlaceholder(successURL, orderID string) string {
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + "session_id={CHECKOUT_SESSION_ID}&order_id=" + orderID
}
