// Package payment bridges orders to a hosted checkout provider.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidSignature is returned when a webhook payload cannot be authenticated
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
	// ErrMalformedEvent is returned when an authenticated webhook cannot be decoded
	ErrMalformedEvent = errors.New("payment: malformed webhook event")
)

// LineItem is one line shown on the hosted checkout page.
type LineItem struct {
	Name     string
	SKU      string
	Quantity int64
	// Amount is the unit amount in minor currency units.
	Amount int64
}

// SessionRequest describes the checkout session for one order.
type SessionRequest struct {
	OrderID       uint
	OrderNumber   string
	CustomerEmail string
	Items         []LineItem
}

// Session is a created hosted checkout session.
type Session struct {
	ID        string    `json:"sessionId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionStatus is the provider's view of a session.
type SessionStatus struct {
	ID      string
	OrderID uint
	Paid    bool
	Status  string
}

// EventKind classifies webhook events the storefront acts on.
type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventSessionExpired   EventKind = "session_expired"
	EventIgnored          EventKind = "ignored"
)

// WebhookEvent is an authenticated provider callback.
type WebhookEvent struct {
	ID        string
	Type      string
	Kind      EventKind
	SessionID string
	OrderID   uint
}

// Provider creates and inspects hosted checkout sessions.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*SessionStatus, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// MinorUnits converts a two-decimal currency amount into cents.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
