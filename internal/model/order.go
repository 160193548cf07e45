package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped: {OrderStatusDelivered},
}

// ParseOrderStatus returns the status named by s
func ParseOrderStatus(s string) (OrderStatus, bool) {
	status := OrderStatus(s)
	switch status {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return status, true
	}
	return "", false
}

// CanTransitionTo reports whether next is a valid forward move from s
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s
func (s OrderStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// ShippingAddress is copied onto the order at creation
type ShippingAddress struct {
	Name       string `json:"name" gorm:"type:varchar(255)"`
	Line1      string `json:"line1" gorm:"type:varchar(255)"`
	Line2      string `json:"line2,omitempty" gorm:"type:varchar(255)"`
	City       string `json:"city" gorm:"type:varchar(100)"`
	State      string `json:"state,omitempty" gorm:"type:varchar(100)"`
	PostalCode string `json:"postalCode" gorm:"type:varchar(20)"`
	Country    string `json:"country" gorm:"type:varchar(2)"`
	Phone      string `json:"phone,omitempty" gorm:"type:varchar(50)"`
}

// Order represents a customer order
type Order struct {
	ID               uint            `json:"id" gorm:"primaryKey"`
	OrderNumber      string          `json:"orderNumber" gorm:"type:varchar(40);uniqueIndex;not null"`
	CustomerID       uint            `json:"customerId" gorm:"index;not null"`
	Customer         *Customer       `json:"customer,omitempty"`
	Status           OrderStatus     `json:"status" gorm:"type:varchar(20);not null;default:pending;index"`
	TotalAmount      decimal.Decimal `json:"totalAmount" gorm:"type:numeric(12,2);not null"`
	ShippingAddress  ShippingAddress `json:"shippingAddress" gorm:"embedded;embeddedPrefix:ship_"`
	PaymentSessionID *string         `json:"paymentSessionId,omitempty" gorm:"type:varchar(255);index"`
	PaidAt           *time.Time      `json:"paidAt,omitempty"`
	Items            []OrderItem     `json:"items" gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time       `json:"createdAt" gorm:"index"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// OrderItem is one line of an order. Prices are captured at order time.
type OrderItem struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	OrderID   uint            `json:"orderId" gorm:"index;not null"`
	ProductID uint            `json:"productId" gorm:"index;not null"`
	VariantID uint            `json:"variantId" gorm:"index;not null"`
	Quantity  int             `json:"quantity" gorm:"not null;check:chk_item_quantity,quantity >= 1"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	UnitPrice decimal.Decimal `json:"unitPrice" gorm:"type:numeric(12,2);not null"`
	Product   *Product        `json:"product,omitempty"`
	Variant   *ProductVariant `json:"variant,omitempty" gorm:"foreignKey:VariantID"`
}

// AllModels lists the models to migrate
func AllModels() []interface{} {
	return []interface{}{
		&Product{},
		&ProductVariant{},
		&PriceTier{},
		&Customer{},
		&LoyaltyProgram{},
		&Order{},
		&OrderItem{},
	}
}
