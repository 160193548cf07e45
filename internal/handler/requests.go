package handler

import (
	"storefront-service/internal/model"
	"storefront-service/internal/service"

	"github.com/shopspring/decimal"
)

// RegisterRequest defines the structure for account registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=255"`
	Phone    string `json:"phone" validate:"max=50"`
}

// LoginRequest defines the structure for login requests
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// OrderItemRequest is one requested order line
type OrderItemRequest struct {
	ProductID uint `json:"productId" validate:"required"`
	VariantID uint `json:"variantId" validate:"required"`
	Quantity  int  `json:"quantity" validate:"required,min=1,max=1000"`
}

// AddressRequest is a shipping address
type AddressRequest struct {
	Name       string `json:"name" validate:"required,max=255"`
	Line1      string `json:"line1" validate:"required,max=255"`
	Line2      string `json:"line2" validate:"max=255"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone" validate:"max=50"`
}

func (a AddressRequest) model() model.ShippingAddress {
	return model.ShippingAddress{
		Name:       a.Name,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

// CreateOrderRequest places an order. Anonymous callers identify themselves
// by email.
type CreateOrderRequest struct {
	CustomerID      *uint              `json:"customerId"`
	Email           string             `json:"email" validate:"omitempty,email,max=255"`
	Name            string             `json:"name" validate:"max=255"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
	ShippingAddress AddressRequest     `json:"shippingAddress"`
}

func (r CreateOrderRequest) items() []service.OrderItemInput {
	items := make([]service.OrderItemInput, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, service.OrderItemInput{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}
	return items
}

// UpdateOrderStatusRequest moves an order through its lifecycle
type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending paid shipped delivered cancelled"`
}

// CreateSessionRequest opens a hosted checkout for an order
type CreateSessionRequest struct {
	OrderID     uint   `json:"orderId" validate:"required"`
	OrderNumber string `json:"orderNumber" validate:"omitempty,max=64"`
}

// VerifyPaymentRequest checks a checkout session after the redirect back
type VerifyPaymentRequest struct {
	SessionID   string `json:"sessionId" validate:"required,max=255"`
	OrderID     uint   `json:"orderId" validate:"required"`
	OrderNumber string `json:"orderNumber" validate:"omitempty,max=64"`
}

// ProductRequest defines the structure for product creation/update requests
type ProductRequest struct {
	Name        string           `json:"name" validate:"required,max=255"`
	Description string           `json:"description" validate:"max=5000"`
	BasePrice   decimal.Decimal  `json:"basePrice"`
	Active      *bool            `json:"active"`
	DosageLabel *string          `json:"dosageLabel" validate:"omitempty,max=100"`
	Variants    []VariantRequest `json:"variants" validate:"max=50,dive"`
	Tiers       []TierRequest    `json:"tiers" validate:"max=20,dive"`
}

func (r ProductRequest) input() service.ProductInput {
	in := service.ProductInput{
		Name:        r.Name,
		Description: r.Description,
		BasePrice:   r.BasePrice,
		Active:      r.Active,
		DosageLabel: r.DosageLabel,
	}
	for _, v := range r.Variants {
		in.Variants = append(in.Variants, v.input())
	}
	for _, t := range r.Tiers {
		in.Tiers = append(in.Tiers, t.input())
	}
	return in
}

// VariantRequest defines a flavor variant
type VariantRequest struct {
	Flavor string   `json:"flavor" validate:"required"`
	Color  string   `json:"color" validate:"required,hexcolor"`
	Stock  int      `json:"stock" validate:"min=0"`
	SKU    string   `json:"sku" validate:"required,max=100"`
	Images []string `json:"images" validate:"max=20,dive,url"`
}

func (r VariantRequest) input() service.VariantInput {
	return service.VariantInput{
		Flavor: model.Flavor(r.Flavor),
		Color:  r.Color,
		Stock:  r.Stock,
		SKU:    r.SKU,
		Images: r.Images,
	}
}

// TierRequest defines a quantity price tier
type TierRequest struct {
	Quantity int             `json:"quantity" validate:"required,min=1"`
	Price    decimal.Decimal `json:"price"`
}

func (r TierRequest) input() service.TierInput {
	return service.TierInput{Quantity: r.Quantity, Price: r.Price}
}

// ChangeRoleRequest assigns a role to a customer
type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user admin super_admin"`
}
