package model

import (
	"time"

	"storefront-service/internal/loyalty"
	"storefront-service/internal/rbac"
)

// Customer represents a storefront account. Guest checkouts create customers
// without a password.
type Customer struct {
	ID           uint            `json:"id" gorm:"primaryKey"`
	Email        string          `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash *string         `json:"-" gorm:"type:varchar(255)"`
	Guest        bool            `json:"guest" gorm:"not null;default:false"`
	Name         string          `json:"name" gorm:"type:varchar(255)"`
	Phone        string          `json:"phone,omitempty" gorm:"type:varchar(50)"`
	AddressLine1 string          `json:"addressLine1,omitempty" gorm:"type:varchar(255)"`
	AddressLine2 string          `json:"addressLine2,omitempty" gorm:"type:varchar(255)"`
	City         string          `json:"city,omitempty" gorm:"type:varchar(100)"`
	State        string          `json:"state,omitempty" gorm:"type:varchar(100)"`
	PostalCode   string          `json:"postalCode,omitempty" gorm:"type:varchar(20)"`
	Country      string          `json:"country,omitempty" gorm:"type:varchar(2)"`
	Role         rbac.Role       `json:"role" gorm:"type:varchar(20);not null;default:user"`
	Loyalty      *LoyaltyProgram `json:"loyalty,omitempty" gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// IsGuest reports whether the customer was created by a guest checkout and
// never registered. The flag is stored and serialized, so it survives a
// round trip through the cache where the password hash does not.
func (c Customer) IsGuest() bool {
	return c.Guest
}

// LoyaltyProgram is the 1:1 points record of a customer
type LoyaltyProgram struct {
	ID         uint          `json:"id" gorm:"primaryKey"`
	CustomerID uint          `json:"customerId" gorm:"uniqueIndex;not null"`
	Points     int           `json:"points" gorm:"not null;default:0;check:chk_loyalty_points,points >= 0"`
	Level      loyalty.Level `json:"level" gorm:"type:varchar(20);not null;default:bronze"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}
