package model

import (
	"database/sql/driver"
	"regexp"
	"time"

	"storefront-service/internal/pricing"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Flavor is the flavor of a product variant
type Flavor string

const (
	FlavorStrawberry Flavor = "strawberry"
	FlavorBlueberry  Flavor = "blueberry"
	FlavorApple      Flavor = "apple"
	FlavorChocolate  Flavor = "chocolate"
	FlavorVanilla    Flavor = "vanilla"
	FlavorCaramel    Flavor = "caramel"
	FlavorMint       Flavor = "mint"
	FlavorMixed      Flavor = "mixed"
)

// Flavors lists every supported flavor
var Flavors = []Flavor{
	FlavorStrawberry, FlavorBlueberry, FlavorApple, FlavorChocolate,
	FlavorVanilla, FlavorCaramel, FlavorMint, FlavorMixed,
}

// Valid reports whether f is a supported flavor
func (f Flavor) Valid() bool {
	for _, known := range Flavors {
		if f == known {
			return true
		}
	}
	return false
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// ValidColor reports whether s is a #rgb or #rrggbb color
func ValidColor(s string) bool {
	return hexColor.MatchString(s)
}

// Product represents a catalog product
type Product struct {
	ID          uint             `json:"id" gorm:"primarykey"`
	Name        string           `json:"name" gorm:"type:varchar(255);not null"`
	Description string           `json:"description" gorm:"type:text"`
	BasePrice   decimal.Decimal  `json:"basePrice" gorm:"type:numeric(12,2);not null"`
	Active      bool             `json:"active" gorm:"not null;index"`
	DosageLabel *string          `json:"dosageLabel,omitempty" gorm:"type:varchar(100)"`
	Variants    []ProductVariant `json:"variants" gorm:"constraint:OnDelete:CASCADE"`
	PriceTiers  []PriceTier      `json:"priceTiers" gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Tiers converts the stored price tiers for the pricing resolver
func (p Product) Tiers() []pricing.Tier {
	tiers := make([]pricing.Tier, 0, len(p.PriceTiers))
	for _, t := range p.PriceTiers {
		tiers = append(tiers, t.Tier())
	}
	return tiers
}

// ProductVariant is a flavor/color/SKU instance of a product, the unit stock is tracked against
type ProductVariant struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	ProductID uint      `json:"productId" gorm:"index;not null"`
	Flavor    Flavor    `json:"flavor" gorm:"type:varchar(20);not null"`
	Color     string    `json:"color" gorm:"type:varchar(7);not null"`
	Stock     int       `json:"stock" gorm:"not null;default:0;check:chk_variant_stock,stock >= 0"`
	SKU       string    `json:"sku" gorm:"type:varchar(100);uniqueIndex;not null"`
	Images    ImageRefs `json:"images"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PriceTier is a fixed total price for a specific quantity of a product
type PriceTier struct {
	ID        uint            `json:"id" gorm:"primarykey"`
	ProductID uint            `json:"productId" gorm:"not null;uniqueIndex:idx_price_tier_product_quantity"`
	Quantity  int             `json:"quantity" gorm:"not null;uniqueIndex:idx_price_tier_product_quantity;check:chk_tier_quantity,quantity >= 1"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Tier returns the tier in the form the pricing resolver uses
func (t PriceTier) Tier() pricing.Tier {
	return pricing.Tier{Quantity: t.Quantity, Price: t.Price}
}

// ImageRefs holds image references of a variant. It is a text[] column on
// PostgreSQL and an array literal in a text column elsewhere.
type ImageRefs []string

func (r ImageRefs) Value() (driver.Value, error) {
	if r == nil {
		r = ImageRefs{}
	}
	return pq.StringArray(r).Value()
}

func (r *ImageRefs) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*r = ImageRefs(arr)
	return nil
}

// GormDBDataType picks the column type per dialect
func (ImageRefs) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}
