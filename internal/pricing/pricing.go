// Package pricing resolves line prices from a product's base price and its
// quantity price tiers.
package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Tier is a fixed total price for buying exactly Quantity units.
type Tier struct {
	Quantity int
	Price    decimal.Decimal
}

var ErrInvalidTier = errors.New("invalid price tier")

// Resolve returns the price of quantity units. An exact tier match wins,
// anything else is basePrice × quantity.
func Resolve(basePrice decimal.Decimal, tiers []Tier, quantity int) decimal.Decimal {
	for _, t := range tiers {
		if t.Quantity == quantity {
			return t.Price
		}
	}
	return basePrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// UnitPrice is the price of the smallest-quantity tier divided by its
// quantity, or basePrice when no tiers exist.
func UnitPrice(tiers []Tier, basePrice decimal.Decimal) decimal.Decimal {
	if len(tiers) == 0 {
		return basePrice
	}
	smallest := tiers[0]
	for _, t := range tiers[1:] {
		if t.Quantity < smallest.Quantity {
			smallest = t
		}
	}
	if smallest.Quantity <= 0 {
		return basePrice
	}
	return smallest.Price.Div(decimal.NewFromInt(int64(smallest.Quantity)))
}

// Savings is what tier saves compared to buying its quantity at the unit
// price. It never goes below zero.
func Savings(tiers []Tier, basePrice decimal.Decimal, tier Tier) decimal.Decimal {
	full := UnitPrice(tiers, basePrice).Mul(decimal.NewFromInt(int64(tier.Quantity)))
	saved := full.Sub(tier.Price)
	if saved.IsNegative() {
		return decimal.Zero
	}
	return saved.Round(2)
}

// Sorted returns a copy of tiers ordered by ascending quantity.
func Sorted(tiers []Tier) []Tier {
	out := append([]Tier(nil), tiers...)
	sort.Slice(out, func(i, j int) bool { return out[i].Quantity < out[j].Quantity })
	return out
}

// ValidateTiers checks that every quantity is at least one, every price is
// positive and no quantity repeats.
func ValidateTiers(tiers []Tier) error {
	seen := make(map[int]struct{}, len(tiers))
	for _, t := range tiers {
		if t.Quantity < 1 {
			return fmt.Errorf("%w: quantity %d must be at least 1", ErrInvalidTier, t.Quantity)
		}
		if !t.Price.IsPositive() {
			return fmt.Errorf("%w: price for quantity %d must be positive", ErrInvalidTier, t.Quantity)
		}
		if _, dup := seen[t.Quantity]; dup {
			return fmt.Errorf("%w: duplicate quantity %d", ErrInvalidTier, t.Quantity)
		}
		seen[t.Quantity] = struct{}{}
	}
	return nil
}
