// Package loyalty maps accumulated points to customer levels and decides how
// many points a paid order earns.
package loyalty

import (
	"github.com/shopspring/decimal"
)

// Level is a customer-facing rank derived from points.
type Level string

const (
	LevelBronze   Level = "bronze"
	LevelSilver   Level = "silver"
	LevelGold     Level = "gold"
	LevelPlatinum Level = "platinum"
)

// Rank orders levels: bronze < silver < gold < platinum. Unknown levels rank 0.
func (l Level) Rank() int {
	switch l {
	case LevelBronze:
		return 1
	case LevelSilver:
		return 2
	case LevelGold:
		return 3
	case LevelPlatinum:
		return 4
	}
	return 0
}

// Thresholds are the minimum points for each level above bronze.
type Thresholds struct {
	Silver   int
	Gold     int
	Platinum int
}

// DefaultThresholds: bronze <500, silver <1500, gold <3000, platinum otherwise.
var DefaultThresholds = Thresholds{Silver: 500, Gold: 1500, Platinum: 3000}

// TierFor returns the level for points. Negative points count as zero.
func (t Thresholds) TierFor(points int) Level {
	switch {
	case points >= t.Platinum:
		return LevelPlatinum
	case points >= t.Gold:
		return LevelGold
	case points >= t.Silver:
		return LevelSilver
	default:
		return LevelBronze
	}
}

// Policy is the point accrual rule.
type Policy struct {
	// Divisor is the amount spent per point.
	Divisor    decimal.Decimal
	Thresholds Thresholds
}

// DefaultPolicy awards one point per 100 currency units.
func DefaultPolicy() Policy {
	return Policy{Divisor: decimal.NewFromInt(100), Thresholds: DefaultThresholds}
}

// PointsFor returns floor(amount / Divisor), never negative.
func (p Policy) PointsFor(amount decimal.Decimal) int {
	if !p.Divisor.IsPositive() || !amount.IsPositive() {
		return 0
	}
	return int(amount.Div(p.Divisor).Floor().IntPart())
}
