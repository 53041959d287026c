package service

import (
	"github.com/shopspring/decimal"

	"marketplace/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Commission computes the author's cut of a sale: amount * percent / 100,
// rounded half-up at 2 decimal places. This is the only rounding authority;
// every completion path goes through it.
func Commission(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred).Round(2)
}

// CommissionCalculator resolves the commission percentage for an author
// from their membership tier, falling back to the configured default.
type CommissionCalculator struct {
	defaultPercent decimal.Decimal
}

// NewCommissionCalculator creates a calculator with the given default rate
func NewCommissionCalculator(defaultPercent decimal.Decimal) *CommissionCalculator {
	return &CommissionCalculator{defaultPercent: defaultPercent}
}

// Percent returns the rate for a tier, or the default when the tier is unset.
func (c *CommissionCalculator) Percent(tier *models.MembershipTier) decimal.Decimal {
	if tier == nil {
		return c.defaultPercent
	}
	return tier.Percent
}

// ForSale computes the commission credited for a sale by the tier's rate.
func (c *CommissionCalculator) ForSale(amount decimal.Decimal, tier *models.MembershipTier) decimal.Decimal {
	return Commission(amount, c.Percent(tier))
}
