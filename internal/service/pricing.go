package service

import (
	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
)

// ResolveUnitPrice returns the price of the qualifying tier with the highest
// minimum quantity, or base when no tier applies.
func ResolveUnitPrice(base decimal.Decimal, tiers []domain.PriceTier, qty decimal.Decimal) decimal.Decimal {
	price := base
	var best *domain.PriceTier
	for i := range tiers {
		tier := &tiers[i]
		if tier.MinQuantity.GreaterThan(qty) {
			continue
		}
		if best == nil || tier.MinQuantity.GreaterThan(best.MinQuantity) {
			best = tier
		}
	}
	if best != nil {
		price = best.UnitPrice
	}
	return price
}

func roundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}
