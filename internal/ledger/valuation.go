package ledger

import "papertrade/internal/models"

// PriceSource supplies current USD prices. ok is false when no quote is known.
type PriceSource interface {
	CurrentPrice(assetID string) (price float64, ok bool)
}

type PriceFunc func(assetID string) (float64, bool)

func (f PriceFunc) CurrentPrice(assetID string) (float64, bool) { return f(assetID) }

// StaticPrices is a fixed price table.
type StaticPrices map[string]float64

func (s StaticPrices) CurrentPrice(assetID string) (float64, bool) {
	p, ok := s[assetID]
	return p, ok
}

// Valuate prices every position. A missing or unusable quote falls back to
// the position's average cost, which reports a 0% PnL.
func Valuate(l *Ledger, prices PriceSource) models.Valuation {
	positions := l.Positions()
	out := models.Valuation{Holdings: make([]models.HoldingValuation, 0, len(positions))}

	for _, p := range positions {
		price, known := lookup(prices, p.AssetID)
		if !known {
			price = p.AverageCost
		}

		value := p.Quantity * price
		costBasis := p.Quantity * p.AverageCost
		out.Holdings = append(out.Holdings, models.HoldingValuation{
			Position:     p,
			CurrentPrice: price,
			PriceKnown:   known,
			Value:        value,
			CostBasis:    costBasis,
			PnLPct:       PnLPercent(price, p.AverageCost),
		})
		out.TotalValue += value
		out.TotalCost += costBasis
	}

	out.TotalPnLPct = PnLPercent(out.TotalValue, out.TotalCost)
	return out
}

// PnLPercent is (current-cost)/cost*100, or 0 when cost is zero.
func PnLPercent(current, cost float64) float64 {
	if cost == 0 {
		return 0
	}
	return (current - cost) / cost * 100
}

func lookup(prices PriceSource, assetID string) (float64, bool) {
	if prices == nil {
		return 0, false
	}
	price, ok := prices.CurrentPrice(assetID)
	if !ok || !positiveFinite(price) {
		return 0, false
	}
	return price, true
}
