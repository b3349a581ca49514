package models

import "time"

// Position is the held quantity and volume-weighted cost basis of one asset.
type Position struct {
	AssetID     string  `json:"assetId"`
	Quantity    float64 `json:"quantity"`
	AverageCost float64 `json:"averageCost"`
}

type HoldingValuation struct {
	Position
	CurrentPrice float64 `json:"currentPrice"`
	PriceKnown   bool    `json:"priceKnown"`
	Value        float64 `json:"value"`
	CostBasis    float64 `json:"costBasis"`
	PnLPct       float64 `json:"pnlPct"`
}

type Valuation struct {
	Holdings    []HoldingValuation `json:"holdings"`
	TotalValue  float64            `json:"totalValue"`
	TotalCost   float64            `json:"totalCost"`
	TotalPnLPct float64            `json:"totalPnlPct"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeResult describes a simulated fill. Total is the USD spent on a buy or
// the proceeds of a sell. Position is nil once a sell closes the asset.
type TradeResult struct {
	Side       Side      `json:"side"`
	AssetID    string    `json:"assetId"`
	Quantity   float64   `json:"quantity"`
	UnitPrice  float64   `json:"unitPrice"`
	Total      float64   `json:"total"`
	Position   *Position `json:"position,omitempty"`
	ExecutedAt time.Time `json:"executedAt"`
}

// Quote is a pre-trade estimate: coins received for a USD amount on the buy
// side, USD received for a coin amount on the sell side.
type Quote struct {
	Side     Side    `json:"side"`
	Amount   float64 `json:"amount"`
	Price    float64 `json:"price"`
	Estimate float64 `json:"estimate"`
}

type Coin struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	Rank           int     `json:"rank"`
	CurrentPrice   float64 `json:"currentPrice"`
	PriceChange24h float64 `json:"priceChange24h"`
	MarketCap      float64 `json:"marketCap"`
	TotalVolume    float64 `json:"totalVolume"`
}

type GlobalStats struct {
	TotalMarketCapUSD      float64   `json:"totalMarketCap"`
	TotalVolumeUSD         float64   `json:"totalVolume"`
	BTCDominance           float64   `json:"btcDominance"`
	ActiveCryptocurrencies int       `json:"activeCryptocurrencies"`
	Markets                int       `json:"markets"`
	MarketCapChange24h     float64   `json:"marketCapChange24h"`
	FetchedAt              time.Time `json:"fetchedAt"`
}

type PricePoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

type NotificationLevel string

const (
	NotifySuccess NotificationLevel = "success"
	NotifyError   NotificationLevel = "error"
)

type Notification struct {
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
	At      time.Time         `json:"at"`
}
