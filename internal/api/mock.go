package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type mockCoinRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

type mockMarketStats struct {
	TotalMarketCap         float64       `json:"totalMarketCap"`
	TotalVolume            float64       `json:"totalVolume"`
	BTCDominance           float64       `json:"btcDominance"`
	ActiveCryptocurrencies int           `json:"activeCryptocurrencies"`
	Markets                int           `json:"markets"`
	MarketCapChange24h     float64       `json:"marketCapChange24h"`
	Trending               []mockCoinRef `json:"trending"`
	Timestamp              string        `json:"timestamp"`
}

type mockHolding struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Amount    float64 `json:"amount"`
	Value     float64 `json:"value"`
	Change24h float64 `json:"change24h"`
}

type mockPortfolio struct {
	TotalValue  float64       `json:"totalValue"`
	Holdings    []mockHolding `json:"holdings"`
	LastUpdated string        `json:"lastUpdated"`
}

// handleMockMarket serves fixed aggregate market statistics.
func (s *Server) handleMockMarket(w http.ResponseWriter, r *http.Request) {
	s.log.Infow("mock_market_request", "url", r.URL.String())
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}

	stats := mockMarketStats{
		TotalMarketCap:         1250000000000,
		TotalVolume:            89000000000,
		BTCDominance:           42.5,
		ActiveCryptocurrencies: 2847,
		Markets:                8923,
		MarketCapChange24h:     2.34,
		Trending: []mockCoinRef{
			{ID: "bitcoin", Name: "Bitcoin", Symbol: "BTC"},
			{ID: "ethereum", Name: "Ethereum", Symbol: "ETH"},
			{ID: "solana", Name: "Solana", Symbol: "SOL"},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    stats,
		"source":  "papertrade mock API",
	})
}

// handleMockPortfolio returns a fixed portfolio on GET and accepts, logs and
// discards a portfolio on POST.
func (s *Server) handleMockPortfolio(w http.ResponseWriter, r *http.Request) {
	s.log.Infow("mock_portfolio_request", "method", r.Method, "url", r.URL.String())

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Portfolio data retrieved successfully",
			"portfolio": mockPortfolio{
				TotalValue: 8523.45,
				Holdings: []mockHolding{
					{Symbol: "BTC", Name: "Bitcoin", Amount: 0.25, Value: 5000.00, Change24h: 2.34},
					{Symbol: "ETH", Name: "Ethereum", Amount: 1.5, Value: 3000.00, Change24h: -1.23},
					{Symbol: "ADA", Name: "Cardano", Amount: 1000, Value: 523.45, Change24h: 4.56},
				},
				LastUpdated: time.Now().UTC().Format(time.RFC3339Nano),
			},
		})
	case http.MethodPost:
		var body any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		s.log.Infow("mock_portfolio_received", "portfolio", body)
		writeJSON(w, http.StatusOK, map[string]any{
			"message":   "Portfolio updated successfully",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	}
}
