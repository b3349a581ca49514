package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/models"
)

const (
	globalBody = `{"data":{"active_cryptocurrencies":2847,"markets":8923,
		"total_market_cap":{"usd":1250000000000},"total_volume":{"usd":89000000000},
		"market_cap_percentage":{"btc":42.5},"market_cap_change_percentage_24h_usd":2.34}}`
	marketsBody = `[
		{"id":"bitcoin","symbol":"btc","name":"Bitcoin","market_cap_rank":1,"current_price":65000,"price_change_percentage_24h":2.1,"market_cap":1280000000000,"total_volume":30000000000},
		{"id":"ethereum","symbol":"eth","name":"Ethereum","market_cap_rank":2,"current_price":3200,"price_change_percentage_24h":-1.4,"market_cap":385000000000,"total_volume":15000000000},
		{"id":"solana","symbol":"sol","name":"Solana","market_cap_rank":5,"current_price":150,"price_change_percentage_24h":5.2,"market_cap":70000000000,"total_volume":4000000000}
	]`
	coinBody  = `{"id":"bitcoin","market_data":{"current_price":{"usd":65123.45,"eur":60000}}}`
	chartBody = `{"prices":[[1700000000000,64000.5],[1700003600000,64100.25]]}`
)

type fakeGecko struct {
	fail  atomic.Bool
	calls atomic.Int32
	query atomic.Value
}

func (f *fakeGecko) handler() http.Handler {
	mux := http.NewServeMux()
	write := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.calls.Add(1)
			f.query.Store(r.URL.RawQuery)
			if f.fail.Load() {
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/global", write(globalBody))
	mux.HandleFunc("/coins/markets", write(marketsBody))
	mux.HandleFunc("/coins/bitcoin", write(coinBody))
	mux.HandleFunc("/coins/bitcoin/market_chart", write(chartBody))
	return mux
}

func setupProvider(t *testing.T) (*Provider, *fakeGecko) {
	t.Helper()
	fg := &fakeGecko{}
	srv := httptest.NewServer(fg.handler())
	t.Cleanup(srv.Close)
	return NewProvider(Options{BaseURL: srv.URL, PerPage: 3}, nil), fg
}

func TestRefreshPopulatesCaches(t *testing.T) {
	p, _ := setupProvider(t)

	require.NoError(t, p.Refresh(context.Background()))

	stats, ok := p.Global()
	require.True(t, ok)
	assert.Equal(t, 1250000000000.0, stats.TotalMarketCapUSD)
	assert.Equal(t, 42.5, stats.BTCDominance)
	assert.Equal(t, 2847, stats.ActiveCryptocurrencies)

	coins := p.Coins("", SortRank, false)
	require.Len(t, coins, 3)
	assert.Equal(t, "BTC", coins[0].Symbol)

	price, ok := p.CurrentPrice("ethereum")
	require.True(t, ok)
	assert.Equal(t, 3200.0, price)

	_, ok = p.CurrentPrice("cardano")
	assert.False(t, ok)
}

func TestFailedRefreshKeepsCachedValues(t *testing.T) {
	p, fg := setupProvider(t)
	ctx := context.Background()
	require.NoError(t, p.Refresh(ctx))

	fg.fail.Store(true)
	err := p.Refresh(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	stats, ok := p.Global()
	require.True(t, ok)
	assert.Equal(t, 8923, stats.Markets)
	assert.Len(t, p.Coins("", SortRank, false), 3)
}

func TestPricePrefersDetailQuote(t *testing.T) {
	p, _ := setupProvider(t)
	ctx := context.Background()
	_, err := p.RefreshCoins(ctx)
	require.NoError(t, err)

	price, err := p.Price(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 65123.45, price)

	cached, ok := p.CurrentPrice("bitcoin")
	require.True(t, ok)
	assert.Equal(t, 65123.45, cached)
}

func TestPriceUnknownAsset(t *testing.T) {
	p, _ := setupProvider(t)

	_, err := p.Price(context.Background(), "not-a-coin")
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestChartTimeframes(t *testing.T) {
	p, fg := setupProvider(t)

	points, err := p.Chart(context.Background(), "bitcoin", "1H")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 64000.5, points[0].Price)
	assert.Equal(t, int64(1700000000000), points[0].Time.UnixMilli())
	assert.Equal(t, "days=0.04&vs_currency=usd", fg.query.Load())

	cached, ok := p.CachedChart("bitcoin", "1h")
	require.True(t, ok)
	assert.Equal(t, points, cached)

	_, ok = p.CachedChart("bitcoin", "1W")
	assert.False(t, ok)
}

func TestChartDays(t *testing.T) {
	assert.Equal(t, 0.04, ChartDays("1H"))
	assert.Equal(t, 0.17, ChartDays("4H"))
	assert.Equal(t, 1.0, ChartDays("1D"))
	assert.Equal(t, 7.0, ChartDays("1W"))
	assert.Equal(t, 1.0, ChartDays("1Y"))
}

func TestFilterCoins(t *testing.T) {
	coins := []models.Coin{
		{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Rank: 1, CurrentPrice: 65000, PriceChange24h: 2.1},
		{ID: "ethereum", Symbol: "ETH", Name: "Ethereum", Rank: 2, CurrentPrice: 3200, PriceChange24h: -1.4},
		{ID: "bitcoin-cash", Symbol: "BCH", Name: "Bitcoin Cash", Rank: 15, CurrentPrice: 400, PriceChange24h: 0.3},
	}

	got := FilterCoins(coins, "BIT", SortPrice, false)
	require.Len(t, got, 2)
	assert.Equal(t, "bitcoin-cash", got[0].ID)
	assert.Equal(t, "bitcoin", got[1].ID)

	got = FilterCoins(coins, "eth", SortRank, false)
	require.Len(t, got, 1)
	assert.Equal(t, "ethereum", got[0].ID)

	got = FilterCoins(coins, "", SortChange, true)
	assert.Equal(t, []string{"bitcoin", "bitcoin-cash", "ethereum"}, ids(got))

	got = FilterCoins(coins, "", SortKey("bogus"), false)
	assert.Equal(t, []string{"bitcoin", "ethereum", "bitcoin-cash"}, ids(got))
}

func TestRateLimiterHonoursContext(t *testing.T) {
	fg := &fakeGecko{}
	srv := httptest.NewServer(fg.handler())
	defer srv.Close()

	p := NewProvider(Options{BaseURL: srv.URL, RequestsPerMinute: 1}, nil)
	_, err := p.RefreshGlobal(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.RefreshGlobal(ctx)
	assert.Error(t, err)
	assert.Equal(t, int32(1), fg.calls.Load())
}

func ids(coins []models.Coin) []string {
	out := make([]string, 0, len(coins))
	for _, c := range coins {
		out = append(out, c.ID)
	}
	return out
}
