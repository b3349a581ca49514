package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"papertrade/internal/metrics"
	"papertrade/internal/models"
)

// ErrUnknownAsset is returned when CoinGecko has no data for the requested id.
var ErrUnknownAsset = errors.New("unknown asset")

type Options struct {
	BaseURL           string
	PerPage           int
	RequestsPerMinute int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Provider fetches CoinGecko market data and keeps the last successful result
// of every call. A failed fetch never clears cached values.
type Provider struct {
	httpClient *http.Client
	baseURL    string
	perPage    int
	limiter    *rate.Limiter
	log        *zap.SugaredLogger

	mu     sync.RWMutex
	global models.GlobalStats
	coins  []models.Coin
	prices map[string]float64
	charts map[string][]models.PricePoint
}

func NewProvider(opts Options, log *zap.SugaredLogger) *Provider {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 50
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RequestsPerMinute) / 60.0)
		burst = opts.RequestsPerMinute / 10
		if burst < 1 {
			burst = 1
		}
	}

	return &Provider{
		httpClient: client,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		perPage:    perPage,
		limiter:    rate.NewLimiter(limit, burst),
		log:        log,
		prices:     make(map[string]float64),
		charts:     make(map[string][]models.PricePoint),
	}
}

// CurrentPrice prefers a price from a detail fetch and falls back to the coin
// list.
func (p *Provider) CurrentPrice(assetID string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if price, ok := p.prices[assetID]; ok {
		return price, true
	}
	for _, c := range p.coins {
		if c.ID == assetID && c.CurrentPrice > 0 {
			return c.CurrentPrice, true
		}
	}
	return 0, false
}

func (p *Provider) Global() (models.GlobalStats, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.global, !p.global.FetchedAt.IsZero()
}

// Refresh reloads global stats and the coin list in parallel. Both are
// attempted even if one fails.
func (p *Provider) Refresh(ctx context.Context) error {
	var (
		wg                  sync.WaitGroup
		globalErr, coinsErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, globalErr = p.RefreshGlobal(ctx)
	}()
	go func() {
		defer wg.Done()
		_, coinsErr = p.RefreshCoins(ctx)
	}()
	wg.Wait()
	return errors.Join(globalErr, coinsErr)
}

func (p *Provider) RefreshGlobal(ctx context.Context) (models.GlobalStats, error) {
	var payload struct {
		Data struct {
			ActiveCryptocurrencies int                `json:"active_cryptocurrencies"`
			Markets                int                `json:"markets"`
			TotalMarketCap         map[string]float64 `json:"total_market_cap"`
			TotalVolume            map[string]float64 `json:"total_volume"`
			MarketCapPercentage    map[string]float64 `json:"market_cap_percentage"`
			MarketCapChange24hUSD  float64            `json:"market_cap_change_percentage_24h_usd"`
		} `json:"data"`
	}

	err := p.getJSON(ctx, "global", "/global", nil, &payload)
	if err != nil {
		return models.GlobalStats{}, err
	}

	stats := models.GlobalStats{
		TotalMarketCapUSD:      payload.Data.TotalMarketCap["usd"],
		TotalVolumeUSD:         payload.Data.TotalVolume["usd"],
		BTCDominance:           payload.Data.MarketCapPercentage["btc"],
		ActiveCryptocurrencies: payload.Data.ActiveCryptocurrencies,
		Markets:                payload.Data.Markets,
		MarketCapChange24h:     payload.Data.MarketCapChange24hUSD,
		FetchedAt:              time.Now().UTC(),
	}

	p.mu.Lock()
	p.global = stats
	p.mu.Unlock()
	return stats, nil
}

func (p *Provider) RefreshCoins(ctx context.Context) ([]models.Coin, error) {
	values := url.Values{}
	values.Set("vs_currency", "usd")
	values.Set("order", "market_cap_desc")
	values.Set("per_page", strconv.Itoa(p.perPage))
	values.Set("page", "1")
	values.Set("sparkline", "false")
	values.Set("price_change_percentage", "24h")

	var payload []struct {
		ID                       string  `json:"id"`
		Symbol                   string  `json:"symbol"`
		Name                     string  `json:"name"`
		MarketCapRank            int     `json:"market_cap_rank"`
		CurrentPrice             float64 `json:"current_price"`
		PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
		MarketCap                float64 `json:"market_cap"`
		TotalVolume              float64 `json:"total_volume"`
	}
	if err := p.getJSON(ctx, "coins_markets", "/coins/markets", values, &payload); err != nil {
		return nil, err
	}

	coins := make([]models.Coin, 0, len(payload))
	for i, c := range payload {
		rank := c.MarketCapRank
		if rank == 0 {
			rank = i + 1
		}
		coins = append(coins, models.Coin{
			ID:             c.ID,
			Symbol:         strings.ToUpper(c.Symbol),
			Name:           c.Name,
			Rank:           rank,
			CurrentPrice:   c.CurrentPrice,
			PriceChange24h: c.PriceChangePercentage24h,
			MarketCap:      c.MarketCap,
			TotalVolume:    c.TotalVolume,
		})
	}

	p.mu.Lock()
	p.coins = coins
	p.mu.Unlock()
	return append([]models.Coin(nil), coins...), nil
}

// Price fetches the current USD price of one coin.
func (p *Provider) Price(ctx context.Context, assetID string) (float64, error) {
	var payload struct {
		MarketData struct {
			CurrentPrice map[string]float64 `json:"current_price"`
		} `json:"market_data"`
	}

	values := url.Values{}
	values.Set("localization", "false")
	values.Set("tickers", "false")
	values.Set("community_data", "false")
	values.Set("developer_data", "false")
	if err := p.getJSON(ctx, "coin", "/coins/"+url.PathEscape(assetID), values, &payload); err != nil {
		return 0, err
	}

	price, ok := payload.MarketData.CurrentPrice["usd"]
	if !ok || math.IsNaN(price) || price <= 0 {
		return 0, fmt.Errorf("%s: no usd price: %w", assetID, ErrUnknownAsset)
	}

	p.mu.Lock()
	p.prices[assetID] = price
	p.mu.Unlock()
	return price, nil
}

// Chart fetches the USD price series for a timeframe label (1H, 4H, 1D, 1W).
func (p *Provider) Chart(ctx context.Context, assetID, timeframe string) ([]models.PricePoint, error) {
	values := url.Values{}
	values.Set("vs_currency", "usd")
	values.Set("days", strconv.FormatFloat(ChartDays(timeframe), 'f', -1, 64))

	var payload struct {
		Prices [][2]float64 `json:"prices"`
	}
	if err := p.getJSON(ctx, "market_chart", "/coins/"+url.PathEscape(assetID)+"/market_chart", values, &payload); err != nil {
		return nil, err
	}

	points := make([]models.PricePoint, 0, len(payload.Prices))
	for _, pt := range payload.Prices {
		points = append(points, models.PricePoint{
			Time:  time.UnixMilli(int64(pt[0])).UTC(),
			Price: pt[1],
		})
	}

	p.mu.Lock()
	p.charts[chartKey(assetID, timeframe)] = points
	p.mu.Unlock()
	return points, nil
}

// CachedChart returns the last series fetched for the asset and timeframe.
func (p *Provider) CachedChart(assetID, timeframe string) ([]models.PricePoint, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	points, ok := p.charts[chartKey(assetID, timeframe)]
	return points, ok
}

// ChartDays maps a timeframe label to the CoinGecko "days" parameter.
func ChartDays(timeframe string) float64 {
	switch strings.ToUpper(timeframe) {
	case "1H":
		return 0.04
	case "4H":
		return 0.17
	case "1D":
		return 1
	case "1W":
		return 7
	default:
		return 1
	}
}

func chartKey(assetID, timeframe string) string {
	return assetID + "|" + strconv.FormatFloat(ChartDays(timeframe), 'f', -1, 64)
}

type SortKey string

const (
	SortRank      SortKey = "rank"
	SortName      SortKey = "name"
	SortPrice     SortKey = "price"
	SortChange    SortKey = "change"
	SortMarketCap SortKey = "marketCap"
	SortVolume    SortKey = "volume"
)

// Coins filters the cached coin list by a case-insensitive match on name or
// symbol, then sorts it. Unknown sort keys sort by rank.
func (p *Provider) Coins(query string, key SortKey, desc bool) []models.Coin {
	p.mu.RLock()
	all := p.coins
	p.mu.RUnlock()

	return FilterCoins(all, query, key, desc)
}

func FilterCoins(all []models.Coin, query string, key SortKey, desc bool) []models.Coin {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]models.Coin, 0, len(all))
	for _, c := range all {
		if q == "" || strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(strings.ToLower(c.Symbol), q) {
			out = append(out, c)
		}
	}

	less := func(a, b models.Coin) bool { return a.Rank < b.Rank }
	switch key {
	case SortName:
		less = func(a, b models.Coin) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case SortPrice:
		less = func(a, b models.Coin) bool { return a.CurrentPrice < b.CurrentPrice }
	case SortChange:
		less = func(a, b models.Coin) bool { return a.PriceChange24h < b.PriceChange24h }
	case SortMarketCap:
		less = func(a, b models.Coin) bool { return a.MarketCap < b.MarketCap }
	case SortVolume:
		less = func(a, b models.Coin) bool { return a.TotalVolume < b.TotalVolume }
	}
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}

func (p *Provider) getJSON(ctx context.Context, endpoint, path string, values url.Values, out any) (err error) {
	defer func() {
		metrics.RecordMarketFetch(endpoint, err)
		if err != nil && p.log != nil {
			p.log.Warnw("market_fetch_failed", "endpoint", endpoint, "err", err)
		}
	}()

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("coingecko rate limiter: %w", err)
	}

	endpointURL := p.baseURL + path
	if len(values) > 0 {
		endpointURL += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return fmt.Errorf("create coingecko request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch coingecko %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("coingecko %s: %w", path, ErrUnknownAsset)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("coingecko status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode coingecko %s: %w", endpoint, err)
	}
	return nil
}
