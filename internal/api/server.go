package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"papertrade/internal/format"
	"papertrade/internal/ledger"
	"papertrade/internal/logger"
	"papertrade/internal/market"
	"papertrade/internal/metrics"
	"papertrade/internal/models"
	"papertrade/internal/realtime"
	"papertrade/internal/service"
)

// MarketSource is the slice of market.Provider the API needs.
type MarketSource interface {
	Refresh(ctx context.Context) error
	RefreshGlobal(ctx context.Context) (models.GlobalStats, error)
	Global() (models.GlobalStats, bool)
	Coins(query string, key market.SortKey, desc bool) []models.Coin
	Price(ctx context.Context, assetID string) (float64, error)
	Chart(ctx context.Context, assetID, timeframe string) ([]models.PricePoint, error)
	CachedChart(assetID, timeframe string) ([]models.PricePoint, bool)
}

type Options struct {
	StaticDir   string
	CORSOrigins []string
}

type Server struct {
	ledger   *service.LedgerService
	market   MarketSource
	hub      *realtime.Hub
	log      *zap.SugaredLogger
	router   *mux.Router
	handler  http.Handler
	upgrader websocket.Upgrader
}

func NewServer(ls *service.LedgerService, m MarketSource, hub *realtime.Hub, log *zap.SugaredLogger, opts Options) *Server {
	if log == nil {
		log = logger.Nop()
	}
	server := &Server{
		ledger: ls,
		market: m,
		hub:    hub,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})

	r.HandleFunc("/api/health", server.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/market", server.handleMockMarket)
	r.HandleFunc("/api/portfolio", server.handleMockPortfolio)

	r.HandleFunc("/api/markets/global", server.handleGlobal).Methods(http.MethodGet)
	r.HandleFunc("/api/markets/coins", server.handleCoins).Methods(http.MethodGet)
	r.HandleFunc("/api/markets/coins/{id}", server.handleCoinPrice).Methods(http.MethodGet)
	r.HandleFunc("/api/markets/coins/{id}/chart", server.handleChart).Methods(http.MethodGet)

	r.HandleFunc("/api/ledger", server.handleValuation).Methods(http.MethodGet)
	r.HandleFunc("/api/ledger/buy", server.handleBuy).Methods(http.MethodPost)
	r.HandleFunc("/api/ledger/sell", server.handleSell).Methods(http.MethodPost)
	r.HandleFunc("/api/ledger/quote", server.handleQuote).Methods(http.MethodGet)
	r.HandleFunc("/api/ledger/positions/{id}", server.handlePosition).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", server.handleWebSocket).Methods(http.MethodGet)

	// Single-page app catch-all, must be last.
	if opts.StaticDir != "" {
		r.PathPrefix("/").Handler(spaHandler{staticPath: opts.StaticDir, indexPath: "index.html"})
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	server.router = r
	server.handler = c.Handler(r)
	return server
}

type spaHandler struct {
	staticPath string
	indexPath  string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(h.staticPath, filepath.Clean("/"+r.URL.Path))
	fi, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && fi.IsDir()) {
		http.ServeFile(w, r, filepath.Join(h.staticPath, h.indexPath))
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.FileServer(http.Dir(h.staticPath)).ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// StartPolling refreshes market data every interval until ctx is cancelled.
func (s *Server) StartPolling(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = s.RefreshAndBroadcast(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RefreshAndBroadcast(ctx)
		}
	}
}

// RefreshAndBroadcast reloads global stats and the coin list, then pushes
// market data and the ledger valuation to websocket clients. On failure the
// cached data is pushed unchanged along with an error notification.
func (s *Server) RefreshAndBroadcast(ctx context.Context) error {
	err := s.market.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		s.log.Warnw("market_refresh_failed", "err", err)
		s.hub.Notify(models.Notification{Level: models.NotifyError, Message: "Failed to load market data. Showing last known prices."})
	} else if stats, ok := s.market.Global(); ok {
		s.log.Debugw("market_refreshed",
			"total_market_cap", format.Compact(stats.TotalMarketCapUSD),
			"market_cap_change_24h", format.Signed(stats.MarketCapChange24h),
			"btc_dominance", stats.BTCDominance)
	}

	stats, _ := s.market.Global()
	s.hub.Broadcast(realtime.MessageMarket, marketUpdate{
		Global: stats,
		Coins:  s.market.Coins("", market.SortRank, false),
	})
	valuation := presentValuation(s.ledger.Valuation())
	s.hub.Broadcast(realtime.MessageValuation, valuation)
	s.log.Debugw("valuation_broadcast",
		"positions", len(valuation.Holdings),
		"total_value", format.USD(valuation.TotalValue),
		"total_pnl", format.Signed(valuation.TotalPnLPct))
	return err
}

type marketUpdate struct {
	Global models.GlobalStats `json:"global"`
	Coins  []models.Coin      `json:"coins"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGlobal(w http.ResponseWriter, r *http.Request) {
	stats, err := s.market.RefreshGlobal(r.Context())
	if err != nil {
		cached, ok := s.market.Global()
		if !ok {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		w.Header().Set("X-Data-Stale", "true")
		stats = cached
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := market.SortKey(q.Get("sort"))
	if key == "" {
		key = market.SortRank
	}
	desc := strings.EqualFold(q.Get("order"), "desc")
	writeJSON(w, http.StatusOK, s.market.Coins(q.Get("q"), key, desc))
}

func (s *Server) handleCoinPrice(w http.ResponseWriter, r *http.Request) {
	id := service.NormalizeAssetID(mux.Vars(r)["id"])
	price, err := s.market.Price(r.Context(), id)
	if err != nil {
		if errors.Is(err, market.ErrUnknownAsset) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown asset"})
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "price": price})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	id := service.NormalizeAssetID(mux.Vars(r)["id"])
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1D"
	}

	points, err := s.market.Chart(r.Context(), id, timeframe)
	if err != nil {
		cached, ok := s.market.CachedChart(id, timeframe)
		if !ok {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		w.Header().Set("X-Data-Stale", "true")
		points = cached
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "timeframe": strings.ToUpper(timeframe), "prices": points})
}

func (s *Server) handleValuation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, presentValuation(s.ledger.Valuation()))
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetID   string  `json:"assetId"`
		USDAmount float64 `json:"usdAmount"`
		UnitPrice float64 `json:"unitPrice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.ledger.SubmitBuy(r.Context(), req.AssetID, req.USDAmount, req.UnitPrice)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	s.hub.Broadcast(realtime.MessageValuation, presentValuation(s.ledger.Valuation()))
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetID   string  `json:"assetId"`
		Quantity  float64 `json:"quantity"`
		UnitPrice float64 `json:"unitPrice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.ledger.SubmitSell(r.Context(), req.AssetID, req.Quantity, req.UnitPrice)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	s.hub.Broadcast(realtime.MessageValuation, presentValuation(s.ledger.Valuation()))
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, errA := strconv.ParseFloat(q.Get("amount"), 64)
	price, errP := strconv.ParseFloat(q.Get("price"), 64)
	if errA != nil || errP != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount and price must be numbers"})
		return
	}

	quote, err := s.ledger.Quote(models.Side(strings.ToLower(q.Get("side"))), amount, price)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// handlePosition reports the held quantity of one asset, which bounds a sell.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	pos, ok := s.ledger.Position(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no open position"})
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.AddClient(conn)

	_ = s.hub.Send(conn, realtime.MessageValuation, presentValuation(s.ledger.Valuation()))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.RemoveClient(conn)
			return
		}
	}
}

// presentValuation rounds money fields to cents for display.
func presentValuation(v models.Valuation) models.Valuation {
	out := v
	out.Holdings = make([]models.HoldingValuation, len(v.Holdings))
	for i, h := range v.Holdings {
		h.Value = format.Round(h.Value, 2)
		h.CostBasis = format.Round(h.CostBasis, 2)
		h.PnLPct = format.Round(h.PnLPct, 2)
		out.Holdings[i] = h
	}
	out.TotalValue = format.Round(v.TotalValue, 2)
	out.TotalCost = format.Round(v.TotalCost, 2)
	out.TotalPnLPct = format.Round(v.TotalPnLPct, 2)
	return out
}

func writeTradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Please enter a valid amount"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "insufficient balance"})
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
