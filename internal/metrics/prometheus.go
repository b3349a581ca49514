package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrade_trades_total",
			Help: "Simulated trades by side and outcome",
		},
		[]string{"side", "status"}, // status: success|invalid|insufficient|error
	)

	StorageOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrade_storage_operations_total",
			Help: "Ledger storage reads and writes",
		},
		[]string{"op", "status"}, // op: load|save
	)

	MarketFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrade_market_fetches_total",
			Help: "Market data requests by endpoint and outcome",
		},
		[]string{"endpoint", "status"},
	)

	WebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "papertrade_websocket_clients",
			Help: "Connected websocket clients",
		},
	)
)

var initOnce sync.Once

// Init registers all collectors with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(Trades)
		prometheus.MustRegister(StorageOps)
		prometheus.MustRegister(MarketFetches)
		prometheus.MustRegister(WebSocketClients)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordTrade(side, status string) {
	Trades.WithLabelValues(side, status).Inc()
}

func RecordStorage(op string, err error) {
	StorageOps.WithLabelValues(op, status(err)).Inc()
}

func RecordMarketFetch(endpoint string, err error) {
	MarketFetches.WithLabelValues(endpoint, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
