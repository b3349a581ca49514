package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"papertrade/internal/format"
	"papertrade/internal/ledger"
	"papertrade/internal/logger"
	"papertrade/internal/metrics"
	"papertrade/internal/models"
	"papertrade/internal/store"
)

// ErrPersistFailed is returned in strict mode when the ledger could not be
// written; the in-memory mutation has been rolled back.
var ErrPersistFailed = errors.New("ledger persistence failed")

// Notifier receives user-facing notifications.
type Notifier interface {
	Notify(n models.Notification)
}

type Config struct {
	// Key is the storage key holding the serialized ledger.
	Key string
	// StrictPersist rolls back a mutation whose write fails instead of
	// keeping it in memory.
	StrictPersist bool
}

// LedgerService owns the paper portfolio. Mutations are serialized.
type LedgerService struct {
	mu       sync.Mutex
	ledger   *ledger.Ledger
	store    store.Store
	prices   ledger.PriceSource
	notifier Notifier
	log      *zap.SugaredLogger
	cfg      Config
	now      func() time.Time
}

func New(st store.Store, prices ledger.PriceSource, notifier Notifier, log *zap.SugaredLogger, cfg Config) *LedgerService {
	if cfg.Key == "" {
		cfg.Key = "cryptoPortfolio"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &LedgerService{
		ledger:   ledger.New(),
		store:    st,
		prices:   prices,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Load replaces the in-memory ledger with the stored one. A missing key is
// not an error. On any failure the service keeps an empty ledger.
func (s *LedgerService) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = ledger.New()
	data, err := s.store.Get(ctx, s.cfg.Key)
	if errors.Is(err, store.ErrNotFound) {
		metrics.RecordStorage("load", nil)
		return nil
	}
	metrics.RecordStorage("load", err)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	loaded := ledger.New()
	if err := json.Unmarshal(data, loaded); err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	s.ledger = loaded
	s.log.Infow("ledger_loaded", "positions", loaded.Len(), "key", s.cfg.Key)
	return nil
}

// SubmitBuy spends usdAmount at unitPrice. The bought quantity is
// usdAmount/unitPrice.
func (s *LedgerService) SubmitBuy(ctx context.Context, assetID string, usdAmount, unitPrice float64) (models.TradeResult, error) {
	var out outbox
	defer s.deliver(&out)

	assetID = NormalizeAssetID(assetID)
	if !positive(usdAmount) || !positive(unitPrice) {
		err := fmt.Errorf("usd amount %v at price %v: %w", usdAmount, unitPrice, ledger.ErrInvalidInput)
		s.reject(&out, models.SideBuy, err)
		return models.TradeResult{}, err
	}
	quantity := usdAmount / unitPrice

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.ledger.Clone()
	pos, err := s.ledger.RecordBuy(assetID, quantity, unitPrice)
	if err != nil {
		s.reject(&out, models.SideBuy, err)
		return models.TradeResult{}, err
	}
	if err := s.persist(ctx, &out, previous); err != nil {
		metrics.RecordTrade(string(models.SideBuy), "error")
		return models.TradeResult{}, err
	}

	result := models.TradeResult{
		Side:       models.SideBuy,
		AssetID:    assetID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		Total:      usdAmount,
		Position:   &pos,
		ExecutedAt: s.now(),
	}
	s.accept(&out, result)
	return result, nil
}

// SubmitSell sells quantity units at unitPrice. Selling more than is held
// fails with ledger.ErrInsufficientBalance.
func (s *LedgerService) SubmitSell(ctx context.Context, assetID string, quantity, unitPrice float64) (models.TradeResult, error) {
	var out outbox
	defer s.deliver(&out)

	assetID = NormalizeAssetID(assetID)

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.ledger.Clone()
	proceeds, remaining, open, err := s.ledger.RecordSell(assetID, quantity, unitPrice)
	if err != nil {
		s.reject(&out, models.SideSell, err)
		return models.TradeResult{}, err
	}
	if err := s.persist(ctx, &out, previous); err != nil {
		metrics.RecordTrade(string(models.SideSell), "error")
		return models.TradeResult{}, err
	}

	result := models.TradeResult{
		Side:       models.SideSell,
		AssetID:    assetID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		Total:      proceeds,
		ExecutedAt: s.now(),
	}
	if open {
		result.Position = &remaining
	}
	s.accept(&out, result)
	return result, nil
}

// Quote estimates a trade without touching the ledger.
func (s *LedgerService) Quote(side models.Side, amount, price float64) (models.Quote, error) {
	if !positive(amount) || !positive(price) {
		return models.Quote{}, fmt.Errorf("quote amount %v at price %v: %w", amount, price, ledger.ErrInvalidInput)
	}
	q := models.Quote{Side: side, Amount: amount, Price: price}
	switch side {
	case models.SideBuy:
		q.Estimate = amount / price
	case models.SideSell:
		q.Estimate = amount * price
	default:
		return models.Quote{}, fmt.Errorf("side %q: %w", side, ledger.ErrInvalidInput)
	}
	return q, nil
}

// Valuation prices the ledger against the injected price source.
func (s *LedgerService) Valuation() models.Valuation {
	s.mu.Lock()
	v := ledger.Valuate(s.ledger, s.prices)
	s.mu.Unlock()

	v.UpdatedAt = s.now()
	return v
}

// Position returns the open position for one asset, if any.
func (s *LedgerService) Position(assetID string) (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Get(NormalizeAssetID(assetID))
}

func (s *LedgerService) Positions() []models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Positions()
}

// persist writes the whole ledger. Callers hold s.mu. In strict mode a write
// failure restores previous; otherwise it is logged and reported only.
func (s *LedgerService) persist(ctx context.Context, out *outbox, previous *ledger.Ledger) error {
	data, err := json.Marshal(s.ledger)
	if err == nil {
		err = s.store.Put(ctx, s.cfg.Key, data)
	}
	metrics.RecordStorage("save", err)
	if err == nil {
		return nil
	}

	if s.cfg.StrictPersist {
		s.ledger = previous
		s.log.Errorw("ledger_save_failed", "key", s.cfg.Key, "rolled_back", true, "err", err)
		out.add(models.NotifyError, "Trade was not saved. Please try again.")
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	s.log.Errorw("ledger_save_failed", "key", s.cfg.Key, "rolled_back", false, "err", err)
	out.add(models.NotifyError, "Failed to save portfolio. Changes may be lost on restart.")
	return nil
}

func (s *LedgerService) accept(out *outbox, r models.TradeResult) {
	metrics.RecordTrade(string(r.Side), "success")
	s.log.Infow("trade_executed",
		"side", r.Side,
		"asset", r.AssetID,
		"quantity", r.Quantity,
		"unit_price", r.UnitPrice,
		"total_usd", r.Total,
	)

	verb := "bought"
	if r.Side == models.SideSell {
		verb = "sold"
	}
	out.add(models.NotifySuccess, fmt.Sprintf("Successfully %s %s %s for $%s",
		verb, format.Coins(r.Quantity), format.DisplayName(r.AssetID), format.USD(r.Total)))
}

func (s *LedgerService) reject(out *outbox, side models.Side, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		metrics.RecordTrade(string(side), "insufficient")
		s.log.Infow("trade_rejected", "side", side, "reason", "insufficient_balance", "err", err)
		out.add(models.NotifyError, "Insufficient balance for this sell")
	case errors.Is(err, ledger.ErrInvalidInput):
		metrics.RecordTrade(string(side), "invalid")
		s.log.Debugw("trade_rejected", "side", side, "reason", "invalid_input", "err", err)
		out.add(models.NotifyError, "Please enter a valid amount")
	default:
		metrics.RecordTrade(string(side), "error")
		s.log.Errorw("trade_failed", "side", side, "err", err)
	}
}

// outbox collects notifications raised while s.mu is held. They are
// delivered after the lock is released so a slow client never stalls trades.
type outbox []models.Notification

func (o *outbox) add(level models.NotificationLevel, msg string) {
	*o = append(*o, models.Notification{Level: level, Message: msg})
}

// deliver is deferred before s.mu is taken, so it runs after the unlock.
func (s *LedgerService) deliver(out *outbox) {
	if s.notifier == nil {
		return
	}
	for _, n := range *out {
		n.At = s.now()
		s.notifier.Notify(n)
	}
}

// positive rejects NaN and +Inf as well as values <= 0.
func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// NormalizeAssetID lowercases and trims an asset id to CoinGecko form.
func NormalizeAssetID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
