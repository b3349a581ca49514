package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"papertrade/internal/models"
)

var (
	// ErrInvalidInput marks a non-positive or non-finite quantity or price.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientBalance marks a sell larger than the held quantity.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Ledger maps asset ids to open positions. Positions with zero quantity are
// never stored. A Ledger is not safe for concurrent use.
type Ledger struct {
	positions map[string]models.Position
}

func New() *Ledger {
	return &Ledger{positions: make(map[string]models.Position)}
}

func (l *Ledger) Len() int {
	return len(l.positions)
}

func (l *Ledger) Get(assetID string) (models.Position, bool) {
	p, ok := l.positions[assetID]
	return p, ok
}

// Positions returns a copy of every position sorted by asset id.
func (l *Ledger) Positions() []models.Position {
	out := make([]models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

func (l *Ledger) Clone() *Ledger {
	out := &Ledger{positions: make(map[string]models.Position, len(l.positions))}
	for k, v := range l.positions {
		out.positions[k] = v
	}
	return out
}

// RecordBuy adds quantity units bought at unitPrice and recomputes the
// volume-weighted average cost. A buy whose totals would not be finite is
// rejected and leaves the position unchanged.
func (l *Ledger) RecordBuy(assetID string, quantity, unitPrice float64) (models.Position, error) {
	if err := validate(assetID, quantity, unitPrice); err != nil {
		return models.Position{}, err
	}

	current := l.positions[assetID]
	totalCost := current.Quantity*current.AverageCost + quantity*unitPrice
	totalQuantity := current.Quantity + quantity
	averageCost := totalCost / totalQuantity
	if !positiveFinite(totalQuantity) || !positiveFinite(totalCost) || !positiveFinite(averageCost) {
		return models.Position{}, fmt.Errorf("buy %v %s at %v overflows position: %w", quantity, assetID, unitPrice, ErrInvalidInput)
	}

	updated := models.Position{
		AssetID:     assetID,
		Quantity:    totalQuantity,
		AverageCost: averageCost,
	}
	l.positions[assetID] = updated
	return updated, nil
}

// RecordSell removes quantity units and returns the proceeds. Average cost is
// left untouched. The returned position is the remainder; ok is false when the
// sell closed the position.
func (l *Ledger) RecordSell(assetID string, quantity, unitPrice float64) (proceeds float64, remaining models.Position, ok bool, err error) {
	if err := validate(assetID, quantity, unitPrice); err != nil {
		return 0, models.Position{}, false, err
	}

	current, held := l.positions[assetID]
	if !held || current.Quantity < quantity {
		return 0, models.Position{}, false, fmt.Errorf("sell %v %s, held %v: %w", quantity, assetID, current.Quantity, ErrInsufficientBalance)
	}

	current.Quantity -= quantity
	proceeds = quantity * unitPrice
	if current.Quantity <= 0 {
		delete(l.positions, assetID)
		return proceeds, models.Position{}, false, nil
	}
	l.positions[assetID] = current
	return proceeds, current, true, nil
}

func validate(assetID string, quantity, unitPrice float64) error {
	if assetID == "" {
		return fmt.Errorf("empty asset id: %w", ErrInvalidInput)
	}
	if !positiveFinite(quantity) {
		return fmt.Errorf("quantity %v: %w", quantity, ErrInvalidInput)
	}
	if !positiveFinite(unitPrice) {
		return fmt.Errorf("unit price %v: %w", unitPrice, ErrInvalidInput)
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// storedPosition is the persisted shape of one entry.
type storedPosition struct {
	Amount   float64 `json:"amount"`
	AvgPrice float64 `json:"avgPrice"`
}

// MarshalJSON encodes the ledger as {"<assetId>": {"amount": n, "avgPrice": n}}.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	out := make(map[string]storedPosition, len(l.positions))
	for id, p := range l.positions {
		out[id] = storedPosition{Amount: p.Quantity, AvgPrice: p.AverageCost}
	}
	return json.Marshal(out)
}

// UnmarshalJSON replaces the ledger contents. Entries with a non-positive
// amount or a negative average price are dropped.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var in map[string]storedPosition
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode ledger: %w", err)
	}

	positions := make(map[string]models.Position, len(in))
	for id, sp := range in {
		if id == "" || !positiveFinite(sp.Amount) || sp.AvgPrice < 0 || math.IsNaN(sp.AvgPrice) {
			continue
		}
		positions[id] = models.Position{AssetID: id, Quantity: sp.Amount, AverageCost: sp.AvgPrice}
	}
	l.positions = positions
	return nil
}
