package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var errInvalidRecord = errors.New("invalid cart record")

// record is the persisted form of a non-empty cart.
type record struct {
	Lines   []recordLine `json:"lines"`
	SavedAt int64        `json:"savedAt"`
}

type recordLine struct {
	ID         string         `json:"id"`
	Price      json.Number    `json:"price"`
	Quantity   int            `json:"quantity"`
	LineTotal  json.Number    `json:"lineTotal"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func encodeRecord(lines []Line, savedAt time.Time) ([]byte, error) {
	r := record{Lines: make([]recordLine, len(lines)), SavedAt: savedAt.UnixMilli()}
	for i, l := range lines {
		r.Lines[i] = recordLine{
			ID:         l.ID,
			Price:      json.Number(l.Price.String()),
			Quantity:   l.Quantity,
			LineTotal:  json.Number(l.LineTotal.String()),
			Attributes: l.Attributes,
		}
	}
	return json.Marshal(r)
}

// decodeRecord parses a stored cart. The stored lineTotal is ignored and
// recomputed from price and quantity.
func decodeRecord(data []byte) ([]Line, time.Time, error) {
	r := record{}
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %w", errInvalidRecord, err)
	}
	if r.SavedAt <= 0 || len(r.Lines) == 0 {
		return nil, time.Time{}, errInvalidRecord
	}

	lines := make([]Line, len(r.Lines))
	for i, rl := range r.Lines {
		if rl.ID == "" || rl.Quantity < 1 {
			return nil, time.Time{}, fmt.Errorf("%w: line %d", errInvalidRecord, i)
		}
		price, err := decimal.NewFromString(rl.Price.String())
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("%w: %w", errInvalidRecord, err)
		}
		lines[i] = newLine(rl.ID, price, rl.Quantity, rl.Attributes)
	}
	return lines, time.UnixMilli(r.SavedAt), nil
}
