package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/fixquotes/pkg/symbols"
)

// Quote is the latest top-of-book for one symbol.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Spread    float64 `json:"spread"` // points, always derived from bid/ask
	High      float64 `json:"high,omitempty"`
	Low       float64 `json:"low,omitempty"`
	Digits    int     `json:"digits"`
	Timestamp int64   `json:"timestamp"` // capture time, unix micro
}

// NewQuote builds a quote and derives the spread from the two sides.
func NewQuote(symbol string, bid, ask decimal.Decimal, digits int, capturedAt time.Time) Quote {
	return Quote{
		Symbol:    symbol,
		Bid:       bid.InexactFloat64(),
		Ask:       ask.InexactFloat64(),
		Spread:    Spread(symbol, bid, ask, digits),
		Digits:    digits,
		Timestamp: capturedAt.UnixMicro(),
	}
}

// Spread is (ask-bid) scaled by the symbol's point multiplier.
func Spread(symbol string, bid, ask decimal.Decimal, digits int) float64 {
	mult := decimal.NewFromFloat(symbols.PointMultiplier(symbol, digits))
	return ask.Sub(bid).Mul(mult).InexactFloat64()
}

func (q Quote) CapturedAt() time.Time { return time.UnixMicro(q.Timestamp) }

// Age is how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration { return now.Sub(q.CapturedAt()) }

// QuoteUpdate is the message published downstream for every accepted quote.
type QuoteUpdate struct {
	Quote
	SeqID int64 `json:"seq_id"` // monotonic counter per symbol
}
