package marketdata

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/fixquotes/pkg/fix"
	"github.com/shubham-shewale/fixquotes/pkg/models"
)

var (
	ErrMissingSymbol   = errors.New("marketdata: missing symbol")
	ErrMultipleSymbols = errors.New("marketdata: snapshot names more than one symbol")
	ErrOneSided        = errors.New("marketdata: one-sided update")
	ErrBadPrice        = errors.New("marketdata: bad price")
)

// MDUpdateAction value that removes an entry.
const updateActionDelete = "2"

// book collects the entries seen for one symbol.
type book struct {
	bid, ask        decimal.Decimal
	high, low       decimal.Decimal
	hasBid, hasAsk  bool
	hasHigh, hasLow bool
	digits          int
}

func (b *book) set(entryType string, px decimal.Decimal) {
	switch entryType {
	case fix.MDEntryTypeBid:
		b.bid, b.hasBid = px, true
		b.digits = max(b.digits, precision(px))
	case fix.MDEntryTypeOffer:
		b.ask, b.hasAsk = px, true
		b.digits = max(b.digits, precision(px))
	case fix.MDEntryTypeHigh:
		b.high, b.hasHigh = px, true
	case fix.MDEntryTypeLow:
		b.low, b.hasLow = px, true
	}
}

func (b *book) quote(symbol string, capturedAt time.Time) (models.Quote, error) {
	if !b.hasBid || !b.hasAsk {
		return models.Quote{}, fmt.Errorf("%w: %s bid=%t ask=%t", ErrOneSided, symbol, b.hasBid, b.hasAsk)
	}
	q := models.NewQuote(symbol, b.bid, b.ask, b.digits, capturedAt)
	if b.hasHigh {
		q.High = b.high.InexactFloat64()
	}
	if b.hasLow {
		q.Low = b.low.InexactFloat64()
	}
	return q, nil
}

// ParseSnapshot reads the MDEntries group positionally: each 269 names the entry type and
// the next 270 is its price. A flat tag map would keep only the last price.
func ParseSnapshot(msg *fix.Message, capturedAt time.Time) (models.Quote, error) {
	var (
		symbol    string
		entryType string
		inEntry   bool
		b         book
	)

	for _, f := range msg.Fields {
		switch f.Tag {
		case fix.TagSymbol:
			if symbol != "" && f.Value != symbol {
				return models.Quote{}, fmt.Errorf("%w: %s and %s", ErrMultipleSymbols, symbol, f.Value)
			}
			symbol = f.Value

		case fix.TagMDEntryType:
			entryType, inEntry = f.Value, true

		case fix.TagMDEntryPx:
			if !inEntry {
				continue
			}
			px, err := decimal.NewFromString(f.Value)
			if err != nil {
				return models.Quote{}, fmt.Errorf("%w: %q", ErrBadPrice, f.Value)
			}
			b.set(entryType, px)
			inEntry = false
		}
	}

	if symbol == "" {
		return models.Quote{}, ErrMissingSymbol
	}
	return b.quote(symbol, capturedAt)
}

// ParseIncremental reads a MarketDataIncrementalRefresh, whose entries may each name a
// different instrument. An entry's 55 applies to it and to later entries that omit one;
// 279 starts a new entry. Prices are grouped per symbol and every symbol yields its own
// quote or error, in order of first appearance. Deleted entries carry no price.
func ParseIncremental(msg *fix.Message, capturedAt time.Time) ([]models.Quote, []error) {
	var (
		symbol    string
		entryType string
		inEntry   bool
		deleting  bool
		order     []string
		books     = make(map[string]*book)
		errs      []error
	)

	for _, f := range msg.Fields {
		switch f.Tag {
		case fix.TagMDUpdateAction:
			entryType, inEntry = "", false
			deleting = f.Value == updateActionDelete

		case fix.TagSymbol:
			symbol = f.Value

		case fix.TagMDEntryType:
			entryType, inEntry = f.Value, true

		case fix.TagMDEntryPx:
			if !inEntry || deleting {
				continue
			}
			inEntry = false
			if symbol == "" {
				errs = append(errs, ErrMissingSymbol)
				continue
			}
			px, err := decimal.NewFromString(f.Value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q", ErrBadPrice, symbol, f.Value))
				continue
			}
			b, ok := books[symbol]
			if !ok {
				b = &book{}
				books[symbol] = b
				order = append(order, symbol)
			}
			b.set(entryType, px)
		}
	}

	var quotes []models.Quote
	for _, sym := range order {
		q, err := books[sym].quote(sym, capturedAt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, errs
}

// precision is the number of fractional digits the gateway sent.
func precision(d decimal.Decimal) int {
	if exp := d.Exponent(); exp < 0 {
		return int(-exp)
	}
	return 0
}
