package simulator

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/fixquotes/pkg/fix"
	"github.com/shubham-shewale/fixquotes/pkg/symbols"
)

// DefaultBasePrices seeds the random walk for the symbols the feed subscribes by default.
var DefaultBasePrices = map[string]float64{
	"EURUSD": 1.08500, "GBPUSD": 1.26400, "USDJPY": 149.500, "USDCHF": 0.88200,
	"AUDUSD": 0.65800, "USDCAD": 1.35600, "NZDUSD": 0.61200, "EURGBP": 0.85800,
	"EURJPY": 162.200, "GBPJPY": 189.000,
	"XAUUSD": 1950.00, "XAGUSD": 23.100,
	"US30": 38500.0, "US500": 5100.0, "USTEC": 18000.0, "GER40": 17800.0, "UK100": 7700.0,
	"BTCUSD": 65000.00, "ETHUSD": 3400.00,
}

const (
	// maxStep bounds one tick's move as a fraction of the current mid.
	maxStep = 0.0002
	// maxSpreadPoints bounds the quoted spread.
	maxSpreadPoints = 20
)

// Tick is one simulated top-of-book update.
type Tick struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Digits int
}

// Fields renders the tick as a MarketDataSnapshotFullRefresh body.
func (t Tick) Fields(reqID string) []fix.Field {
	d := int32(t.Digits)
	return []fix.Field{
		fix.F(fix.TagMDReqID, reqID),
		fix.F(fix.TagSymbol, t.Symbol),
		fix.F(fix.TagNoMDEntries, "4"),
		fix.F(fix.TagMDEntryType, fix.MDEntryTypeBid), fix.F(fix.TagMDEntryPx, t.Bid.StringFixed(d)),
		fix.F(fix.TagMDEntryType, fix.MDEntryTypeOffer), fix.F(fix.TagMDEntryPx, t.Ask.StringFixed(d)),
		fix.F(fix.TagMDEntryType, fix.MDEntryTypeHigh), fix.F(fix.TagMDEntryPx, t.High.StringFixed(d)),
		fix.F(fix.TagMDEntryType, fix.MDEntryTypeLow), fix.F(fix.TagMDEntryPx, t.Low.StringFixed(d)),
	}
}

type walk struct {
	mid       float64
	high, low decimal.Decimal
	digits    int
}

// PriceSource is a per-symbol random walk. Symbols are matched without broker suffixes.
type PriceSource struct {
	mu      sync.Mutex
	rand    Rand
	aliases symbols.Aliases
	walks   map[string]*walk
}

func NewPriceSource(basePrices map[string]float64, suffixes []string, rnd Rand) *PriceSource {
	ps := &PriceSource{
		rand:    rnd,
		aliases: symbols.NewAliases(suffixes),
		walks:   make(map[string]*walk, len(basePrices)),
	}
	for sym, price := range basePrices {
		ps.walks[ps.aliases.Base(sym)] = &walk{mid: price, digits: Digits(sym)}
	}
	return ps
}

// Has reports whether symbol, or its unsuffixed base, is quoted.
func (ps *PriceSource) Has(symbol string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	_, ok := ps.walks[ps.aliases.Base(symbol)]
	return ok
}

// Next advances symbol's walk one step. The tick carries symbol exactly as requested.
func (ps *PriceSource) Next(symbol string) (Tick, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	w, ok := ps.walks[ps.aliases.Base(symbol)]
	if !ok {
		return Tick{}, false
	}

	w.mid += (ps.rand.Float64()*2 - 1) * maxStep * w.mid
	points := 1 + ps.rand.Intn(maxSpreadPoints)

	bid := decimal.NewFromFloat(w.mid).Round(int32(w.digits))
	ask := bid.Add(decimal.New(int64(points), -int32(w.digits)))

	if w.high.IsZero() || bid.GreaterThan(w.high) {
		w.high = bid
	}
	if w.low.IsZero() || bid.LessThan(w.low) {
		w.low = bid
	}

	return Tick{Symbol: symbol, Bid: bid, Ask: ask, High: w.high, Low: w.low, Digits: w.digits}, true
}

// Digits is the quoting precision implied by the symbol's point size.
func Digits(symbol string) int {
	return int(math.Round(math.Log10(symbols.PointMultiplier(symbol, 0))))
}
