package models

// Redis naming shared by the processor (writer) and the gateway (reader).
const (
	QuoteKeyPrefix     = "quote:"
	QuoteChannelPrefix = "quotes."
)

// QuoteKey is where the latest quote for symbol is stored.
func QuoteKey(symbol string) string { return QuoteKeyPrefix + symbol }

// QuoteChannel is the pub/sub channel carrying updates for symbol.
func QuoteChannel(symbol string) string { return QuoteChannelPrefix + symbol }
