package marketdata_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/marketdata"
	"github.com/shubham-shewale/fixquotes/pkg/fix"
	"github.com/shubham-shewale/fixquotes/pkg/models"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// parseRaw parses a pipe-delimited body; pipe stands for SOH.
func parseRaw(t *testing.T, body string) *fix.Message {
	t.Helper()
	msg, err := fix.Parse([]byte(strings.ReplaceAll(body, "|", string(fix.SOH))))
	require.NoError(t, err)
	return msg
}

func TestParseSnapshot_XAUUSD(t *testing.T) {
	msg := parseRaw(t, "35=W|55=XAUUSD|268=2|269=0|270=1950.10|269=1|270=1950.60|")

	q, err := marketdata.ParseSnapshot(msg, now)
	require.NoError(t, err)

	assert.Equal(t, "XAUUSD", q.Symbol)
	assert.Equal(t, 1950.10, q.Bid)
	assert.Equal(t, 1950.60, q.Ask)
	assert.Equal(t, 2, q.Digits)
	assert.InDelta(t, 50.0, q.Spread, 1e-9)
	assert.Equal(t, now.UnixMicro(), q.Timestamp)
}

func TestParseSnapshot_OrderIndependent(t *testing.T) {
	msg := parseRaw(t, "35=W|55=EURUSD|268=2|269=1|270=1.08512|269=0|270=1.08500|")

	q, err := marketdata.ParseSnapshot(msg, now)
	require.NoError(t, err)

	assert.Equal(t, 1.085, q.Bid)
	assert.Equal(t, 1.08512, q.Ask)
	assert.Equal(t, 5, q.Digits)
	assert.InDelta(t, 12.0, q.Spread, 1e-6)
}

func TestParseSnapshot_HighLowAndSizes(t *testing.T) {
	msg := parseRaw(t, "35=W|55=US30|268=4|269=0|270=38000.5|271=1|269=1|270=38001.5|271=1|269=7|270=38100|269=8|270=37900|")

	q, err := marketdata.ParseSnapshot(msg, now)
	require.NoError(t, err)

	assert.Equal(t, 38100.0, q.High)
	assert.Equal(t, 37900.0, q.Low)
	assert.Equal(t, 1, q.Digits)
}

func TestParseSnapshot_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"bid only", "35=W|55=EURUSD|268=1|269=0|270=1.1|", marketdata.ErrOneSided},
		{"ask only", "35=W|55=EURUSD|268=1|269=1|270=1.1|", marketdata.ErrOneSided},
		{"no symbol", "35=W|268=2|269=0|270=1.1|269=1|270=1.2|", marketdata.ErrMissingSymbol},
		{"price before type", "35=W|55=EURUSD|270=1.1|269=0|269=1|270=1.2|", marketdata.ErrOneSided},
		{"bad price", "35=W|55=EURUSD|269=0|270=abc|269=1|270=1.2|", marketdata.ErrBadPrice},
		{"two symbols", "35=W|55=EURUSD|269=0|270=1.1|55=GBPUSD|269=1|270=1.2|", marketdata.ErrMultipleSymbols},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := marketdata.ParseSnapshot(parseRaw(t, tt.body), now)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestParseIncremental_EntriesForDifferentSymbolsDoNotMerge(t *testing.T) {
	msg := parseRaw(t, "35=X|268=2|279=1|269=0|55=EURUSD|270=1.08500|279=1|269=1|55=GBPUSD|270=1.27000|")

	quotes, errs := marketdata.ParseIncremental(msg, now)

	assert.Empty(t, quotes)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, marketdata.ErrOneSided)
	}
}

func TestParseIncremental_GroupsBySymbol(t *testing.T) {
	msg := parseRaw(t, "35=X|268=4|"+
		"279=1|269=0|55=EURUSD|270=1.08500|"+
		"279=1|269=0|55=GBPUSD|270=1.27000|"+
		"279=1|269=1|55=EURUSD|270=1.08512|"+
		"279=1|269=1|55=GBPUSD|270=1.27020|")

	quotes, errs := marketdata.ParseIncremental(msg, now)
	require.Empty(t, errs)
	require.Len(t, quotes, 2)

	assert.Equal(t, "EURUSD", quotes[0].Symbol)
	assert.Equal(t, 1.085, quotes[0].Bid)
	assert.Equal(t, 1.08512, quotes[0].Ask)
	assert.Equal(t, "GBPUSD", quotes[1].Symbol)
	assert.Equal(t, 1.27, quotes[1].Bid)
	assert.Equal(t, 1.2702, quotes[1].Ask)
}

func TestParseIncremental_SymbolCarriesToLaterEntries(t *testing.T) {
	msg := parseRaw(t, "35=X|268=3|279=1|269=0|55=XAUUSD|270=1950.10|279=1|269=1|270=1950.60|279=2|269=0|270=1.0|")

	quotes, errs := marketdata.ParseIncremental(msg, now)
	require.Empty(t, errs)
	require.Len(t, quotes, 1)
	assert.Equal(t, "XAUUSD", quotes[0].Symbol)
	assert.Equal(t, 1950.10, quotes[0].Bid)
	assert.Equal(t, 1950.60, quotes[0].Ask)
}

func TestParseIncremental_NoSymbol(t *testing.T) {
	quotes, errs := marketdata.ParseIncremental(parseRaw(t, "35=X|268=2|279=1|269=0|270=1.1|279=1|269=1|270=1.2|"), now)

	assert.Empty(t, quotes)
	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[0], marketdata.ErrMissingSymbol)
}

func TestBuildRequest_FieldOrder(t *testing.T) {
	fields := marketdata.BuildRequest("req-1", "EURUSD", "ACC9")

	var tags []int
	for _, f := range fields {
		tags = append(tags, f.Tag)
	}
	assert.Equal(t, []int{262, 1, 263, 264, 265, 267, 269, 269, 146, 55}, tags)
	assert.Equal(t, "0", fields[6].Value)
	assert.Equal(t, "1", fields[7].Value)

	noAccount := marketdata.BuildRequest("req-2", "EURUSD", "")
	assert.Equal(t, fix.TagSubscriptionRequestType, noAccount[1].Tag)
}

type fakeSender struct {
	sent [][]fix.Field
	err  error
}

func (f *fakeSender) Send(msgType string, fields ...fix.Field) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, fields)
	return nil
}

func TestSubscriber_OneRequestPerSymbol(t *testing.T) {
	sender := &fakeSender{}
	sub := marketdata.NewSubscriber(zap.NewNop())

	require.NoError(t, sub.RequestSubscription(sender, []string{"eurusd", "XAUUSD", " "}, ""))

	require.Len(t, sender.sent, 2)
	first := &fix.Message{Fields: sender.sent[0]}
	second := &fix.Message{Fields: sender.sent[1]}
	assert.Equal(t, "EURUSD", first.Get(fix.TagSymbol))
	assert.Equal(t, "XAUUSD", second.Get(fix.TagSymbol))
	assert.NotEqual(t, first.Get(fix.TagMDReqID), second.Get(fix.TagMDReqID))
}

func TestSubscriber_StopsOnSendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("not connected")}
	sub := marketdata.NewSubscriber(zap.NewNop())

	err := sub.RequestSubscription(sender, []string{"EURUSD", "GBPUSD"}, "")
	assert.Error(t, err)
}

type countingMetrics struct {
	parsed  int
	dropped map[string]int
}

func (c *countingMetrics) QuoteParsed()               { c.parsed++ }
func (c *countingMetrics) QuoteDropped(reason string) { c.dropped[reason]++ }

func TestHandler_PushesQuotesAndDropsBadOnes(t *testing.T) {
	updates := make(chan models.Quote, 1)
	m := &countingMetrics{dropped: map[string]int{}}
	h := marketdata.NewHandler(updates, zap.NewNop(), m)

	h.HandleMessage(parseRaw(t, "35=W|55=EURUSD|269=0|270=1.1|"))
	assert.Len(t, updates, 0)
	assert.Equal(t, 1, m.dropped["one_sided"])

	h.HandleMessage(parseRaw(t, "35=W|55=EURUSD|269=0|270=1.1|269=1|270=1.2|"))
	h.HandleMessage(parseRaw(t, "35=X|55=EURUSD|269=0|270=1.1|269=1|270=1.2|"))
	assert.Equal(t, 1, m.parsed)
	assert.Equal(t, 1, m.dropped["queue_full"])

	q := <-updates
	assert.Equal(t, "EURUSD", q.Symbol)

	h.HandleMessage(parseRaw(t, "35=Y|262=abc|281=0|58=unknown symbol|"))
	assert.Len(t, updates, 0)
}

func TestHandler_IncrementalPushesEachSymbol(t *testing.T) {
	updates := make(chan models.Quote, 4)
	m := &countingMetrics{dropped: map[string]int{}}
	h := marketdata.NewHandler(updates, zap.NewNop(), m)

	h.HandleMessage(parseRaw(t, "35=X|268=2|279=1|269=0|55=EURUSD|270=1.08500|279=1|269=1|55=GBPUSD|270=1.27000|"))
	assert.Len(t, updates, 0)
	assert.Equal(t, 2, m.dropped["one_sided"])

	h.HandleMessage(parseRaw(t, "35=X|268=4|279=1|269=0|55=EURUSD|270=1.1|279=1|269=1|270=1.2|279=1|269=0|55=GBPUSD|270=1.3|279=1|269=1|270=1.4|"))
	require.Len(t, updates, 2)
	assert.Equal(t, 2, m.parsed)
	assert.Equal(t, "EURUSD", (<-updates).Symbol)
	gbp := <-updates
	assert.Equal(t, "GBPUSD", gbp.Symbol)
	assert.Equal(t, 1.3, gbp.Bid)
	assert.Equal(t, 1.4, gbp.Ask)

	h.HandleMessage(parseRaw(t, "35=X|268=1|279=1|269=0|270=1.1|"))
	assert.Zero(t, m.dropped["missing_symbol"])
}
