// Package metrics exposes the feed's Prometheus series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/session"
)

var (
	framesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixfeed_frames_received_total",
			Help: "Valid FIX frames received, by message type",
		},
		[]string{"msg_type"},
	)

	framesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixfeed_frames_dropped_total",
			Help: "Inbound frames discarded before dispatch, by reason",
		},
		[]string{"reason"},
	)

	quotesParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixfeed_quotes_parsed_total",
			Help: "Market data messages decoded into a two-sided quote",
		},
	)

	quotesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixfeed_quotes_dropped_total",
			Help: "Market data updates discarded, by reason",
		},
		[]string{"reason"},
	)

	quotesApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixfeed_quotes_applied_total",
			Help: "Quotes written to the cache",
		},
	)

	quotesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixfeed_quotes_published_total",
			Help: "Quotes handed to the downstream sink, by result",
		},
		[]string{"result"},
	)

	reconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixfeed_reconnect_attempts_total",
			Help: "Reconnect attempts by result",
		},
		[]string{"result"},
	)

	sessionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fixfeed_session_state",
			Help: "Current session state (0 disconnected, 1 connecting, 2 awaiting logon ack, 3 active, 4 logging out)",
		},
	)
)

// Recorder feeds the package series. It satisfies the metrics hooks of session,
// marketdata, supervisor and the engine.
type Recorder struct{}

func (Recorder) FrameReceived(msgType string) { framesReceived.WithLabelValues(msgType).Inc() }
func (Recorder) FrameDropped(reason string)   { framesDropped.WithLabelValues(reason).Inc() }
func (Recorder) StateChanged(s session.State) { sessionState.Set(float64(s)) }

func (Recorder) QuoteParsed()               { quotesParsed.Inc() }
func (Recorder) QuoteDropped(reason string) { quotesDropped.WithLabelValues(reason).Inc() }
func (Recorder) QuoteApplied()              { quotesApplied.Inc() }

func (Recorder) QuotePublished(err error) {
	if err != nil {
		quotesPublished.WithLabelValues("failure").Inc()
		return
	}
	quotesPublished.WithLabelValues("success").Inc()
}

func (Recorder) ReconnectAttempt(result string) { reconnectAttempts.WithLabelValues(result).Inc() }

// Source is what the live gauges read from.
type Source interface {
	IsConnected() bool
	CachedSymbols() int
}

// RegisterGauges adds gauges that are evaluated at scrape time.
func RegisterGauges(reg prometheus.Registerer, src Source) error {
	connected := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "fixfeed_connected",
			Help: "1 while the FIX session is logged on",
		},
		func() float64 {
			if src.IsConnected() {
				return 1
			}
			return 0
		},
	)
	cached := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "fixfeed_cached_symbols",
			Help: "Symbols currently held in the quote cache",
		},
		func() float64 { return float64(src.CachedSymbols()) },
	)

	for _, c := range []prometheus.Collector{connected, cached} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
