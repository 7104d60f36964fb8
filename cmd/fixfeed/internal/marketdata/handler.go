package marketdata

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/pkg/fix"
	"github.com/shubham-shewale/fixquotes/pkg/models"
)

// Metrics counts what happened to each market-data message.
type Metrics interface {
	QuoteParsed()
	QuoteDropped(reason string)
}

type nopMetrics struct{}

func (nopMetrics) QuoteParsed()        {}
func (nopMetrics) QuoteDropped(string) {}

// Handler decodes market-data messages on the receive goroutine and hands quotes to the
// cache-update step over a channel. It never blocks the receive loop: a full channel
// drops the quote.
type Handler struct {
	updates chan<- models.Quote
	logger  *zap.Logger
	metrics Metrics
	now     func() time.Time
}

func NewHandler(updates chan<- models.Quote, logger *zap.Logger, metrics Metrics) *Handler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Handler{
		updates: updates,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func (h *Handler) HandleMessage(msg *fix.Message) {
	switch msg.MsgType() {
	case fix.MsgTypeMarketDataSnapshot:
		h.handleSnapshot(msg)

	case fix.MsgTypeMarketDataIncremental:
		h.handleIncremental(msg)

	case fix.MsgTypeMarketDataReject:
		h.logger.Warn("Market data request rejected",
			zap.String("md_req_id", msg.Get(fix.TagMDReqID)),
			zap.String("reason", msg.Get(fix.TagMDReqRejReason)),
			zap.String("text", msg.Get(fix.TagText)))

	default:
		h.logger.Debug("Ignoring message", zap.String("msg_type", msg.MsgType()))
	}
}

func (h *Handler) handleSnapshot(msg *fix.Message) {
	q, err := ParseSnapshot(msg, h.now())
	if err != nil {
		h.drop(err)
		return
	}
	h.push(q)
}

// handleIncremental pushes one quote per complete symbol in the refresh. Entries without
// any symbol are not counted as drops.
func (h *Handler) handleIncremental(msg *fix.Message) {
	quotes, errs := ParseIncremental(msg, h.now())
	for _, err := range errs {
		if errors.Is(err, ErrMissingSymbol) {
			continue
		}
		h.drop(err)
	}
	for _, q := range quotes {
		h.push(q)
	}
}

func (h *Handler) drop(err error) {
	reason := "invalid"
	switch {
	case errors.Is(err, ErrOneSided):
		reason = "one_sided"
	case errors.Is(err, ErrMissingSymbol):
		reason = "missing_symbol"
	case errors.Is(err, ErrMultipleSymbols):
		reason = "multiple_symbols"
	}
	h.metrics.QuoteDropped(reason)
	h.logger.Debug("Discarding market data", zap.Error(err))
}

func (h *Handler) push(q models.Quote) {
	select {
	case h.updates <- q:
		h.metrics.QuoteParsed()
	default:
		h.metrics.QuoteDropped("queue_full")
		h.logger.Warn("Quote queue full, dropping update", zap.String("symbol", q.Symbol))
	}
}
