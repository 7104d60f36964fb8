// Package marketdata builds MarketDataRequests and turns snapshot messages into quotes.
package marketdata

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/pkg/fix"
	"github.com/shubham-shewale/fixquotes/pkg/symbols"
)

// Sender is the slice of a session the subscriber writes through.
type Sender interface {
	Send(msgType string, fields ...fix.Field) error
}

// BuildRequest lays out a top-of-book snapshot+updates request for one symbol. Some
// gateways are strict about field order: request id, account, flags, entry types, instrument.
func BuildRequest(reqID, symbol, account string) []fix.Field {
	fields := make([]fix.Field, 0, 10)
	fields = append(fields, fix.F(fix.TagMDReqID, reqID))
	if account != "" {
		fields = append(fields, fix.F(fix.TagAccount, account))
	}
	return append(fields,
		fix.F(fix.TagSubscriptionRequestType, fix.SubscriptionSnapshotPlusUpdates),
		fix.F(fix.TagMarketDepth, fix.MarketDepthTopOfBook),
		fix.F(fix.TagMDUpdateType, fix.MDUpdateTypeFullRefresh),
		fix.F(fix.TagNoMDEntryTypes, "2"),
		fix.F(fix.TagMDEntryType, fix.MDEntryTypeBid),
		fix.F(fix.TagMDEntryType, fix.MDEntryTypeOffer),
		fix.F(fix.TagNoRelatedSym, "1"),
		fix.F(fix.TagSymbol, symbol),
	)
}

type Subscriber struct {
	logger *zap.Logger
	newID  func() string
}

func NewSubscriber(logger *zap.Logger) *Subscriber {
	return &Subscriber{logger: logger, newID: uuid.NewString}
}

// RequestSubscription sends one MarketDataRequest per symbol. It stops at the first failed
// send since the session is gone by then.
func (s *Subscriber) RequestSubscription(sender Sender, list []string, account string) error {
	for _, sym := range list {
		sym = symbols.Normalize(sym)
		if sym == "" {
			continue
		}
		reqID := s.newID()
		if err := sender.Send(fix.MsgTypeMarketDataRequest, BuildRequest(reqID, sym, account)...); err != nil {
			return fmt.Errorf("marketdata: subscribe %s: %w", sym, err)
		}
		s.logger.Debug("Subscribed", zap.String("symbol", sym), zap.String("md_req_id", reqID))
	}
	s.logger.Info("Market data requested", zap.Int("symbols", len(list)))
	return nil
}
