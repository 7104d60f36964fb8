// Package fix implements the subset of the FIX 4.3 tag=value wire format used by the
// market-data feed: frame extraction, checksum verification, parsing and encoding.
package fix

const (
	SOH = byte(0x01)

	BeginString = "FIX.4.3"
	TimeFormat  = "20060102-15:04:05.000"
)

// Session and header tags.
const (
	TagAccount          = 1
	TagBeginSeqNo       = 7
	TagBeginString      = 8
	TagBodyLength       = 9
	TagCheckSum         = 10
	TagEndSeqNo         = 16
	TagMsgSeqNum        = 34
	TagMsgType          = 35
	TagNewSeqNo         = 36
	TagRefSeqNum        = 45
	TagSenderCompID     = 49
	TagSendingTime      = 52
	TagSymbol           = 55
	TagTargetCompID     = 56
	TagText             = 58
	TagEncryptMethod    = 98
	TagHeartBtInt       = 108
	TagTestReqID        = 112
	TagGapFillFlag      = 123
	TagResetSeqNumFlag  = 141
	TagSessionRejReason = 373
	TagUsername         = 553
	TagPassword         = 554
)

// Market data tags.
const (
	TagNoRelatedSym            = 146
	TagMDReqID                 = 262
	TagSubscriptionRequestType = 263
	TagMarketDepth             = 264
	TagMDUpdateType            = 265
	TagNoMDEntryTypes          = 267
	TagNoMDEntries             = 268
	TagMDEntryType             = 269
	TagMDEntryPx               = 270
	TagMDEntrySize             = 271
	TagMDUpdateAction          = 279
	TagMDReqRejReason          = 281
)

// Message types.
const (
	MsgTypeHeartbeat             = "0"
	MsgTypeTestRequest           = "1"
	MsgTypeResendRequest         = "2"
	MsgTypeReject                = "3"
	MsgTypeSequenceReset         = "4"
	MsgTypeLogout                = "5"
	MsgTypeLogon                 = "A"
	MsgTypeMarketDataRequest     = "V"
	MsgTypeMarketDataSnapshot    = "W"
	MsgTypeMarketDataIncremental = "X"
	MsgTypeMarketDataReject      = "Y"
)

// MDEntryType values.
const (
	MDEntryTypeBid   = "0"
	MDEntryTypeOffer = "1"
	MDEntryTypeTrade = "2"
	MDEntryTypeHigh  = "7"
	MDEntryTypeLow   = "8"
)

const (
	SubscriptionSnapshotPlusUpdates = "1"
	MarketDepthTopOfBook            = "1"
	MDUpdateTypeFullRefresh         = "0"
	EncryptMethodNone               = "0"
)

// IsAdmin reports whether msgType belongs to the session layer.
func IsAdmin(msgType string) bool {
	switch msgType {
	case MsgTypeHeartbeat, MsgTypeTestRequest, MsgTypeResendRequest, MsgTypeReject,
		MsgTypeSequenceReset, MsgTypeLogout, MsgTypeLogon:
		return true
	}
	return false
}
