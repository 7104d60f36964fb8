package protocol

import "github.com/shubham-shewale/fixquotes/pkg/models"

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
)

const (
	TypeAck   = "ack"
	TypeError = "error"
	TypeQuote = "quote"
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type RequestPayload struct {
	Symbols []string `json:"symbols"`
}

type WSResponse struct {
	Type    string      `json:"type"`             // "ack", "error", "quote"
	ID      string      `json:"id,omitempty"`     // Matches request ID
	Status  string      `json:"status,omitempty"` // "success", "error"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// QuoteData is a stored quote as pushed to clients. Stale is set when the capture time is
// older than the gateway's max quote age at send time.
type QuoteData struct {
	models.QuoteUpdate
	Stale bool `json:"stale"`
}
