package testutils

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shubham-shewale/fixquotes/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/fixquotes/pkg/models"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse // Stores decoded JSON messages
	RawBytes []string              // Stores raw bytes
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	// If it's a response, store it
	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

func (m *MockClient) LastMessage() protocol.WSResponse {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return protocol.WSResponse{}
	}
	return m.Messages[len(m.Messages)-1]
}

// Quotes decodes every quote frame received so far.
func (m *MockClient) Quotes() []protocol.QuoteData {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	var out []protocol.QuoteData
	for _, raw := range m.RawBytes {
		var frame struct {
			Type string             `json:"type"`
			Data protocol.QuoteData `json:"data"`
		}
		if json.Unmarshal([]byte(raw), &frame) == nil && frame.Type == protocol.TypeQuote {
			out = append(out, frame.Data)
		}
	}
	return out
}

// MockQuoteStore simulates Redis
type MockQuoteStore struct {
	SubscribedChannels map[string]int // symbol -> count
	Snapshots          map[string]string
	Mu                 sync.Mutex
}

func NewMockStore() *MockQuoteStore {
	return &MockQuoteStore{
		SubscribedChannels: make(map[string]int),
		Snapshots:          make(map[string]string),
	}
}

func (m *MockQuoteStore) Subscriptions(symbol string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.SubscribedChannels[symbol]
}

func (m *MockQuoteStore) GetSnapshots(ctx context.Context, symbols []string) ([]string, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []string
	for _, s := range symbols {
		if snap, ok := m.Snapshots[s]; ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (m *MockQuoteStore) SubscribeToFeed(ctx context.Context, symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[symbol]++
	return nil
}

func (m *MockQuoteStore) UnsubscribeFromFeed(ctx context.Context, symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[symbol]--
	if m.SubscribedChannels[symbol] <= 0 {
		delete(m.SubscribedChannels, symbol)
	}
	return nil
}

func (m *MockQuoteStore) RunPubSub(ctx context.Context, onMessage func(symbol string, payload string)) {
	// No-op for unit tests
	<-ctx.Done()
}

func (m *MockQuoteStore) Close() error { return nil }

// QuotePayload encodes a stored quote the way the processor writes it.
func QuotePayload(symbol string, bid, ask float64, capturedAt time.Time, seq int64) string {
	b, _ := json.Marshal(models.QuoteUpdate{
		Quote: models.Quote{Symbol: symbol, Bid: bid, Ask: ask, Digits: 5, Timestamp: capturedAt.UnixMicro()},
		SeqID: seq,
	})
	return string(b)
}
