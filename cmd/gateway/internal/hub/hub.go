// Package hub fans quote updates out to websocket clients and keeps one upstream Redis
// subscription per symbol for as long as any client watches it.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/fixquotes/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/fixquotes/pkg/models"
	"github.com/shubham-shewale/fixquotes/pkg/symbols"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

type Config struct {
	// Symbols clients may watch. Suffixed names are accepted and watched as their base.
	Symbols  []string
	Suffixes []string
	// MaxQuoteAge marks outbound quotes stale; zero disables the flag.
	MaxQuoteAge time.Duration
	Now         func() time.Time
}

type Hub struct {
	subscribers map[string]map[ClientInterface]bool
	clientSubs  map[ClientInterface]map[string]bool
	refCount    map[string]int
	mu          sync.RWMutex

	store   repository.QuoteStore
	logger  *zap.Logger
	aliases symbols.Aliases
	valid   map[string]bool
	maxAge  time.Duration
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(store repository.QuoteStore, cfg Config, logger *zap.Logger) *Hub {
	aliases := symbols.NewAliases(cfg.Suffixes)
	valid := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		valid[aliases.Base(s)] = true
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		subscribers: make(map[string]map[ClientInterface]bool),
		clientSubs:  make(map[ClientInterface]map[string]bool),
		refCount:    make(map[string]int),
		store:       store,
		logger:      logger,
		aliases:     aliases,
		valid:       valid,
		maxAge:      cfg.MaxQuoteAge,
		now:         now,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		h.store.RunPubSub(ctx, h.Broadcast)
	}()

	return h
}

// Shutdown stops the pub/sub loop and releases the store.
func (h *Hub) Shutdown() error {
	h.cancel()
	err := h.store.Close()
	<-h.done
	return err
}

// Normalize maps a client-supplied symbol onto the name the hub tracks it by.
func (h *Hub) Normalize(symbol string) string { return h.aliases.Base(symbol) }

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest) {
	for i, s := range req.Payload.Symbols {
		req.Payload.Symbols[i] = h.Normalize(s)
	}

	switch req.Action {
	case protocol.ActionSubscribe:
		h.handleSubscribe(client, req)
	case protocol.ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	case protocol.ActionUnsubscribeAll:
		h.handleUnsubscribeAll(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) handleSubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var accepted []string
	seen := make(map[string]bool)
	for _, s := range req.Payload.Symbols {
		if !h.valid[s] || seen[s] {
			continue
		}
		seen[s] = true
		// Idempotency: Ignore if already subscribed
		if h.clientSubs[client][s] {
			continue
		}
		accepted = append(accepted, s)
	}

	if len(accepted) == 0 {
		h.sendError(client, req.ID, "No valid/new symbols provided")
		return
	}

	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}

	for _, sym := range accepted {
		h.clientSubs[client][sym] = true
		if h.subscribers[sym] == nil {
			h.subscribers[sym] = make(map[ClientInterface]bool)
		}
		h.subscribers[sym][client] = true

		h.refCount[sym]++
		if h.refCount[sym] == 1 {
			if err := h.store.SubscribeToFeed(context.Background(), sym); err != nil {
				h.logger.Error("Failed to subscribe upstream", zap.String("symbol", sym), zap.Error(err))
			}
		}
	}

	h.sendAck(client, req.ID, "success", fmt.Sprintf("Subscribed to %v", accepted))

	// Snapshots go out after the ack and outside the lock.
	go h.sendSnapshots(client, accepted)
}

func (h *Hub) sendSnapshots(client ClientInterface, targets []string) {
	snapshots, err := h.store.GetSnapshots(context.Background(), targets)
	if err != nil {
		h.logger.Warn("Snapshot fetch failed", zap.String("client", client.ID()), zap.Error(err))
		return
	}
	for _, snap := range snapshots {
		if frame, ok := h.quoteFrame(snap); ok {
			client.SendBytes(frame)
		}
	}
}

func (h *Hub) handleUnsubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, sym := range req.Payload.Symbols {
			if subs[sym] {
				delete(subs, sym)
				delete(h.subscribers[sym], client)
				removed = append(removed, sym)
				h.decreaseRefCount(sym)
			}
		}
	}

	if len(removed) > 0 {
		h.sendAck(client, req.ID, "success", fmt.Sprintf("Unsubscribed from %v", removed))
	} else {
		h.sendError(client, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Symbols))
	}
}

func (h *Hub) handleUnsubscribeAll(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for sym := range subs {
			delete(h.subscribers[sym], client)
			h.decreaseRefCount(sym)
		}
		// Clear the map but keep the client registered
		h.clientSubs[client] = make(map[string]bool)
	}
	h.sendAck(client, req.ID, "success", "Unsubscribed from all symbols")
}

func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for sym := range subs {
			delete(h.subscribers[sym], client)
			h.decreaseRefCount(sym)
		}
		delete(h.clientSubs, client)
	}
	client.Close()
}

// Watchers reports how many clients currently watch symbol.
func (h *Hub) Watchers(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[h.Normalize(symbol)])
}

func (h *Hub) Broadcast(symbol string, payload string) {
	frame, ok := h.quoteFrame(payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.subscribers[h.Normalize(symbol)] {
		client.SendBytes(frame)
	}
}

// quoteFrame wraps a stored quote in the client envelope and stamps the stale flag.
func (h *Hub) quoteFrame(payload string) ([]byte, bool) {
	var update models.QuoteUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		h.logger.Warn("Malformed quote payload", zap.Error(err))
		return nil, false
	}

	data := protocol.QuoteData{QuoteUpdate: update}
	if h.maxAge > 0 {
		data.Stale = update.Age(h.now()) > h.maxAge
	}

	frame, err := json.Marshal(protocol.WSResponse{Type: protocol.TypeQuote, Data: data})
	if err != nil {
		h.logger.Error("Quote encode failed", zap.Error(err))
		return nil, false
	}
	return frame, true
}

func (h *Hub) decreaseRefCount(symbol string) {
	h.refCount[symbol]--
	if h.refCount[symbol] <= 0 {
		if err := h.store.UnsubscribeFromFeed(context.Background(), symbol); err != nil {
			h.logger.Error("Failed to unsubscribe upstream", zap.String("symbol", symbol), zap.Error(err))
		}
		delete(h.refCount, symbol)
		delete(h.subscribers, symbol)
	}
}

func (h *Hub) sendAck(c ClientInterface, id, status, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeAck, ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, ID: id, Status: "error", Message: msg})
}
