// Package publisher forwards accepted quotes to Kafka for the processor and gateway.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/pkg/models"
	"github.com/shubham-shewale/fixquotes/pkg/symbols"
)

// NewWriter builds the production writer: batched and async so Publish never waits on
// the broker.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // same symbol, same partition
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
}

// QuotePublisher stamps each quote with a per-symbol sequence id and writes it keyed by
// symbol, so consumers see every symbol in order.
type QuotePublisher struct {
	logger *zap.Logger
	writer KafkaWriter

	mu          sync.Mutex
	seqCounters map[string]int64
}

func NewQuotePublisher(logger *zap.Logger, writer KafkaWriter) *QuotePublisher {
	return &QuotePublisher{
		logger:      logger,
		writer:      writer,
		seqCounters: make(map[string]int64),
	}
}

func (p *QuotePublisher) Publish(ctx context.Context, q models.Quote) error {
	key := symbols.Normalize(q.Symbol)

	p.mu.Lock()
	p.seqCounters[key]++
	seq := p.seqCounters[key]
	p.mu.Unlock()

	payload, err := json.Marshal(models.QuoteUpdate{Quote: q, SeqID: seq})
	if err != nil {
		return fmt.Errorf("publisher: marshal %s: %w", key, err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("publisher: write %s: %w", key, err)
	}

	p.logger.Debug("Quote published", zap.String("symbol", key), zap.Int64("seq_id", seq))
	return nil
}

// Close flushes buffered messages.
func (p *QuotePublisher) Close() error {
	return p.writer.Close()
}
