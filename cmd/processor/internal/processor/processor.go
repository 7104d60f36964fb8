// Package processor moves quotes from Kafka into the Redis read model: the latest quote per
// symbol under quote:<SYM> plus a PUBLISH on quotes.<SYM> for live subscribers.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/pkg/config"
	"github.com/shubham-shewale/fixquotes/pkg/models"
	"github.com/shubham-shewale/fixquotes/pkg/symbols"
)

const defaultQuoteTTL = time.Hour

type Processor struct {
	logger     Logger
	rdb        RedisClient
	reader     KafkaReader
	aliases    symbols.Aliases
	numWorkers int
	ttl        time.Duration
}

func NewProcessor(cfg *config.Config, logger Logger, rdb RedisClient, reader KafkaReader) *Processor {
	numWorkers := cfg.Processor.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	ttl := cfg.Processor.QuoteTTL
	if ttl <= 0 {
		ttl = defaultQuoteTTL
	}
	return &Processor{
		logger:     logger,
		rdb:        rdb,
		reader:     reader,
		aliases:    symbols.NewAliases(cfg.FIX.SymbolSuffixes),
		numWorkers: numWorkers,
		ttl:        ttl,
	}
}

func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	go func() {
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}

			// Same symbol, same worker: keeps per-symbol order and makes dedupe local.
			workerID := getWorkerID(m.Key, p.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				// Only the latest quote matters; a lagging worker loses intermediate ticks.
				p.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")

	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background() // a shutdown must not cut a pipeline in half

	lastSeq := make(map[string]int64)

	for payload := range msgs {
		var update models.QuoteUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			p.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}

		symbol := symbols.Normalize(update.Symbol)
		if symbol == "" {
			p.logger.Warn("Quote without symbol", zap.Int64("seq_id", update.SeqID))
			continue
		}
		if update.SeqID <= lastSeq[symbol] {
			p.logger.Debug("Skipping duplicate update", zap.String("symbol", symbol), zap.Int64("seq_id", update.SeqID))
			continue
		}

		if err := p.store(ctx, symbol, payload); err != nil {
			p.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("symbol", symbol))
			continue
		}
		p.logger.Debug("Processed", zap.String("symbol", symbol), zap.Int("worker_id", id), zap.Int64("seq_id", update.SeqID))
		lastSeq[symbol] = update.SeqID
	}
}

// store writes the snapshot and the notification in one round trip, under the raw symbol
// and its suffix-stripped alias.
func (p *Processor) store(ctx context.Context, symbol string, payload []byte) error {
	pipe := p.rdb.Pipeline()
	for _, name := range p.aliases.Keys(symbol) {
		pipe.Set(ctx, models.QuoteKey(name), payload, p.ttl)
		pipe.Publish(ctx, models.QuoteChannel(name), payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
