package publisher_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/publisher"
	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/testutils"
	"github.com/shubham-shewale/fixquotes/pkg/models"
)

func quote(symbol string) models.Quote {
	return models.NewQuote(symbol, decimal.RequireFromString("1.10000"), decimal.RequireFromString("1.10020"), 5, time.Unix(0, 0))
}

func TestQuotePublisher_SequencePerSymbol(t *testing.T) {
	mockWriter := &testutils.MockKafkaWriter{}
	p := publisher.NewQuotePublisher(zap.NewNop(), mockWriter)

	for _, sym := range []string{"EURUSD", "eurusd", "GBPUSD"} {
		if err := p.Publish(context.Background(), quote(sym)); err != nil {
			t.Fatalf("Publish(%s): %v", sym, err)
		}
	}

	mockWriter.Mu.Lock()
	defer mockWriter.Mu.Unlock()

	if len(mockWriter.Messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(mockWriter.Messages))
	}

	want := []struct {
		key string
		seq int64
	}{{"EURUSD", 1}, {"EURUSD", 2}, {"GBPUSD", 1}}

	for i, msg := range mockWriter.Messages {
		var update models.QuoteUpdate
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			t.Fatalf("Published invalid JSON: %v", err)
		}
		if string(msg.Key) != want[i].key {
			t.Errorf("message %d: expected key %s, got %s", i, want[i].key, msg.Key)
		}
		if update.SeqID != want[i].seq {
			t.Errorf("message %d: expected SeqID %d, got %d", i, want[i].seq, update.SeqID)
		}
		if update.Spread != 20 {
			t.Errorf("message %d: expected spread 20, got %f", i, update.Spread)
		}
	}
}

func TestQuotePublisher_WriteError(t *testing.T) {
	mockWriter := &testutils.MockKafkaWriter{ShouldFail: true}
	p := publisher.NewQuotePublisher(zap.NewNop(), mockWriter)

	if err := p.Publish(context.Background(), quote("EURUSD")); err == nil {
		t.Fatal("Expected write error to surface")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !mockWriter.Closed {
		t.Error("Writer was not closed")
	}
}

func TestTopicCreator_Flow(t *testing.T) {
	mockDialer := &testutils.MockKafkaDialer{}
	mockClock := &testutils.MockClock{}

	tc := publisher.NewTopicCreator(zap.NewNop(), mockDialer, mockClock, 4)

	if err := tc.Ensure(context.Background(), []string{"broker:9092"}, "fix_quotes"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	if mockDialer.ConnSpy == nil {
		t.Fatal("Dialer was never called")
	}
	if len(mockDialer.ConnSpy.CreatedTopics) == 0 || mockDialer.ConnSpy.CreatedTopics[0] != "fix_quotes" {
		t.Errorf("Expected topic 'fix_quotes', got %v", mockDialer.ConnSpy.CreatedTopics)
	}
	if len(mockDialer.Dialed) != 2 || mockDialer.Dialed[1] != "localhost:9092" {
		t.Errorf("Expected broker then controller dial, got %v", mockDialer.Dialed)
	}
}

func TestTopicCreator_Failures(t *testing.T) {
	tc := publisher.NewTopicCreator(zap.NewNop(), &testutils.MockKafkaDialer{Fail: true}, &testutils.MockClock{}, 0)
	if err := tc.Ensure(context.Background(), []string{"broker:9092"}, "fix_quotes"); err == nil {
		t.Error("Expected dial failure")
	}

	dialer := &testutils.MockKafkaDialer{ConnSpy: &testutils.MockKafkaConn{NoPartitions: true}}
	clock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}
	tc = publisher.NewTopicCreator(zap.NewNop(), dialer, clock, 0)
	if err := tc.Ensure(context.Background(), []string{"broker:9092"}, "fix_quotes"); err == nil {
		t.Error("Expected topic readiness timeout")
	}
	if got := clock.CurrentTime.Sub(time.Unix(0, 0)); got != time.Second {
		t.Errorf("Expected 5 polls of 200ms, slept %s", got)
	}
}
