// Package ingest holds the engine's inbound boundary adapters: the Kafka
// consumer fed by the document pipeline and the websocket hub pushing
// realtime snapshots to dashboards.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/docuflow/statsengine/pkg/stats"
)

// ResultEvent is the pipeline's "document finished processing" message.
// The broker delivers at least once; redelivery double-counts by contract
// and is corrected by the reconciliation sweep, not deduplicated here.
type ResultEvent struct {
	DocumentID            string               `json:"documentId"`
	Scope                 stats.ScopeKey       `json:"scope"`
	Category              stats.ResultCategory `json:"category"`
	ProcessingTimeSeconds float64              `json:"processingTimeSeconds"`
}

// ResultRecorder is the slice of the recorder the consumer needs.
type ResultRecorder interface {
	RecordResult(ctx context.Context, scope stats.ScopeKey, category stats.ResultCategory, processingTimeSeconds float64) error
}

// Consumer reads result events from the pipeline topic and drives the
// recorder.
type Consumer struct {
	reader   *kafka.Reader
	recorder ResultRecorder
	log      *slog.Logger
}

// NewConsumer creates a consumer for the given brokers and topic.
func NewConsumer(brokers []string, topic, groupID string, recorder ResultRecorder) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		recorder: recorder,
		log:      slog.Default(),
	}
}

// SetLogger replaces the logger.
func (c *Consumer) SetLogger(l *slog.Logger) { c.log = l }

// Run consumes until ctx is cancelled. Malformed messages and recording
// failures are logged and skipped; a failed event's contribution surfaces
// as a transient undercount until the next reconciliation pass.
func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka read error", "error", err)
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var event ResultEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.log.Warn("malformed result event", "offset", msg.Offset, "error", err)
		return
	}
	if err := c.recorder.RecordResult(ctx, event.Scope, event.Category, event.ProcessingTimeSeconds); err != nil {
		c.log.Warn("record result failed",
			"documentId", event.DocumentID, "scope", event.Scope, "error", err)
	}
}

// Close stops the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
