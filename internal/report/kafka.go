// Package report publishes per-record enrichment failures to an
// observability channel. The default pipeline behavior logs failures; this
// package adds a Kafka-backed reporter for runs that want failure events on
// a topic.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"enricher/internal/enrich"
	"enricher/internal/record"
)

// MessageWriter defines the subset of the kafka-go writer the reporter
// uses. This allows for easy mocking in unit tests.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// failureEvent is the JSON payload published for one failed row.
type failureEvent struct {
	Row    int               `json:"row"`
	Cause  string            `json:"cause"`
	Fields map[string]string `json:"fields,omitempty"`
}

// KafkaReporter implements enrich.Reporter by writing one message per
// failure, keyed by the row number.
type KafkaReporter struct {
	writer MessageWriter
}

// NewKafkaReporter returns a reporter publishing to the given broker and
// topic. Callers must Close it after the run.
func NewKafkaReporter(broker, topic string) *KafkaReporter {
	return &KafkaReporter{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(broker),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (r *KafkaReporter) Report(ctx context.Context, f enrich.Failure) error {
	event := failureEvent{
		Row:    f.Row,
		Fields: snapshot(f.Record),
	}
	if f.Err != nil {
		event.Cause = f.Err.Error()
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal failure event: %w", err)
	}
	return r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.Itoa(f.Row)),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (r *KafkaReporter) Close() error {
	return r.writer.Close()
}

// snapshot copies the record's present fields for the event payload.
func snapshot(rec *record.Record) map[string]string {
	if rec == nil {
		return nil
	}
	fields := make(map[string]string)
	for _, name := range rec.Columns() {
		if value, ok := rec.Get(name); ok {
			fields[name] = value
		}
	}
	return fields
}
