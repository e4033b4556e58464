// Package publish ships fact records and validation reports to downstream
// consumers: JSON-lines files, Kafka topics, and a transactional Kafka
// publisher for the whole fact set.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/segmentio/kafka-go"

	"salesfact/internal/manifest"
	"salesfact/internal/model"
	"salesfact/internal/validate"
)

// Record is one published fact tagged with the run that produced it.
type Record struct {
	RunID string `json:"run_id"`
	model.FactSalesRecord
}

type Writer interface {
	Append(ctx context.Context, rec Record) error
}

type ReportWriter interface {
	PublishReport(ctx context.Context, rep validate.Report) error
}

// MultiWriter fans out writes to multiple underlying writers.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

func (m *MultiWriter) Append(ctx context.Context, rec Record) error {
	for _, w := range m.writers {
		if err := w.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

type MultiReportWriter struct {
	writers []ReportWriter
}

func NewMultiReportWriter(ws ...ReportWriter) *MultiReportWriter {
	return &MultiReportWriter{writers: ws}
}

func (m *MultiReportWriter) PublishReport(ctx context.Context, rep validate.Report) error {
	for _, w := range m.writers {
		if err := w.PublishReport(ctx, rep); err != nil {
			return err
		}
	}
	return nil
}

// FileWriter appends JSON lines to a single file.
type FileWriter struct {
	mu   sync.Mutex
	path string
}

func NewFileWriter(dir string, filename string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileWriter{path: filepath.Join(dir, filename)}, nil
}

func (w *FileWriter) Path() string { return w.path }

func (w *FileWriter) Append(_ context.Context, rec Record) error {
	return w.appendJSON(&rec)
}

func (w *FileWriter) PublishReport(_ context.Context, rep validate.Report) error {
	return w.appendJSON(&rep)
}

func (w *FileWriter) appendJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// KafkaWriter publishes facts keyed by order_id, and reports keyed by run id,
// to one topic. Pure-Go client (segmentio/kafka-go).
type KafkaWriter struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter creates a Kafka writer.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaWriter(bootstrap string, topic string) *KafkaWriter {
	return &KafkaWriter{writer: &kafka.Writer{
		Addr:         kafka.TCP(manifest.SplitBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

// NewKafkaWriterWith is only for tests to inject a fake writer.
func NewKafkaWriterWith(w kafkaMessageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}

func (k *KafkaWriter) Append(ctx context.Context, rec Record) error {
	b, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(rec.OrderID),
		Value:   b,
		Headers: []kafka.Header{{Key: "run_id", Value: []byte(rec.RunID)}},
	})
}

func (k *KafkaWriter) PublishReport(ctx context.Context, rep validate.Report) error {
	b, err := json.Marshal(&rep)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(rep.RunID), Value: b})
}
