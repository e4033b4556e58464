package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	latestFile = "manifest.latest.json"
	// DefaultKey is the compacted-topic key of the latest manifest record.
	DefaultKey = "salesfact-manifest-latest"
)

// ErrNoManifest is returned when nothing has been published yet.
var ErrNoManifest = errors.New("no manifest published")

// Manifest points at the most recent completed run.
type Manifest struct {
	RunID                string `json:"runId"`
	RecordCount          int    `json:"recordCount"`
	Passed               bool   `json:"passed"`
	CreatedAtEpochSecond int64  `json:"createdAt"`
}

// NowUnix is overridable in tests.
var NowUnix = func() int64 { return time.Now().UTC().Unix() }

func newManifest(runID string, recordCount int, passed bool) Manifest {
	return Manifest{RunID: runID, RecordCount: recordCount, Passed: passed, CreatedAtEpochSecond: NowUnix()}
}

type Publisher interface {
	PublishLatest(runID string, recordCount int, passed bool) error
}

// MultiPublisherImpl writes to multiple publishers sequentially.
type MultiPublisherImpl struct {
	pubs []Publisher
}

func MultiPublisher(pubs ...Publisher) Publisher {
	return &MultiPublisherImpl{pubs: pubs}
}

func (m *MultiPublisherImpl) PublishLatest(runID string, recordCount int, passed bool) error {
	for _, p := range m.pubs {
		if err := p.PublishLatest(runID, recordCount, passed); err != nil {
			return err
		}
	}
	return nil
}

type Reader interface {
	ReadLatest() (Manifest, error)
}

type FilesystemManifest struct {
	baseDir string
}

func NewFilesystemManifest(baseDir string) *FilesystemManifest {
	return &FilesystemManifest{baseDir: baseDir}
}

// PublishLatest replaces manifest.latest.json through a temp file and rename.
func (f *FilesystemManifest) PublishLatest(runID string, recordCount int, passed bool) error {
	if err := os.MkdirAll(f.baseDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	b, err := json.MarshalIndent(newManifest(runID, recordCount, passed), "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	tmp, err := os.CreateTemp(f.baseDir, latestFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(f.baseDir, latestFile))
}

func (f *FilesystemManifest) ReadLatest() (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(f.baseDir, latestFile))
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, ErrNoManifest
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}

// SplitBrokers turns a comma-separated bootstrap list into broker addresses.
func SplitBrokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}

// KafkaManifest publishes manifest.latest as a compacted Kafka record.
type KafkaManifest struct {
	writer kafkaMessageWriter
	key    []byte
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaManifest creates a Kafka manifest publisher.
// bootstrap can be comma-separated brokers.
func NewKafkaManifest(bootstrap, topic, key string) *KafkaManifest {
	return &KafkaManifest{writer: &kafka.Writer{
		Addr:         kafka.TCP(SplitBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}, key: []byte(key)}
}

// NewKafkaManifestWith is only for tests to inject a fake writer.
func NewKafkaManifestWith(w kafkaMessageWriter, key string) *KafkaManifest {
	return &KafkaManifest{writer: w, key: []byte(key)}
}

func (k *KafkaManifest) PublishLatest(runID string, recordCount int, passed bool) error {
	b, err := json.Marshal(newManifest(runID, recordCount, passed))
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: k.key, Value: b})
}

type kafkaMessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaReader reads the latest manifest record from a compacted topic. It
// scans partition 0 from the start and keeps the last value for the key
// until the read deadline passes.
type KafkaReader struct {
	open    func() kafkaMessageReader
	key     []byte
	timeout time.Duration
}

func NewKafkaReader(bootstrap, topic, key string) *KafkaReader {
	brokers := SplitBrokers(bootstrap)
	return &KafkaReader{
		open: func() kafkaMessageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:   brokers,
				Topic:     topic,
				Partition: 0,
				MinBytes:  1,
				MaxBytes:  10e6,
			})
		},
		key:     []byte(key),
		timeout: 10 * time.Second,
	}
}

// NewKafkaReaderWith is only for tests to inject a fake reader.
func NewKafkaReaderWith(r kafkaMessageReader, key string, timeout time.Duration) *KafkaReader {
	return &KafkaReader{open: func() kafkaMessageReader { return r }, key: []byte(key), timeout: timeout}
}

func (k *KafkaReader) ReadLatest() (Manifest, error) {
	r := k.open()
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	var (
		last  Manifest
		found bool
	)
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return Manifest{}, fmt.Errorf("read kafka: %w", err)
		}
		if string(m.Key) != string(k.key) {
			continue
		}
		var man Manifest
		if err := json.Unmarshal(m.Value, &man); err != nil {
			return Manifest{}, fmt.Errorf("unmarshal kafka manifest: %w", err)
		}
		last, found = man, true
	}
	if !found {
		return Manifest{}, ErrNoManifest
	}
	return last, nil
}
