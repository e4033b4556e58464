package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"salesfact/internal/manifest"
	"salesfact/internal/model"
	"salesfact/internal/publish"
	"salesfact/internal/state"
)

// FactsReader loads the fact set a run published.
type FactsReader interface {
	ReadFacts(runID string) ([]model.FactSalesRecord, error)
}

type Restorer struct {
	stateStore     state.Store
	facts          FactsReader
	manifestReader manifest.Reader
	log            *zap.Logger
}

func NewRestorer(st state.Store, facts FactsReader, mr manifest.Reader, log *zap.Logger) *Restorer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Restorer{stateStore: st, facts: facts, manifestReader: mr, log: log}
}

type RestoreResult struct {
	Manifest manifest.Manifest
	Loaded   int
}

// Latest loads the set named by the latest manifest into the store.
func (r *Restorer) Latest() (RestoreResult, error) {
	m, err := r.manifestReader.ReadLatest()
	if err != nil {
		return RestoreResult{}, fmt.Errorf("read manifest: %w", err)
	}
	return r.Run(m)
}

// Run loads the fact set of the run m points at and replaces the store with it.
func (r *Restorer) Run(m manifest.Manifest) (RestoreResult, error) {
	facts, err := r.facts.ReadFacts(m.RunID)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("read facts of run %s: %w", m.RunID, err)
	}
	if len(facts) != m.RecordCount {
		return RestoreResult{}, fmt.Errorf("run %s: manifest says %d records, found %d", m.RunID, m.RecordCount, len(facts))
	}
	if err := r.stateStore.Replace(m.RunID, facts); err != nil {
		return RestoreResult{}, fmt.Errorf("replace store: %w", err)
	}
	r.log.Info("restored fact set", zap.String("run_id", m.RunID), zap.Int("records", len(facts)))
	return RestoreResult{Manifest: m, Loaded: len(facts)}, nil
}

type kafkaMessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// TopicFactsReader collects the records of one run from the facts topic,
// reading only committed transactions. Every partition of the topic is
// scanned concurrently until the read deadline passes.
type TopicFactsReader struct {
	partitions func(ctx context.Context) ([]int, error)
	open       func(partition int) kafkaMessageReader
	timeout    time.Duration
}

func NewTopicFactsReader(bootstrap, topic string) *TopicFactsReader {
	brokers := manifest.SplitBrokers(bootstrap)
	return &TopicFactsReader{
		partitions: func(ctx context.Context) ([]int, error) {
			conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
			if err != nil {
				return nil, err
			}
			defer conn.Close()
			parts, err := conn.ReadPartitions(topic)
			if err != nil {
				return nil, err
			}
			ids := make([]int, 0, len(parts))
			for _, p := range parts {
				ids = append(ids, p.ID)
			}
			return ids, nil
		},
		open: func(partition int) kafkaMessageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:        brokers,
				Topic:          topic,
				Partition:      partition,
				MinBytes:       1,
				MaxBytes:       10e6,
				IsolationLevel: kafka.ReadCommitted,
			})
		},
		timeout: 20 * time.Second,
	}
}

// NewTopicFactsReaderWith is only for tests to inject fake readers, one per partition.
func NewTopicFactsReaderWith(readers map[int]kafkaMessageReader, timeout time.Duration) *TopicFactsReader {
	return &TopicFactsReader{
		partitions: func(context.Context) ([]int, error) {
			ids := make([]int, 0, len(readers))
			for id := range readers {
				ids = append(ids, id)
			}
			sort.Ints(ids)
			return ids, nil
		},
		open:    func(partition int) kafkaMessageReader { return readers[partition] },
		timeout: timeout,
	}
}

func (k *TopicFactsReader) ReadFacts(runID string) ([]model.FactSalesRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	ids, err := k.partitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("list partitions: topic has none")
	}

	perPartition := make([][]model.FactSalesRecord, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			recs, err := k.readPartition(gctx, id, runID)
			perPartition[i] = recs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// a key always hashes to one partition, so last wins within it is last wins overall
	byID := make(map[string]model.FactSalesRecord)
	for _, recs := range perPartition {
		for _, r := range recs {
			byID[r.OrderID] = r
		}
	}
	out := make([]model.FactSalesRecord, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (k *TopicFactsReader) readPartition(ctx context.Context, partition int, runID string) ([]model.FactSalesRecord, error) {
	rd := k.open(partition)
	defer rd.Close()

	var out []model.FactSalesRecord
	for {
		m, err := rd.ReadMessage(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return out, nil
			}
			return nil, fmt.Errorf("read kafka partition %d: %w", partition, err)
		}
		var rec publish.Record
		if err := json.Unmarshal(m.Value, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal fact at partition %d offset %d: %w", partition, m.Offset, err)
		}
		if rec.RunID != runID {
			continue
		}
		out = append(out, rec.FactSalesRecord)
	}
}
