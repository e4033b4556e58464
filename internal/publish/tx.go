package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"salesfact/internal/model"
)

const flushTimeoutMs = 5000

// txProducer is the subset of *ck.Producer the publisher needs.
type txProducer interface {
	InitTransactions(ctx context.Context) error
	BeginTransaction() error
	Produce(msg *ck.Message, deliveryChan chan ck.Event) error
	Flush(timeoutMs int) int
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	Close()
}

// TxPublisher writes a whole fact set inside one Kafka transaction.
// read_committed consumers see every record of a run or none of them.
type TxPublisher struct {
	p     txProducer
	topic string
}

func NewTxPublisher(bootstrap, topic, txID string) (*TxPublisher, error) {
	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"enable.idempotence": true,
		"acks":               "all",
		"transactional.id":   txID,
	})
	if err != nil {
		return nil, fmt.Errorf("producer: %w", err)
	}
	return newTxPublisher(p, topic)
}

func newTxPublisher(p txProducer, topic string) (*TxPublisher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.InitTransactions(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("init tx: %w", err)
	}
	return &TxPublisher{p: p, topic: topic}, nil
}

func (t *TxPublisher) Close() { t.p.Close() }

// PublishAll produces every fact of runID and commits. Any failure aborts the
// transaction and nothing becomes visible.
func (t *TxPublisher) PublishAll(ctx context.Context, runID string, facts []model.FactSalesRecord) (err error) {
	if err := t.p.BeginTransaction(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = t.p.AbortTransaction(context.WithoutCancel(ctx))
		}
	}()

	for _, f := range facts {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := json.Marshal(Record{RunID: runID, FactSalesRecord: f})
		if err != nil {
			return fmt.Errorf("marshal %s: %w", f.OrderID, err)
		}
		msg := &ck.Message{
			TopicPartition: ck.TopicPartition{Topic: &t.topic, Partition: ck.PartitionAny},
			Key:            []byte(f.OrderID),
			Value:          val,
			Headers:        []ck.Header{{Key: "run_id", Value: []byte(runID)}},
		}
		if err := t.p.Produce(msg, nil); err != nil {
			return fmt.Errorf("produce %s: %w", f.OrderID, err)
		}
	}
	if remaining := t.p.Flush(flushTimeoutMs); remaining > 0 {
		return fmt.Errorf("flush: %d messages still queued", remaining)
	}
	if err := t.p.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
