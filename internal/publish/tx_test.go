package publish

import (
	"context"
	"errors"
	"testing"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"salesfact/internal/model"
)

type fakeTxProducer struct {
	initErr    error
	produceErr error
	unflushed  int
	commitErr  error

	begun, committed, aborted, closed int
	pending, visible                  []*ck.Message
}

func (f *fakeTxProducer) InitTransactions(context.Context) error { return f.initErr }
func (f *fakeTxProducer) BeginTransaction() error {
	f.begun++
	f.pending = nil
	return nil
}
func (f *fakeTxProducer) Produce(msg *ck.Message, _ chan ck.Event) error {
	if f.produceErr != nil && len(f.pending) == 1 {
		return f.produceErr
	}
	f.pending = append(f.pending, msg)
	return nil
}
func (f *fakeTxProducer) Flush(int) int { return f.unflushed }
func (f *fakeTxProducer) CommitTransaction(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed++
	f.visible = append(f.visible, f.pending...)
	f.pending = nil
	return nil
}
func (f *fakeTxProducer) AbortTransaction(context.Context) error {
	f.aborted++
	f.pending = nil
	return nil
}
func (f *fakeTxProducer) Close() { f.closed++ }

func facts(ids ...string) []model.FactSalesRecord {
	out := make([]model.FactSalesRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, record("", id).FactSalesRecord)
	}
	return out
}

func TestTxPublisher_CommitsWholeSet(t *testing.T) {
	fp := &fakeTxProducer{}
	tp, err := newTxPublisher(fp, "fact_sales")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := tp.PublishAll(context.Background(), "run-1", facts("A", "B", "C")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fp.committed != 1 || fp.aborted != 0 || len(fp.visible) != 3 {
		t.Fatalf("committed=%d aborted=%d visible=%d", fp.committed, fp.aborted, len(fp.visible))
	}
	m := fp.visible[1]
	// keyed by order_id and left to the partitioner; readers scan every partition
	if m.TopicPartition.Partition != ck.PartitionAny {
		t.Fatalf("partition=%d, want PartitionAny", m.TopicPartition.Partition)
	}
	if string(m.Key) != "B" || *m.TopicPartition.Topic != "fact_sales" || string(m.Headers[0].Value) != "run-1" {
		t.Fatalf("bad message: %+v", m)
	}
}

func TestTxPublisher_FailuresAbortAndPublishNothing(t *testing.T) {
	tests := []struct {
		name string
		fp   *fakeTxProducer
	}{
		{"produce", &fakeTxProducer{produceErr: errors.New("queue full")}},
		{"flush", &fakeTxProducer{unflushed: 2}},
		{"commit", &fakeTxProducer{commitErr: errors.New("fenced")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, err := newTxPublisher(tt.fp, "fact_sales")
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			if err := tp.PublishAll(context.Background(), "run-1", facts("A", "B", "C")); err == nil {
				t.Fatalf("expected error")
			}
			if tt.fp.aborted != 1 || len(tt.fp.visible) != 0 {
				t.Fatalf("aborted=%d visible=%d", tt.fp.aborted, len(tt.fp.visible))
			}
		})
	}
}

func TestTxPublisher_CancelledContextAborts(t *testing.T) {
	fp := &fakeTxProducer{}
	tp, _ := newTxPublisher(fp, "fact_sales")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tp.PublishAll(ctx, "run-1", facts("A"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if fp.aborted != 1 || fp.committed != 0 {
		t.Fatalf("aborted=%d committed=%d", fp.aborted, fp.committed)
	}
}

func TestNewTxPublisher_InitFailureClosesProducer(t *testing.T) {
	fp := &fakeTxProducer{initErr: errors.New("no broker")}
	if _, err := newTxPublisher(fp, "fact_sales"); err == nil {
		t.Fatalf("expected error")
	}
	if fp.closed != 1 {
		t.Fatalf("producer not closed")
	}
}
