package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"salesfact/internal/model"
)

// ErrDuplicateOrderID is returned by Replace when a fact set repeats an order_id.
var ErrDuplicateOrderID = errors.New("duplicate order_id in fact set")

// Store holds the materialized fact set. Replace swaps the whole set in one
// step: concurrent readers observe either the previous set or the new one.
type Store interface {
	Replace(runID string, facts []model.FactSalesRecord) error
	Get(orderID string) (model.FactSalesRecord, bool)
	Range(fn func(rec model.FactSalesRecord) error) error
	RunID() string
	// CurrentRunID is RunID with the read error of a durable backend surfaced.
	CurrentRunID() (string, error)
}

type generation struct {
	runID string
	byID  map[string]model.FactSalesRecord
	keys  []string
}

func newGeneration(runID string, facts []model.FactSalesRecord) (*generation, error) {
	g := &generation{runID: runID, byID: make(map[string]model.FactSalesRecord, len(facts))}
	for _, f := range facts {
		if _, dup := g.byID[f.OrderID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOrderID, f.OrderID)
		}
		g.byID[f.OrderID] = f
		g.keys = append(g.keys, f.OrderID)
	}
	sort.Strings(g.keys)
	return g, nil
}

// InMemoryStore keeps the current generation behind a RWMutex. The next
// generation is built before the lock is taken.
type InMemoryStore struct {
	mu  sync.RWMutex
	cur *generation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{cur: &generation{byID: map[string]model.FactSalesRecord{}}}
}

func (s *InMemoryStore) Replace(runID string, facts []model.FactSalesRecord) error {
	next, err := newGeneration(runID, facts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Get(orderID string) (model.FactSalesRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cur.byID[orderID]
	return rec, ok
}

// Range visits records in order_id order. The callback sees one generation
// even if Replace runs meanwhile.
func (s *InMemoryStore) Range(fn func(rec model.FactSalesRecord) error) error {
	s.mu.RLock()
	g := s.cur
	s.mu.RUnlock()
	for _, k := range g.keys {
		if err := fn(g.byID[k]); err != nil {
			return fmt.Errorf("range callback failed: %w", err)
		}
	}
	return nil
}

func (s *InMemoryStore) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.runID
}

func (s *InMemoryStore) CurrentRunID() (string, error) { return s.RunID(), nil }

// All collects the current set, in order_id order.
func All(st Store) ([]model.FactSalesRecord, error) {
	var out []model.FactSalesRecord
	err := st.Range(func(rec model.FactSalesRecord) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Open returns the store for backend ("memory" or "pebble") and a close func.
func Open(backend, dir string) (Store, func() error, error) {
	switch backend {
	case "memory":
		return NewInMemoryStore(), func() error { return nil }, nil
	case "pebble":
		ps, err := NewPebbleStore(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("init pebble: %w", err)
		}
		return ps, ps.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q (want memory|pebble)", backend)
	}
}
