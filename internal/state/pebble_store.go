package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"salesfact/internal/model"
)

var currentKey = []byte("meta/current")

// PebbleStore implements Store on PebbleDB. Each run writes its records under
// fact/<runID>/; a single batch writes the new generation, moves meta/current
// and drops the previous generation, so the swap is atomic. Reads go through a
// pebble snapshot to stay on one generation.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:             64 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    4,
		L0StopWritesThreshold:    8,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func generationPrefix(runID string) []byte { return []byte("fact/" + runID + "/") }

func factKey(runID, orderID string) []byte {
	return append(generationPrefix(runID), orderID...)
}

// prefixEnd returns the smallest key greater than every key with the prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}

func encodeFact(rec model.FactSalesRecord) ([]byte, error) { return json.Marshal(rec) }
func decodeFact(val []byte) (model.FactSalesRecord, error) {
	var rec model.FactSalesRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return model.FactSalesRecord{}, err
	}
	return rec, nil
}

type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func readCurrent(r reader) (string, error) {
	v, closer, err := r.Get(currentKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

func (p *PebbleStore) Replace(runID string, facts []model.FactSalesRecord) error {
	if runID == "" {
		return errors.New("pebble replace: empty run id")
	}
	if _, err := newGeneration(runID, facts); err != nil {
		return err
	}
	prev, err := readCurrent(p.db)
	if err != nil {
		return fmt.Errorf("read current generation: %w", err)
	}

	b := p.db.NewBatch()
	defer b.Close()
	if prev != "" {
		start := generationPrefix(prev)
		if err := b.DeleteRange(start, prefixEnd(start), nil); err != nil {
			return fmt.Errorf("drop generation %s: %w", prev, err)
		}
	}
	for _, f := range facts {
		val, err := encodeFact(f)
		if err != nil {
			return fmt.Errorf("encode %s: %w", f.OrderID, err)
		}
		if err := b.Set(factKey(runID, f.OrderID), val, nil); err != nil {
			return err
		}
	}
	if err := b.Set(currentKey, []byte(runID), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit generation %s: %w", runID, err)
	}
	return nil
}

func (p *PebbleStore) Get(orderID string) (model.FactSalesRecord, bool) {
	snap := p.db.NewSnapshot()
	defer snap.Close()
	runID, err := readCurrent(snap)
	if err != nil || runID == "" {
		return model.FactSalesRecord{}, false
	}
	v, closer, err := snap.Get(factKey(runID, orderID))
	if err != nil {
		return model.FactSalesRecord{}, false
	}
	defer closer.Close()
	rec, err := decodeFact(v)
	if err != nil {
		return model.FactSalesRecord{}, false
	}
	return rec, true
}

func (p *PebbleStore) Range(fn func(rec model.FactSalesRecord) error) error {
	snap := p.db.NewSnapshot()
	defer snap.Close()
	runID, err := readCurrent(snap)
	if err != nil {
		return err
	}
	if runID == "" {
		return nil
	}
	prefix := generationPrefix(runID)
	it, err := snap.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		rec, err := decodeFact(append([]byte(nil), it.Value()...))
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return it.Error()
}

// RunID returns "" when the pointer cannot be read; use CurrentRunID to see why.
func (p *PebbleStore) RunID() string {
	runID, err := p.CurrentRunID()
	if err != nil {
		return ""
	}
	return runID
}

func (p *PebbleStore) CurrentRunID() (string, error) {
	runID, err := readCurrent(p.db)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", currentKey, err)
	}
	return runID, nil
}
