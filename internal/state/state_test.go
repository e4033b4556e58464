package state

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"salesfact/internal/model"
)

func rec(id string) model.FactSalesRecord {
	return model.FactSalesRecord{
		OrderID:           id,
		AmountLocal:       decimal.RequireFromString("12.5"),
		AmountUSD:         decimal.RequireFromString("13.75"),
		CustomerName:      "Acme",
		DistinctItemCount: 2,
		StatusCategory:    "Open",
		LoadTimestamp:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func genSet(prefix string, n int) []model.FactSalesRecord {
	out := make([]model.FactSalesRecord, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, rec(fmt.Sprintf("%s-%03d", prefix, i)))
	}
	return out
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	ps, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("pebble open: %v", err)
	}
	t.Cleanup(func() { _ = ps.Close() })
	return map[string]Store{"memory": NewInMemoryStore(), "pebble": ps}
}

func TestStore_ReplaceGetRange(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if st.RunID() != "" {
				t.Fatalf("fresh store run id=%q", st.RunID())
			}
			if err := st.Replace("run-1", []model.FactSalesRecord{rec("B"), rec("A")}); err != nil {
				t.Fatalf("replace err: %v", err)
			}
			if st.RunID() != "run-1" {
				t.Fatalf("run id=%q", st.RunID())
			}
			if cur, err := st.CurrentRunID(); err != nil || cur != "run-1" {
				t.Fatalf("current run id=%q err=%v", cur, err)
			}
			got, ok := st.Get("A")
			if !ok {
				t.Fatalf("missing A")
			}
			if !got.AmountUSD.Equal(decimal.RequireFromString("13.75")) || got.CustomerName != "Acme" || !got.LoadTimestamp.Equal(rec("A").LoadTimestamp) {
				t.Fatalf("bad A: %+v", got)
			}
			all, err := All(st)
			if err != nil {
				t.Fatalf("range err: %v", err)
			}
			if len(all) != 2 || all[0].OrderID != "A" || all[1].OrderID != "B" {
				t.Fatalf("range order: %+v", all)
			}
		})
	}
}

func TestStore_ReplaceDropsPreviousSet(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.Replace("run-1", []model.FactSalesRecord{rec("A"), rec("B")}); err != nil {
				t.Fatalf("replace err: %v", err)
			}
			if err := st.Replace("run-2", []model.FactSalesRecord{rec("C")}); err != nil {
				t.Fatalf("replace err: %v", err)
			}
			if _, ok := st.Get("A"); ok {
				t.Fatalf("A survived a full refresh")
			}
			all, _ := All(st)
			if len(all) != 1 || all[0].OrderID != "C" {
				t.Fatalf("after refresh: %+v", all)
			}

			// same run id again
			if err := st.Replace("run-2", []model.FactSalesRecord{rec("D")}); err != nil {
				t.Fatalf("replace err: %v", err)
			}
			all, _ = All(st)
			if len(all) != 1 || all[0].OrderID != "D" {
				t.Fatalf("after same-run refresh: %+v", all)
			}

			if err := st.Replace("run-3", nil); err != nil {
				t.Fatalf("replace err: %v", err)
			}
			all, _ = All(st)
			if len(all) != 0 {
				t.Fatalf("empty refresh left %d records", len(all))
			}
		})
	}
}

func TestStore_DuplicateRejectedAndPreviousKept(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.Replace("run-1", []model.FactSalesRecord{rec("A")}); err != nil {
				t.Fatalf("replace err: %v", err)
			}
			err := st.Replace("run-2", []model.FactSalesRecord{rec("X"), rec("X")})
			if !errors.Is(err, ErrDuplicateOrderID) {
				t.Fatalf("want ErrDuplicateOrderID, got %v", err)
			}
			if st.RunID() != "run-1" {
				t.Fatalf("failed replace moved run id to %q", st.RunID())
			}
			if _, ok := st.Get("A"); !ok {
				t.Fatalf("previous set lost after failed replace")
			}
		})
	}
}

func TestStore_RangeCallbackError(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_ = st.Replace("run-1", genSet("o", 3))
			stop := errors.New("stop")
			n := 0
			err := st.Range(func(model.FactSalesRecord) error {
				n++
				return stop
			})
			if !errors.Is(err, stop) || n != 1 {
				t.Fatalf("err=%v n=%d", err, n)
			}
		})
	}
}

// Readers running during refreshes must see exactly one complete generation.
func TestStore_ConcurrentReadersSeeWholeGenerations(t *testing.T) {
	const size = 50
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.Replace("gen-a", genSet("a", size)); err != nil {
				t.Fatalf("replace err: %v", err)
			}
			var wg sync.WaitGroup
			done := make(chan struct{})
			for r := 0; r < 4; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-done:
							return
						default:
						}
						prefixes := map[byte]int{}
						_ = st.Range(func(rec model.FactSalesRecord) error {
							prefixes[rec.OrderID[0]]++
							return nil
						})
						if len(prefixes) != 1 {
							t.Errorf("mixed generations: %v", prefixes)
							return
						}
						for _, n := range prefixes {
							if n != size {
								t.Errorf("partial generation: %d records", n)
								return
							}
						}
					}
				}()
			}
			for i := 0; i < 20; i++ {
				p := "a"
				if i%2 == 0 {
					p = "b"
				}
				if err := st.Replace(fmt.Sprintf("gen-%d", i), genSet(p, size)); err != nil {
					t.Errorf("replace err: %v", err)
				}
			}
			close(done)
			wg.Wait()
		})
	}
}
