package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"salesfact/internal/fact"
	"salesfact/internal/manifest"
	"salesfact/internal/metrics"
	"salesfact/internal/model"
	"salesfact/internal/publish"
	"salesfact/internal/snapshot"
	"salesfact/internal/source"
	"salesfact/internal/state"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleSource() model.Source {
	return model.Source{
		Orders: []model.Order{
			{OrderID: "O1", CustomerID: "C1", OrderDate: day(2024, 1, 1), CurrencyCode: "USD", Status: "Open", LastModifiedDate: day(2024, 1, 1), IsActive: true, RevisionID: "1"},
			{OrderID: "O1", CustomerID: "C1", OrderDate: day(2024, 1, 1), CurrencyCode: "USD", Status: "Shipped", LastModifiedDate: day(2024, 2, 1), IsActive: true, RevisionID: "2"},
			{OrderID: "O2", CustomerID: "C1", OrderDate: day(2024, 1, 5), CurrencyCode: "USD", Status: "Completed", LastModifiedDate: day(2024, 1, 5), IsActive: false, RevisionID: "3"},
			{OrderID: "O3", CustomerID: "C2", OrderDate: day(2024, 3, 10), CurrencyCode: "EUR", Status: "Pending", LastModifiedDate: day(2024, 3, 10), IsActive: true, RevisionID: "4"},
			{OrderID: "O5", CustomerID: "C404", OrderDate: day(2024, 3, 12), CurrencyCode: "EUR", Status: "Open", LastModifiedDate: day(2024, 3, 12), IsActive: true, RevisionID: "5"},
		},
		LineItems: []model.OrderLineItem{
			{OrderID: "O1", ItemID: "I1", Quantity: dec("2"), UnitPrice: dec("10.00")},
			{OrderID: "O1", ItemID: "I2", Quantity: dec("1"), UnitPrice: dec("5.00")},
			{OrderID: "O2", ItemID: "I1", Quantity: dec("1"), UnitPrice: dec("3.00")},
			{OrderID: "O3", ItemID: "I3", Quantity: dec("3"), UnitPrice: dec("7.25")},
			{OrderID: "O5", ItemID: "I1", Quantity: dec("1"), UnitPrice: dec("1.00")},
		},
		Customers: []model.Customer{
			{CustomerID: "C1", CustomerName: "Acme"},
			{CustomerID: "C2", CustomerName: "Globex"},
		},
		ExchangeRates: []model.ExchangeRate{
			{CurrencyCode: "EUR", RateDate: day(2024, 3, 10), ExchangeRate: dec("1.1")},
		},
	}
}

type failingReader struct{}

func (failingReader) Read(context.Context) (model.Source, error) {
	return model.Source{}, &source.UnavailableError{Collection: source.CollectionExchangeRates, Err: errors.New("no such table")}
}

// dupStore repeats the first record on Range, as a defective store would.
type dupStore struct{ state.Store }

func (d dupStore) Range(fn func(model.FactSalesRecord) error) error {
	first := true
	return d.Store.Range(func(rec model.FactSalesRecord) error {
		if first {
			first = false
			if err := fn(rec); err != nil {
				return err
			}
		}
		return fn(rec)
	})
}

type fakeTx struct {
	err  error
	runs map[string]int
}

func (f *fakeTx) PublishAll(_ context.Context, runID string, facts []model.FactSalesRecord) error {
	if f.err != nil {
		return f.err
	}
	if f.runs == nil {
		f.runs = map[string]int{}
	}
	f.runs[runID] = len(facts)
	return nil
}

type harness struct {
	dir   string
	store *state.InMemoryStore
	snap  *snapshot.FilesystemSnapshotter
	mani  *manifest.FilesystemManifest
	facts *publish.FileWriter
	reg   *metrics.Registry
	tx    *fakeTx
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	fw, err := publish.NewFileWriter(filepath.Join(dir, "out"), "facts.jsonl")
	require.NoError(t, err)
	return &harness{
		dir:   dir,
		store: state.NewInMemoryStore(),
		snap:  snapshot.NewFilesystemSnapshotter(filepath.Join(dir, "snapshots")),
		mani:  manifest.NewFilesystemManifest(filepath.Join(dir, "out")),
		facts: fw,
		reg:   metrics.NewRegistry(),
		tx:    &fakeTx{},
	}
}

func (h *harness) options(reader source.Reader, runID string) Options {
	return Options{
		Reader:    reader,
		Store:     h.store,
		Snapshots: h.snap,
		Facts:     h.facts,
		Tx:        h.tx,
		Reports:   h.facts,
		Manifest:  h.mani,
		Metrics:   h.reg,
		Log:       zap.NewNop(),
		NewRunID:  func() string { return runID },
	}
}

func fixedNow(t *testing.T) time.Time {
	t.Helper()
	ts := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	prev := fact.Now
	fact.Now = func() time.Time { return ts }
	t.Cleanup(func() { fact.Now = prev })
	return ts
}

func TestNew_RequiresReaderAndStore(t *testing.T) {
	_, err := New(Options{Store: state.NewInMemoryStore()})
	assert.Error(t, err)
	_, err = New(Options{Reader: source.NewMemoryReader(model.Source{})})
	assert.Error(t, err)
}

func TestRun_FullRefresh(t *testing.T) {
	ts := fixedNow(t)
	h := newHarness(t)
	r, err := New(h.options(source.NewMemoryReader(sampleSource()), "run-1"))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 2, res.Stats.Produced)
	assert.Equal(t, 1, res.Stats.UnknownCustomer)
	assert.True(t, res.Report.Passed(), "%+v", res.Report.Failed())
	assert.Equal(t, "run-1", res.Report.RunID)
	assert.True(t, res.Report.GeneratedAt.Equal(ts))

	// store
	assert.Equal(t, "run-1", h.store.RunID())
	o3, ok := h.store.Get("O3")
	require.True(t, ok)
	assert.True(t, o3.AmountUSD.Equal(dec("23.925")), o3.AmountUSD.String())
	assert.Equal(t, "Open", o3.StatusCategory)
	assert.True(t, o3.LoadTimestamp.Equal(ts))

	// snapshot and report
	snapFacts, err := h.snap.ReadFacts("run-1")
	require.NoError(t, err)
	assert.Len(t, snapFacts, 2)
	rep, err := h.snap.ReadReport("run-1")
	require.NoError(t, err)
	assert.Len(t, rep.Results, 8)

	// publication
	assert.Equal(t, 2, h.tx.runs["run-1"])
	body, err := os.ReadFile(h.facts.Path())
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(body), "\n"), "two facts and one report")

	// manifest
	m, err := h.mani.ReadLatest()
	require.NoError(t, err)
	assert.Equal(t, manifest.Manifest{RunID: "run-1", RecordCount: 2, Passed: true, CreatedAtEpochSecond: m.CreatedAtEpochSecond}, m)

	// metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(h.reg.Runs.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.reg.FactsProduced))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.reg.ExcludedOrders.WithLabelValues(metrics.ReasonInactiveOnly)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.reg.RateFallbacks))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.reg.TxProduced))
}

func TestRun_SecondRunReplacesFirst(t *testing.T) {
	fixedNow(t)
	h := newHarness(t)
	r1, _ := New(h.options(source.NewMemoryReader(sampleSource()), "run-1"))
	_, err := r1.Run(context.Background())
	require.NoError(t, err)

	src := sampleSource()
	src.Orders = src.Orders[:2]
	r2, _ := New(h.options(source.NewMemoryReader(src), "run-2"))
	res, err := r2.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Report.Passed())

	all, err := state.All(h.store)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "O1", all[0].OrderID)
	m, _ := h.mani.ReadLatest()
	assert.Equal(t, "run-2", m.RunID)
}

func TestRun_SourceUnavailableWritesNothing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Replace("previous", []model.FactSalesRecord{{OrderID: "OLD", LoadTimestamp: time.Now()}}))
	r, _ := New(h.options(failingReader{}, "run-x"))

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
	var ue *source.UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, source.CollectionExchangeRates, ue.Collection)

	assert.Equal(t, "previous", h.store.RunID())
	_, statErr := os.Stat(filepath.Join(h.dir, "snapshots", "run-x"))
	assert.True(t, os.IsNotExist(statErr))
	_, err = h.mani.ReadLatest()
	assert.ErrorIs(t, err, manifest.ErrNoManifest)
	assert.Empty(t, h.tx.runs)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.reg.Runs.WithLabelValues("source_unavailable")))
}

func TestRun_ValidationFailureIsReportedNotFatal(t *testing.T) {
	fixedNow(t)
	h := newHarness(t)
	opts := h.options(source.NewMemoryReader(sampleSource()), "run-dup")
	opts.Store = dupStore{h.store}
	r, _ := New(opts)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Report.Passed())
	failed := res.Report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 7, failed[0].TestID)

	m, err := h.mani.ReadLatest()
	require.NoError(t, err)
	assert.False(t, m.Passed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.reg.Runs.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.reg.ValidationFailed.WithLabelValues("order_id_unique")))
}

func TestRun_PublishFailureStopsBeforeManifest(t *testing.T) {
	fixedNow(t)
	h := newHarness(t)
	h.tx.err = errors.New("broker down")
	r, _ := New(h.options(source.NewMemoryReader(sampleSource()), "run-1"))

	_, err := r.Run(context.Background())
	require.Error(t, err)
	_, err = h.mani.ReadLatest()
	assert.ErrorIs(t, err, manifest.ErrNoManifest)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.reg.TxAborted))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.reg.Runs.WithLabelValues("error")))
}

func TestRun_MinimalOptions(t *testing.T) {
	r, err := New(Options{Reader: source.NewMemoryReader(sampleSource()), Store: state.NewInMemoryStore()})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.True(t, res.Report.Passed())
}

func TestEvery_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	Every(ctx, time.Millisecond, func(context.Context) {
		calls++
		if calls == 3 {
			cancel()
		}
	})
	assert.Equal(t, 3, calls)

	once := 0
	Every(context.Background(), 0, func(context.Context) { once++ })
	assert.Equal(t, 1, once)
}
