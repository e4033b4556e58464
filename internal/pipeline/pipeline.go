// Package pipeline runs one full refresh of the sales fact set: read the
// source, build facts, swap them into the store, snapshot and publish them,
// validate, and point the manifest at the new run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"salesfact/internal/fact"
	"salesfact/internal/manifest"
	"salesfact/internal/metrics"
	"salesfact/internal/model"
	"salesfact/internal/publish"
	"salesfact/internal/snapshot"
	"salesfact/internal/source"
	"salesfact/internal/state"
	"salesfact/internal/validate"
)

// TxPublisher publishes a whole fact set atomically.
type TxPublisher interface {
	PublishAll(ctx context.Context, runID string, facts []model.FactSalesRecord) error
}

// Options wires a Runner. Reader and Store are required; every other
// collaborator is skipped when nil.
type Options struct {
	Reader    source.Reader
	Store     state.Store
	Snapshots snapshot.Snapshotter
	Facts     publish.Writer
	Tx        TxPublisher
	Reports   publish.ReportWriter
	Manifest  manifest.Publisher
	Metrics   *metrics.Registry
	Log       *zap.Logger

	// NewRunID defaults to a random UUID.
	NewRunID func() string
}

type Runner struct {
	opts Options
}

type RunResult struct {
	RunID    string
	Stats    fact.Stats
	Report   validate.Report
	Duration time.Duration
}

func New(opts Options) (*Runner, error) {
	if opts.Reader == nil {
		return nil, errors.New("pipeline: source reader is required")
	}
	if opts.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	return &Runner{opts: opts}, nil
}

// Run performs one full refresh. A source that cannot be read fails the run
// before anything is written. Failing validation checks do not fail the run;
// they are returned in RunResult.Report.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	start := time.Now()
	runID := r.opts.NewRunID()
	log := r.opts.Log.With(zap.String("run_id", runID))
	res := RunResult{RunID: runID}

	res, err := r.run(ctx, log, res)
	res.Duration = time.Since(start)
	r.observe(res, err)
	if err != nil {
		log.Error("run failed", zap.Error(err), zap.Duration("took", res.Duration))
		return res, err
	}
	log.Info("run finished",
		zap.Int("records", res.Stats.Produced),
		zap.Bool("valid", res.Report.Passed()),
		zap.Duration("took", res.Duration))
	return res, nil
}

func (r *Runner) run(ctx context.Context, log *zap.Logger, res RunResult) (RunResult, error) {
	src, err := r.opts.Reader.Read(ctx)
	if err != nil {
		return res, fmt.Errorf("read source: %w", err)
	}
	log.Debug("source read",
		zap.Int("orders", len(src.Orders)),
		zap.Int("line_items", len(src.LineItems)),
		zap.Int("customers", len(src.Customers)),
		zap.Int("exchange_rates", len(src.ExchangeRates)))

	built, err := fact.Build(ctx, src)
	if err != nil {
		return res, fmt.Errorf("build facts: %w", err)
	}
	res.Stats = built.Stats
	log.Info("facts built",
		zap.Int("produced", built.Stats.Produced),
		zap.Int("inactive_only", built.Stats.InactiveOnly),
		zap.Int("no_line_items", built.Stats.NoLineItems),
		zap.Int("unknown_customer", built.Stats.UnknownCustomer),
		zap.Int("rate_fallbacks", built.Stats.RateFallbacks))

	if err := r.opts.Store.Replace(res.RunID, built.Records); err != nil {
		return res, fmt.Errorf("replace fact set: %w", err)
	}
	facts, err := state.All(r.opts.Store)
	if err != nil {
		return res, fmt.Errorf("read back fact set: %w", err)
	}

	if r.opts.Snapshots != nil {
		if err := r.opts.Snapshots.WriteSnapshot(res.RunID, r.opts.Store); err != nil {
			return res, fmt.Errorf("snapshot facts: %w", err)
		}
	}
	if err := r.publishFacts(ctx, res.RunID, facts); err != nil {
		return res, err
	}

	rep := validate.Run(validate.Input{Source: src, Facts: facts})
	rep.RunID = res.RunID
	rep.GeneratedAt = fact.Now()
	res.Report = rep
	for _, f := range rep.Failed() {
		log.Warn("validation check failed",
			zap.Int("test_id", f.TestID),
			zap.String("check", f.Name),
			zap.Int("mismatches", f.Mismatches),
			zap.String("detail", f.Detail))
	}

	if r.opts.Snapshots != nil {
		if err := r.opts.Snapshots.WriteReport(res.RunID, rep); err != nil {
			return res, fmt.Errorf("snapshot report: %w", err)
		}
	}
	if r.opts.Reports != nil {
		if err := r.opts.Reports.PublishReport(ctx, rep); err != nil {
			return res, fmt.Errorf("publish report: %w", err)
		}
	}
	if r.opts.Manifest != nil {
		if err := r.opts.Manifest.PublishLatest(res.RunID, len(facts), rep.Passed()); err != nil {
			return res, fmt.Errorf("publish manifest: %w", err)
		}
	}
	return res, nil
}

func (r *Runner) publishFacts(ctx context.Context, runID string, facts []model.FactSalesRecord) error {
	m := r.opts.Metrics
	if r.opts.Tx != nil {
		start := time.Now()
		if err := r.opts.Tx.PublishAll(ctx, runID, facts); err != nil {
			if m != nil {
				m.TxAborted.Inc()
			}
			return fmt.Errorf("publish fact set: %w", err)
		}
		if m != nil {
			m.TxProduced.Add(float64(len(facts)))
			m.TxLatencySec.Observe(time.Since(start).Seconds())
		}
	}
	if r.opts.Facts != nil {
		for _, f := range facts {
			if err := r.opts.Facts.Append(ctx, publish.Record{RunID: runID, FactSalesRecord: f}); err != nil {
				return fmt.Errorf("append fact %s: %w", f.OrderID, err)
			}
			if m != nil {
				m.RecordsAppended.Inc()
			}
		}
	}
	return nil
}

func (r *Runner) observe(res RunResult, err error) {
	m := r.opts.Metrics
	if m == nil {
		return
	}
	m.RunDurationSec.Observe(res.Duration.Seconds())
	switch {
	case errors.Is(err, source.ErrSourceUnavailable):
		m.Runs.WithLabelValues("source_unavailable").Inc()
		return
	case err != nil:
		m.Runs.WithLabelValues("error").Inc()
		return
	case res.Report.Passed():
		m.Runs.WithLabelValues("success").Inc()
	default:
		m.Runs.WithLabelValues("invalid").Inc()
	}
	s := res.Stats
	m.FactsProduced.Set(float64(s.Produced))
	m.RateFallbacks.Set(float64(s.RateFallbacks))
	m.ExcludedOrders.WithLabelValues(metrics.ReasonInactiveOnly).Set(float64(s.InactiveOnly))
	m.ExcludedOrders.WithLabelValues(metrics.ReasonNoLineItems).Set(float64(s.NoLineItems))
	m.ExcludedOrders.WithLabelValues(metrics.ReasonUnknownCustomer).Set(float64(s.UnknownCustomer))
	for _, f := range res.Report.Failed() {
		m.ValidationFailed.WithLabelValues(f.Name).Inc()
	}
	m.LastSuccessUnix.Set(float64(fact.Now().Unix()))
	m.LastManifestCount.Set(float64(s.Produced))
}

// Every runs fn immediately and then on each tick until ctx is done. Run
// errors are left to fn; Every only stops on cancellation.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}
