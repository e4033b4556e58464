package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"salesfact/internal/config"
	"salesfact/internal/logger"
	"salesfact/internal/manifest"
	"salesfact/internal/metrics"
	"salesfact/internal/pipeline"
	"salesfact/internal/publish"
	"salesfact/internal/snapshot"
	"salesfact/internal/source"
	"salesfact/internal/state"
	"salesfact/internal/validate"
)

// errInvalid makes the process exit non-zero after a run with failed checks.
var errInvalid = errors.New("validation failed")

func main() {
	cfg := readFlags()
	if err := run(cfg); err != nil {
		if errors.Is(err, errInvalid) {
			os.Exit(1)
		}
		log.Fatalf("factload failed: %v", err)
	}
}

func readFlags() *config.Config {
	cfg := config.Load()
	flag.StringVar(&cfg.Source, "source", cfg.Source, "source reader: sqlite|file")
	flag.StringVar(&cfg.SourcePath, "source-path", cfg.SourcePath, "sqlite database or yaml/json fixture")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "fact store: memory|pebble")
	flag.StringVar(&cfg.PebbleDir, "pebble-dir", cfg.PebbleDir, "pebble data directory")
	flag.StringVar(&cfg.SnapshotDir, "snapshot-dir", cfg.SnapshotDir, "per-run snapshot directory")
	flag.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory for facts.jsonl, reports.jsonl and the manifest")
	flag.StringVar(&cfg.Kafka.Bootstrap, "kafka-bootstrap", cfg.Kafka.Bootstrap, "kafka bootstrap servers; empty disables kafka")
	flag.StringVar(&cfg.Kafka.TopicFacts, "topic-facts", cfg.Kafka.TopicFacts, "transactional fact topic")
	flag.StringVar(&cfg.Kafka.TopicReports, "topic-reports", cfg.Kafka.TopicReports, "validation report topic")
	flag.StringVar(&cfg.Kafka.TopicManifest, "topic-manifest", cfg.Kafka.TopicManifest, "compacted manifest topic")
	flag.StringVar(&cfg.Kafka.TxID, "tx-id", cfg.Kafka.TxID, "transactional id for fact publication")
	flag.BoolVar(&cfg.Kafka.Transactional, "kafka-tx", cfg.Kafka.Transactional, "publish each fact set in one kafka transaction")
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "listen address for /metrics and /healthz")
	flag.DurationVar(&cfg.Interval, "interval", cfg.Interval, "re-run period; 0 runs once")
	flag.BoolVar(&cfg.FailOnInvalid, "fail-on-invalid", cfg.FailOnInvalid, "exit 1 when a validation check fails")
	flag.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "debug|info|warn|error")
	flag.Parse()
	return cfg
}

func run(cfg *config.Config) error {
	lg, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer lg.Sync()

	reader, closeReader, err := source.Open(cfg.Source, cfg.SourcePath)
	if err != nil {
		return err
	}
	defer closeReader()

	st, closeStore, err := state.Open(cfg.Store, cfg.PebbleDir)
	if err != nil {
		return err
	}
	defer closeStore()

	factsOut, err := publish.NewFileWriter(cfg.OutputDir, "facts.jsonl")
	if err != nil {
		return fmt.Errorf("init fact log: %w", err)
	}
	reportsOut, err := publish.NewFileWriter(cfg.OutputDir, "reports.jsonl")
	if err != nil {
		return fmt.Errorf("init report log: %w", err)
	}
	facts, tx, closeTx, err := factSinks(cfg.Kafka, factsOut, publish.NewTxPublisher)
	if err != nil {
		return err
	}
	defer closeTx()

	var (
		reports publish.ReportWriter = reportsOut
		mani    manifest.Publisher   = manifest.NewFilesystemManifest(cfg.OutputDir)
	)
	if cfg.Kafka.Enabled() {
		reports = publish.NewMultiReportWriter(reportsOut, publish.NewKafkaWriter(cfg.Kafka.Bootstrap, cfg.Kafka.TopicReports))
		mani = manifest.MultiPublisher(mani, manifest.NewKafkaManifest(cfg.Kafka.Bootstrap, cfg.Kafka.TopicManifest, cfg.Kafka.ManifestKey))
	}

	mreg := metrics.NewRegistry()
	runner, err := pipeline.New(pipeline.Options{
		Reader:    reader,
		Store:     st,
		Snapshots: snapshot.NewFilesystemSnapshotter(cfg.SnapshotDir),
		Facts:     facts,
		Tx:        tx,
		Reports:   reports,
		Manifest:  mani,
		Metrics:   mreg,
		Log:       lg,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Interval <= 0 {
		res, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		return report(cfg, res)
	}

	srv := serve(cfg.HTTPAddr, mreg, st, lg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	lg.Info("periodic refresh started", zap.Duration("interval", cfg.Interval), zap.String("http", cfg.HTTPAddr))
	pipeline.Every(ctx, cfg.Interval, func(ctx context.Context) {
		res, err := runner.Run(ctx)
		if err != nil {
			return
		}
		printTable(os.Stdout, res, lg)
	})
	return nil
}

func printTable(w io.Writer, res pipeline.RunResult, lg *zap.Logger) {
	if err := validate.WriteTable(w, res.Report); err != nil {
		lg.Warn("write validation table", zap.String("run_id", res.RunID), zap.Error(err))
	}
}

type newTxPublisherFunc func(bootstrap, topic, txID string) (*publish.TxPublisher, error)

// factSinks picks where facts go besides the local JSONL log. With Kafka on,
// facts go either through one transaction per run or, without transactions,
// to the topic one record at a time.
func factSinks(k config.KafkaConfig, local publish.Writer, newTx newTxPublisherFunc) (publish.Writer, pipeline.TxPublisher, func(), error) {
	noop := func() {}
	if !k.Enabled() {
		return local, nil, noop, nil
	}
	if !k.Transactional {
		return publish.NewMultiWriter(local, publish.NewKafkaWriter(k.Bootstrap, k.TopicFacts)), nil, noop, nil
	}
	tp, err := newTx(k.Bootstrap, k.TopicFacts, k.TxID)
	if err != nil {
		return nil, nil, noop, fmt.Errorf("init fact publisher: %w", err)
	}
	return local, tp, tp.Close, nil
}

func report(cfg *config.Config, res pipeline.RunResult) error {
	fmt.Printf("run %s: %d records, snapshot %s\n", res.RunID, res.Stats.Produced, filepath.Join(cfg.SnapshotDir, res.RunID))
	if err := validate.WriteTable(os.Stdout, res.Report); err != nil {
		return err
	}
	if cfg.FailOnInvalid && !res.Report.Passed() {
		return errInvalid
	}
	return nil
}

func serve(addr string, mreg *metrics.Registry, st state.Store, lg *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mreg.Handler())
	mux.HandleFunc("/healthz", healthz(st, lg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http server stopped", zap.Error(err))
		}
	}()
	return srv
}

func healthz(st state.Store, lg *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		runID, err := st.CurrentRunID()
		if err != nil {
			lg.Warn("healthz: read current run id", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "degraded", "error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "run_id": runID})
	}
}
