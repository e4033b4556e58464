package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"go.uber.org/zap"

	"salesfact/internal/config"
	"salesfact/internal/logger"
	"salesfact/internal/manifest"
	"salesfact/internal/restore"
	"salesfact/internal/snapshot"
	"salesfact/internal/source"
	"salesfact/internal/state"
	"salesfact/internal/validate"
)

// Config holds CLI flags for validate.
type Config struct {
	*config.Config
	ManifestSource string // file|kafka
	FactsSource    string // snapshot|kafka
	Check          int
}

var errInvalid = errors.New("validation failed")

func main() {
	cfg := readFlags()
	if err := run(cfg); err != nil {
		if errors.Is(err, errInvalid) {
			os.Exit(1)
		}
		log.Fatalf("validate failed: %v", err)
	}
}

func readFlags() Config {
	cfg := Config{Config: config.Load()}
	flag.StringVar(&cfg.Source, "source", cfg.Source, "source reader: sqlite|file")
	flag.StringVar(&cfg.SourcePath, "source-path", cfg.SourcePath, "sqlite database or yaml/json fixture")
	flag.StringVar(&cfg.SnapshotDir, "snapshot-dir", cfg.SnapshotDir, "per-run snapshot directory")
	flag.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory holding manifest.latest.json")
	flag.StringVar(&cfg.Kafka.Bootstrap, "kafka-bootstrap", cfg.Kafka.Bootstrap, "kafka bootstrap servers")
	flag.StringVar(&cfg.Kafka.TopicFacts, "topic-facts", cfg.Kafka.TopicFacts, "transactional fact topic")
	flag.StringVar(&cfg.Kafka.TopicManifest, "topic-manifest", cfg.Kafka.TopicManifest, "compacted manifest topic")
	flag.StringVar(&cfg.ManifestSource, "manifest-source", "file", "manifest source: file|kafka")
	flag.StringVar(&cfg.FactsSource, "facts-source", "snapshot", "fact set source: snapshot|kafka")
	flag.IntVar(&cfg.Check, "check", 0, "run only this check id (0 runs all)")
	flag.Parse()
	return cfg
}

func run(cfg Config) error {
	lg, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer lg.Sync()

	var mReader manifest.Reader = manifest.NewFilesystemManifest(cfg.OutputDir)
	if cfg.ManifestSource == "kafka" {
		mReader = manifest.NewKafkaReader(cfg.Kafka.Bootstrap, cfg.Kafka.TopicManifest, cfg.Kafka.ManifestKey)
	}
	snaps := snapshot.NewFilesystemSnapshotter(cfg.SnapshotDir)
	var facts restore.FactsReader = snaps
	if cfg.FactsSource == "kafka" {
		facts = restore.NewTopicFactsReader(cfg.Kafka.Bootstrap, cfg.Kafka.TopicFacts)
	}

	st := state.NewInMemoryStore()
	res, err := restore.NewRestorer(st, facts, mReader, lg).Latest()
	if err != nil {
		return err
	}

	reader, closeReader, err := source.Open(cfg.Source, cfg.SourcePath)
	if err != nil {
		return err
	}
	defer closeReader()
	src, err := reader.Read(context.Background())
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	restored, err := state.All(st)
	if err != nil {
		return err
	}

	in := validate.Input{Source: src, Facts: restored}
	var rep validate.Report
	if cfg.Check > 0 {
		r, err := validate.RunCheck(cfg.Check, in)
		if err != nil {
			return err
		}
		rep.Results = []validate.Result{r}
	} else {
		rep = validate.Run(in)
	}
	rep.RunID = res.Manifest.RunID

	lg.Info("revalidated published fact set",
		zap.String("run_id", rep.RunID),
		zap.Int("records", res.Loaded),
		zap.Bool("passed_at_publish", res.Manifest.Passed),
		zap.Bool("passed_now", rep.Passed()))
	if err := writePublished(os.Stdout, snaps, rep.RunID); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "revalidated run %s\n", rep.RunID)
	if err := validate.WriteTable(os.Stdout, rep); err != nil {
		return err
	}
	if !rep.Passed() {
		return errInvalid
	}
	return nil
}

// writePublished prints the report stored when runID was published, if the
// snapshot directory still has it.
func writePublished(w io.Writer, snaps *snapshot.FilesystemSnapshotter, runID string) error {
	stored, err := snaps.ReadReport(runID)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read published report: %w", err)
	}
	fmt.Fprintf(w, "report at publish of run %s\n", runID)
	return validate.WriteTable(w, stored)
}
