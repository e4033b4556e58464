package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"salesfact/internal/model"
	"salesfact/internal/state"
	"salesfact/internal/validate"
)

const (
	factsFile  = "facts.json"
	reportFile = "report.json"
)

// ErrNotFound is returned when a run has no snapshot on disk.
var ErrNotFound = errors.New("snapshot not found")

type Snapshotter interface {
	WriteSnapshot(runID string, st state.Store) error
	WriteReport(runID string, rep validate.Report) error
}

// FilesystemSnapshotter keeps one directory per run under baseDir. Files are
// written to a temp name and renamed, so a reader never sees half a file.
type FilesystemSnapshotter struct {
	baseDir string
}

func NewFilesystemSnapshotter(baseDir string) *FilesystemSnapshotter {
	return &FilesystemSnapshotter{baseDir: baseDir}
}

func (f *FilesystemSnapshotter) Dir(runID string) string { return filepath.Join(f.baseDir, runID) }

func (f *FilesystemSnapshotter) WriteSnapshot(runID string, st state.Store) error {
	facts, err := state.All(st)
	if err != nil {
		return err
	}
	if facts == nil {
		facts = []model.FactSalesRecord{}
	}
	return f.writeJSON(runID, factsFile, facts)
}

func (f *FilesystemSnapshotter) WriteReport(runID string, rep validate.Report) error {
	return f.writeJSON(runID, reportFile, rep)
}

// ReadFacts loads the fact set written for runID.
func (f *FilesystemSnapshotter) ReadFacts(runID string) ([]model.FactSalesRecord, error) {
	var facts []model.FactSalesRecord
	if err := f.readJSON(runID, factsFile, &facts); err != nil {
		return nil, err
	}
	return facts, nil
}

func (f *FilesystemSnapshotter) ReadReport(runID string) (validate.Report, error) {
	var rep validate.Report
	err := f.readJSON(runID, reportFile, &rep)
	return rep, err
}

func (f *FilesystemSnapshotter) writeJSON(runID, name string, v any) error {
	dir := f.Dir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (f *FilesystemSnapshotter) readJSON(runID, name string, v any) error {
	b, err := os.ReadFile(filepath.Join(f.Dir(runID), name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, runID, name)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
