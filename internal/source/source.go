// Package source supplies the four raw input collections to the pipeline.
// A reader either returns all four collections or fails the whole read.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"salesfact/internal/model"
)

// ErrSourceUnavailable marks a read where at least one collection could not be supplied.
var ErrSourceUnavailable = errors.New("source unavailable")

const (
	CollectionOrders        = "orders"
	CollectionLineItems     = "order_line_items"
	CollectionCustomers     = "customers"
	CollectionExchangeRates = "exchange_rates"
)

// UnavailableError names the collection that failed. It matches ErrSourceUnavailable.
type UnavailableError struct {
	Collection string
	Err        error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSourceUnavailable, e.Collection, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrSourceUnavailable, e.Err} }

func unavailable(collection string, err error) error {
	return &UnavailableError{Collection: collection, Err: err}
}

type Reader interface {
	Read(ctx context.Context) (model.Source, error)
}

// MemoryReader serves a fixed snapshot.
type MemoryReader struct {
	src model.Source
}

func NewMemoryReader(src model.Source) *MemoryReader {
	return &MemoryReader{src: src}
}

func (m *MemoryReader) Read(ctx context.Context) (model.Source, error) {
	if err := ctx.Err(); err != nil {
		return model.Source{}, err
	}
	return m.src, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	model.DateLayout,
}

// ParseTime accepts RFC3339, SQL-style datetimes and plain dates. Values without
// a zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// FormatTime is the inverse used when writing sources.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Open returns the reader for kind ("sqlite" or "file") and a close func.
func Open(kind, path string) (Reader, func() error, error) {
	switch kind {
	case "sqlite":
		r, err := NewSQLiteReader(path)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case "file":
		return NewFileReader(path), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q (want sqlite|file)", kind)
	}
}
