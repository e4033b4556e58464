package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"salesfact/internal/source"
)

func main() {
	var (
		count  int
		seed   int64
		days   int
		start  string
		output string
	)
	flag.IntVar(&count, "count", 1000, "number of logical orders to generate")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	flag.IntVar(&days, "days", 90, "spread order dates over this many days")
	flag.StringVar(&start, "start", "2024-01-01", "first order date (yyyy-mm-dd)")
	flag.StringVar(&output, "output", "testdb.db", "output: .db/.sqlite for sqlite, .yaml/.yml/.json for a fixture")
	flag.Parse()

	if err := generate(count, seed, days, start, output); err != nil {
		log.Fatalf("generation failed: %v", err)
	}
}

func generate(count int, seed int64, days int, start, output string) error {
	from, err := source.ParseTime(start)
	if err != nil {
		return fmt.Errorf("start date: %w", err)
	}
	src := source.Generate(source.GenerateConfig{Orders: count, Seed: seed, Start: from, Days: days})

	switch strings.ToLower(filepath.Ext(output)) {
	case ".yaml", ".yml", ".json":
		if err := source.WriteFile(output, src); err != nil {
			return err
		}
	default:
		db, err := source.NewSQLiteReader(output)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Seed(context.Background(), src); err != nil {
			return fmt.Errorf("seed sqlite: %w", err)
		}
	}

	log.Printf("generated %d orders (%d revisions, %d line items, %d rates) to %s",
		count, len(src.Orders), len(src.LineItems), len(src.ExchangeRates), output)
	return nil
}
