package fact

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"salesfact/internal/model"
)

// Now returns the load timestamp stamped on each record. Split for testability.
var Now = func() time.Time { return time.Now().UTC() }

// Stats counts what happened to each logical order during a build.
type Stats struct {
	// ActiveOrders is the number of distinct order_ids with an active revision.
	ActiveOrders int
	// InactiveOnly counts order_ids that only have inactive revisions.
	InactiveOnly int
	// NoLineItems counts deduplicated orders dropped for lack of line items.
	NoLineItems int
	// UnknownCustomer counts deduplicated orders dropped for a customer lookup miss.
	UnknownCustomer int
	// RateFallbacks counts produced records that used the default exchange rate.
	RateFallbacks int
	Produced      int
}

// Result is the assembled fact set, sorted by order_id.
type Result struct {
	Records []model.FactSalesRecord
	Stats   Stats
}

// Build derives the fact set from a source snapshot. The four lookups are
// independent of each other and are built concurrently.
func Build(ctx context.Context, src model.Source) (Result, error) {
	var (
		latest    map[string]model.Order
		totals    map[string]LineTotals
		customers CustomerIndex
		rates     RateIndex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		latest = Deduplicate(src.Orders)
		return gctx.Err()
	})
	g.Go(func() error {
		totals = AggregateLineItems(src.LineItems)
		return gctx.Err()
	})
	g.Go(func() error {
		customers = NewCustomerIndex(src.Customers)
		return gctx.Err()
	})
	g.Go(func() error {
		rates = NewRateIndex(src.ExchangeRates)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	stats := Stats{ActiveOrders: len(latest), InactiveOnly: countInactiveOnly(src.Orders, latest)}
	records := make([]model.FactSalesRecord, 0, len(latest))
	for orderID, ord := range latest {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		agg, ok := totals[orderID]
		if !ok {
			stats.NoLineItems++
			continue
		}
		name, ok := customers.Lookup(ord.CustomerID)
		if !ok {
			stats.UnknownCustomer++
			continue
		}
		rate, matched := rates.Effective(ord.CurrencyCode, ord.OrderDate)
		if !matched {
			stats.RateFallbacks++
		}
		records = append(records, model.FactSalesRecord{
			OrderID:           orderID,
			AmountLocal:       agg.TotalAmount,
			AmountUSD:         ConvertUSD(agg.TotalAmount, rate),
			CustomerName:      name,
			DistinctItemCount: agg.DistinctItems,
			StatusCategory:    Categorize(ord.Status),
			LoadTimestamp:     Now(),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].OrderID < records[j].OrderID })
	stats.Produced = len(records)
	return Result{Records: records, Stats: stats}, nil
}

func countInactiveOnly(orders []model.Order, latest map[string]model.Order) int {
	seen := make(map[string]struct{})
	for _, o := range orders {
		if _, active := latest[o.OrderID]; active {
			continue
		}
		seen[o.OrderID] = struct{}{}
	}
	return len(seen)
}
