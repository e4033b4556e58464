package fact

import (
	"github.com/shopspring/decimal"

	"salesfact/internal/model"
)

// LineTotals holds the order-level measures reduced from line items.
type LineTotals struct {
	TotalAmount   decimal.Decimal
	DistinctItems int
}

// AggregateLineItems groups line items by order_id. Orders with no line items
// get no entry, which later excludes them from the fact set.
func AggregateLineItems(items []model.OrderLineItem) map[string]LineTotals {
	sums := make(map[string]decimal.Decimal)
	distinct := make(map[string]map[string]struct{})
	for _, li := range items {
		sums[li.OrderID] = sums[li.OrderID].Add(li.Quantity.Mul(li.UnitPrice))
		seen, ok := distinct[li.OrderID]
		if !ok {
			seen = make(map[string]struct{})
			distinct[li.OrderID] = seen
		}
		seen[li.ItemID] = struct{}{}
	}
	out := make(map[string]LineTotals, len(sums))
	for orderID, total := range sums {
		out[orderID] = LineTotals{
			TotalAmount:   total.Round(model.AmountScale),
			DistinctItems: len(distinct[orderID]),
		}
	}
	return out
}
