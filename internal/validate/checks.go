package validate

import (
	"github.com/shopspring/decimal"

	"salesfact/internal/model"
)

var statusCategories = map[string]string{
	"Completed": "Fulfilled",
	"Shipped":   "Fulfilled",
	"Cancelled": "Cancelled",
}

func expectedCategory(status string) string {
	if c, ok := statusCategories[status]; ok {
		return c
	}
	return "Open"
}

// latestRevisions is the validator's own pick of one active revision per order.
func latestRevisions(orders []model.Order) map[string]model.Order {
	out := make(map[string]model.Order)
	for _, o := range orders {
		if !o.IsActive {
			continue
		}
		if cur, ok := out[o.OrderID]; ok && !model.Supersedes(o, cur) {
			continue
		}
		out[o.OrderID] = o
	}
	return out
}

func lineTotals(items []model.OrderLineItem) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, li := range items {
		out[li.OrderID] = out[li.OrderID].Add(li.Quantity.Mul(li.UnitPrice))
	}
	return out
}

func distinctItems(items []model.OrderLineItem) map[string]int {
	seen := make(map[string]map[string]bool)
	for _, li := range items {
		if seen[li.OrderID] == nil {
			seen[li.OrderID] = make(map[string]bool)
		}
		seen[li.OrderID][li.ItemID] = true
	}
	out := make(map[string]int, len(seen))
	for id, s := range seen {
		out[id] = len(s)
	}
	return out
}

func customerNames(customers []model.Customer) map[string]string {
	out := make(map[string]string, len(customers))
	for _, c := range customers {
		out[c.CustomerID] = c.CustomerName
	}
	return out
}

func checkCompleteness(in Input) Result {
	latest := latestRevisions(in.Source.Orders)
	totals := lineTotals(in.Source.LineItems)
	names := customerNames(in.Source.Customers)

	expected := make(map[string]bool)
	for id, o := range latest {
		if _, ok := totals[id]; !ok {
			continue
		}
		if _, ok := names[o.CustomerID]; !ok {
			continue
		}
		expected[id] = true
	}
	actual := make(map[string]bool, len(in.Facts))
	for _, f := range in.Facts {
		actual[f.OrderID] = true
	}

	var offenders []string
	for id := range expected {
		if !actual[id] {
			offenders = append(offenders, "missing:"+id)
		}
	}
	for id := range actual {
		if !expected[id] {
			offenders = append(offenders, "unexpected:"+id)
		}
	}
	return result(1, offenders)
}

func checkAmountLocal(in Input) Result {
	totals := lineTotals(in.Source.LineItems)
	var offenders []string
	for _, f := range in.Facts {
		want, ok := totals[f.OrderID]
		if !ok || !withinTolerance(f.AmountLocal, want) {
			offenders = append(offenders, f.OrderID)
		}
	}
	return result(2, offenders)
}

func checkAmountUSD(in Input) Result {
	latest := latestRevisions(in.Source.Orders)
	totals := lineTotals(in.Source.LineItems)
	rates := make(map[string]decimal.Decimal, len(in.Source.ExchangeRates))
	for _, r := range in.Source.ExchangeRates {
		rates[model.RateKey(r.CurrencyCode, r.RateDate)] = r.ExchangeRate
	}

	var offenders []string
	for _, f := range in.Facts {
		o, ok := latest[f.OrderID]
		total, hasItems := totals[f.OrderID]
		if !ok || !hasItems {
			offenders = append(offenders, f.OrderID)
			continue
		}
		rate, matched := rates[model.RateKey(o.CurrencyCode, o.OrderDate)]
		if !matched {
			rate = model.DefaultExchangeRate
		}
		// converted from the stored local amount, not the unrounded line sum
		want := total.Round(model.AmountScale).Mul(rate).Round(model.AmountScale)
		if !withinTolerance(f.AmountUSD, want) {
			offenders = append(offenders, f.OrderID)
		}
	}
	return result(3, offenders)
}

func checkCustomerName(in Input) Result {
	latest := latestRevisions(in.Source.Orders)
	names := customerNames(in.Source.Customers)
	var offenders []string
	for _, f := range in.Facts {
		o, ok := latest[f.OrderID]
		if !ok {
			offenders = append(offenders, f.OrderID)
			continue
		}
		if name, ok := names[o.CustomerID]; !ok || name != f.CustomerName {
			offenders = append(offenders, f.OrderID)
		}
	}
	return result(4, offenders)
}

func checkDistinctItems(in Input) Result {
	counts := distinctItems(in.Source.LineItems)
	var offenders []string
	for _, f := range in.Facts {
		if want, ok := counts[f.OrderID]; !ok || want != f.DistinctItemCount {
			offenders = append(offenders, f.OrderID)
		}
	}
	return result(5, offenders)
}

func checkStatusCategory(in Input) Result {
	latest := latestRevisions(in.Source.Orders)
	var offenders []string
	for _, f := range in.Facts {
		o, ok := latest[f.OrderID]
		if !ok || expectedCategory(o.Status) != f.StatusCategory {
			offenders = append(offenders, f.OrderID)
		}
	}
	return result(6, offenders)
}

func checkUniqueness(in Input) Result {
	counts := make(map[string]int, len(in.Facts))
	for _, f := range in.Facts {
		counts[f.OrderID]++
	}
	var offenders []string
	for id, n := range counts {
		if n > 1 {
			offenders = append(offenders, id)
		}
	}
	return result(7, offenders)
}

func checkLoadTimestamp(in Input) Result {
	var offenders []string
	for _, f := range in.Facts {
		if f.LoadTimestamp.IsZero() {
			offenders = append(offenders, f.OrderID)
		}
	}
	return result(8, offenders)
}
