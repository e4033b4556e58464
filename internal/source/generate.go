package source

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"salesfact/internal/model"
)

// GenerateConfig drives Generate. The same Seed always yields the same source.
type GenerateConfig struct {
	Orders int
	Seed   int64
	Start  time.Time
	// Days spreads order dates over [Start, Start+Days).
	Days int
}

var (
	genCurrencies = []string{"USD", "EUR", "GBP", "JPY"}
	genBaseRates  = map[string]float64{"EUR": 1.08, "GBP": 1.27, "JPY": 0.0067}
	genProducts   = []string{"SKU-100", "SKU-200", "SKU-300", "SKU-400", "SKU-500", "SKU-600"}
)

// Generate builds a synthetic source exercising every pipeline path: orders
// with several revisions, inactive-only orders, orders without line items,
// unknown customers, days without an exchange rate, and repeated item ids.
func Generate(cfg GenerateConfig) model.Source {
	if cfg.Days <= 0 {
		cfg.Days = 90
	}
	start := cfg.Start.UTC().Truncate(24 * time.Hour)
	rng := rand.New(rand.NewSource(cfg.Seed))
	var src model.Source

	nCustomers := cfg.Orders/4 + 1
	for i := 1; i <= nCustomers; i++ {
		src.Customers = append(src.Customers, model.Customer{
			CustomerID:   fmt.Sprintf("C%04d", i),
			CustomerName: fmt.Sprintf("Customer %04d", i),
		})
	}

	for d := 0; d < cfg.Days; d++ {
		day := start.AddDate(0, 0, d)
		for _, cur := range genCurrencies {
			base, ok := genBaseRates[cur]
			if !ok || rng.Intn(10) == 0 {
				continue
			}
			jitter := 1 + (rng.Float64()-0.5)/50
			src.ExchangeRates = append(src.ExchangeRates, model.ExchangeRate{
				CurrencyCode: cur,
				RateDate:     day,
				ExchangeRate: decimal.NewFromFloat(base * jitter).Round(6),
			})
		}
	}

	rev := 0
	for i := 1; i <= cfg.Orders; i++ {
		id := fmt.Sprintf("O%06d", i)
		customer := fmt.Sprintf("C%04d", 1+rng.Intn(nCustomers))
		if rng.Intn(20) == 0 {
			customer = "C9999"
		}
		orderDate := start.AddDate(0, 0, rng.Intn(cfg.Days))
		currency := genCurrencies[rng.Intn(len(genCurrencies))]
		inactiveOnly := rng.Intn(20) == 0

		statuses := statusPath(rng)
		modified := orderDate.Add(time.Duration(rng.Intn(12)) * time.Hour)
		for n, st := range statuses {
			rev++
			active := !inactiveOnly
			if !inactiveOnly && n < len(statuses)-1 && rng.Intn(3) == 0 {
				active = false
			}
			src.Orders = append(src.Orders, model.Order{
				OrderID:          id,
				CustomerID:       customer,
				OrderDate:        orderDate,
				CurrencyCode:     currency,
				Status:           st,
				LastModifiedDate: modified,
				IsActive:         active,
				RevisionID:       fmt.Sprintf("%010d", rev),
			})
			modified = modified.Add(time.Duration(1+rng.Intn(48)) * time.Hour)
		}

		if rng.Intn(30) == 0 {
			continue
		}
		for n := 1 + rng.Intn(4); n > 0; n-- {
			src.LineItems = append(src.LineItems, model.OrderLineItem{
				OrderID:   id,
				ItemID:    genProducts[rng.Intn(len(genProducts))],
				Quantity:  decimal.NewFromInt(int64(1 + rng.Intn(5))),
				UnitPrice: decimal.New(int64(100+rng.Intn(9900)), -2),
			})
		}
	}
	return src
}

func statusPath(rng *rand.Rand) []string {
	switch rng.Intn(5) {
	case 0:
		return []string{"Pending"}
	case 1:
		return []string{"Pending", "Cancelled"}
	case 2:
		return []string{"Pending", "Processing", "Shipped"}
	default:
		return []string{"Pending", "Shipped", "Completed"}
	}
}
