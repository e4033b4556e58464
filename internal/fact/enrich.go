package fact

import (
	"time"

	"github.com/shopspring/decimal"

	"salesfact/internal/model"
)

// CustomerIndex maps customer_id to customer_name.
type CustomerIndex map[string]string

func NewCustomerIndex(customers []model.Customer) CustomerIndex {
	idx := make(CustomerIndex, len(customers))
	for _, c := range customers {
		idx[c.CustomerID] = c.CustomerName
	}
	return idx
}

// Lookup is an exact match on customer_id. A miss excludes the order.
func (c CustomerIndex) Lookup(customerID string) (string, bool) {
	name, ok := c[customerID]
	return name, ok
}

// RateIndex maps (currency_code, rate_date) to exchange_rate.
type RateIndex map[string]decimal.Decimal

func NewRateIndex(rates []model.ExchangeRate) RateIndex {
	idx := make(RateIndex, len(rates))
	for _, r := range rates {
		idx[model.RateKey(r.CurrencyCode, r.RateDate)] = r.ExchangeRate
	}
	return idx
}

// Effective returns the rate for the order's currency and date, or
// model.DefaultExchangeRate with matched=false.
func (r RateIndex) Effective(currencyCode string, orderDate time.Time) (rate decimal.Decimal, matched bool) {
	if v, ok := r[model.RateKey(currencyCode, orderDate)]; ok {
		return v, true
	}
	return model.DefaultExchangeRate, false
}

// ConvertUSD multiplies and rounds half away from zero to model.AmountScale digits.
func ConvertUSD(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(model.AmountScale)
}
