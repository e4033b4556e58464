package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept on fact amounts.
const AmountScale int32 = 4

// DateLayout is the calendar-day layout used for rate matching.
const DateLayout = "2006-01-02"

// DefaultExchangeRate applies when no rate exists for an order's currency and date.
var DefaultExchangeRate = decimal.NewFromInt(1)

// Order is one stored revision of an order. Several revisions may share OrderID.
type Order struct {
	OrderID          string    `json:"order_id"`
	CustomerID       string    `json:"customer_id"`
	OrderDate        time.Time `json:"order_date"`
	CurrencyCode     string    `json:"currency_code"`
	Status           string    `json:"status"`
	LastModifiedDate time.Time `json:"last_modified_date"`
	IsActive         bool      `json:"is_active"`
	// RevisionID is an opaque row identifier (SQLite rowid for database sources).
	RevisionID string `json:"revision_id,omitempty"`
}

// OrderLineItem is not versioned: it belongs to the logical order, not a revision.
type OrderLineItem struct {
	OrderID   string          `json:"order_id"`
	ItemID    string          `json:"item_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Customer struct {
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name"`
}

type ExchangeRate struct {
	CurrencyCode string          `json:"currency_code"`
	RateDate     time.Time       `json:"rate_date"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

// FactSalesRecord is the denormalized output row, one per logical order.
type FactSalesRecord struct {
	OrderID           string          `json:"order_id"`
	AmountLocal       decimal.Decimal `json:"amount_local"`
	AmountUSD         decimal.Decimal `json:"amount_usd"`
	CustomerName      string          `json:"customer_name"`
	DistinctItemCount int             `json:"distinct_item_count"`
	StatusCategory    string          `json:"status_category"`
	LoadTimestamp     time.Time       `json:"load_timestamp"`
}

// Source is an immutable snapshot of the four input collections.
type Source struct {
	Orders        []Order         `json:"orders"`
	LineItems     []OrderLineItem `json:"order_line_items"`
	Customers     []Customer      `json:"customers"`
	ExchangeRates []ExchangeRate  `json:"exchange_rates"`
}

// RateKey returns the lookup key currency#yyyy-mm-dd. Dates match by UTC calendar day.
func RateKey(currencyCode string, date time.Time) string {
	return fmt.Sprintf("%s#%s", currencyCode, date.UTC().Format(DateLayout))
}

// Supersedes reports whether revision a wins over revision b of the same order.
// Later LastModifiedDate wins; on a tie the greater RevisionID wins, and if that
// also ties the canonical field fingerprint decides.
func Supersedes(a, b Order) bool {
	if !a.LastModifiedDate.Equal(b.LastModifiedDate) {
		return a.LastModifiedDate.After(b.LastModifiedDate)
	}
	if a.RevisionID != b.RevisionID {
		return a.RevisionID > b.RevisionID
	}
	return fingerprint(a) > fingerprint(b)
}

func fingerprint(o Order) string {
	return strings.Join([]string{
		o.CustomerID,
		o.OrderDate.UTC().Format(time.RFC3339Nano),
		o.CurrencyCode,
		o.Status,
	}, "\x1f")
}
