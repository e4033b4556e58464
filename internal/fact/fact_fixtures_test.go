package fact

import (
	"time"

	"github.com/shopspring/decimal"

	"salesfact/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// scenarioSource covers: O1 two revisions no rate, O2 inactive only,
// O3 with a matching 1.1 rate, O4 without line items, O5 with unknown customer.
func scenarioSource() model.Source {
	return model.Source{
		Orders: []model.Order{
			{OrderID: "O1", CustomerID: "C1", OrderDate: day(2024, 1, 1), CurrencyCode: "USD", Status: "Open", LastModifiedDate: day(2024, 1, 1), IsActive: true, RevisionID: "1"},
			{OrderID: "O1", CustomerID: "C1", OrderDate: day(2024, 1, 1), CurrencyCode: "USD", Status: "Shipped", LastModifiedDate: day(2024, 2, 1), IsActive: true, RevisionID: "2"},
			{OrderID: "O2", CustomerID: "C1", OrderDate: day(2024, 1, 5), CurrencyCode: "USD", Status: "Completed", LastModifiedDate: day(2024, 1, 5), IsActive: false, RevisionID: "3"},
			{OrderID: "O3", CustomerID: "C2", OrderDate: day(2024, 3, 10), CurrencyCode: "EUR", Status: "Cancelled", LastModifiedDate: day(2024, 3, 10), IsActive: true, RevisionID: "4"},
			{OrderID: "O4", CustomerID: "C2", OrderDate: day(2024, 3, 11), CurrencyCode: "EUR", Status: "Open", LastModifiedDate: day(2024, 3, 11), IsActive: true, RevisionID: "5"},
			{OrderID: "O5", CustomerID: "C404", OrderDate: day(2024, 3, 12), CurrencyCode: "EUR", Status: "Open", LastModifiedDate: day(2024, 3, 12), IsActive: true, RevisionID: "6"},
		},
		LineItems: []model.OrderLineItem{
			{OrderID: "O1", ItemID: "I1", Quantity: dec("2"), UnitPrice: dec("10.00")},
			{OrderID: "O1", ItemID: "I2", Quantity: dec("1"), UnitPrice: dec("5.00")},
			{OrderID: "O2", ItemID: "I1", Quantity: dec("1"), UnitPrice: dec("3.00")},
			{OrderID: "O3", ItemID: "I3", Quantity: dec("3"), UnitPrice: dec("7.25")},
			{OrderID: "O5", ItemID: "I1", Quantity: dec("1"), UnitPrice: dec("1.00")},
		},
		Customers: []model.Customer{
			{CustomerID: "C1", CustomerName: "Acme"},
			{CustomerID: "C2", CustomerName: "Globex"},
		},
		ExchangeRates: []model.ExchangeRate{
			{CurrencyCode: "EUR", RateDate: day(2024, 3, 10), ExchangeRate: dec("1.1")},
		},
	}
}
