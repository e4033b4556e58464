package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"salesfact/internal/model"
)

// fixture is the on-disk shape of a source file. JSON parses as YAML, so both
// .json and .yaml files go through the same decoder. Scalars are kept as text
// and parsed here so decimals never pass through float64.
type fixture struct {
	Orders        []fixtureOrder    `json:"orders" yaml:"orders"`
	LineItems     []fixtureLineItem `json:"order_line_items" yaml:"order_line_items"`
	Customers     []fixtureCustomer `json:"customers" yaml:"customers"`
	ExchangeRates []fixtureRate     `json:"exchange_rates" yaml:"exchange_rates"`
}

type fixtureOrder struct {
	OrderID          string `json:"order_id" yaml:"order_id"`
	CustomerID       string `json:"customer_id" yaml:"customer_id"`
	OrderDate        string `json:"order_date" yaml:"order_date"`
	CurrencyCode     string `json:"currency_code" yaml:"currency_code"`
	Status           string `json:"status" yaml:"status"`
	LastModifiedDate string `json:"last_modified_date" yaml:"last_modified_date"`
	IsActive         bool   `json:"is_active" yaml:"is_active"`
	RevisionID       string `json:"revision_id,omitempty" yaml:"revision_id,omitempty"`
}

type fixtureLineItem struct {
	OrderID   string `json:"order_id" yaml:"order_id"`
	ItemID    string `json:"item_id" yaml:"item_id"`
	Quantity  string `json:"quantity" yaml:"quantity"`
	UnitPrice string `json:"unit_price" yaml:"unit_price"`
}

type fixtureCustomer struct {
	CustomerID   string `json:"customer_id" yaml:"customer_id"`
	CustomerName string `json:"customer_name" yaml:"customer_name"`
}

type fixtureRate struct {
	CurrencyCode string `json:"currency_code" yaml:"currency_code"`
	RateDate     string `json:"rate_date" yaml:"rate_date"`
	ExchangeRate string `json:"exchange_rate" yaml:"exchange_rate"`
}

// FileReader loads a YAML or JSON fixture holding all four collections.
// Orders without revision_id get their 1-based row position, zero padded.
type FileReader struct {
	path string
}

func NewFileReader(path string) *FileReader {
	return &FileReader{path: filepath.Clean(path)}
}

func (f *FileReader) Read(ctx context.Context) (model.Source, error) {
	if err := ctx.Err(); err != nil {
		return model.Source{}, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return model.Source{}, unavailable("file", err)
	}
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return model.Source{}, unavailable("file", fmt.Errorf("decode %s: %w", f.path, err))
	}

	var src model.Source
	for i, o := range fx.Orders {
		orderDate, err := ParseTime(o.OrderDate)
		if err != nil {
			return model.Source{}, unavailable(CollectionOrders, fmt.Errorf("row %d order_date: %w", i, err))
		}
		modified, err := ParseTime(o.LastModifiedDate)
		if err != nil {
			return model.Source{}, unavailable(CollectionOrders, fmt.Errorf("row %d last_modified_date: %w", i, err))
		}
		rev := o.RevisionID
		if rev == "" {
			rev = fmt.Sprintf("%010d", i+1)
		}
		src.Orders = append(src.Orders, model.Order{
			OrderID:          o.OrderID,
			CustomerID:       o.CustomerID,
			OrderDate:        orderDate,
			CurrencyCode:     o.CurrencyCode,
			Status:           o.Status,
			LastModifiedDate: modified,
			IsActive:         o.IsActive,
			RevisionID:       rev,
		})
	}
	for i, li := range fx.LineItems {
		qty, err := decimal.NewFromString(li.Quantity)
		if err != nil {
			return model.Source{}, unavailable(CollectionLineItems, fmt.Errorf("row %d quantity: %w", i, err))
		}
		price, err := decimal.NewFromString(li.UnitPrice)
		if err != nil {
			return model.Source{}, unavailable(CollectionLineItems, fmt.Errorf("row %d unit_price: %w", i, err))
		}
		src.LineItems = append(src.LineItems, model.OrderLineItem{OrderID: li.OrderID, ItemID: li.ItemID, Quantity: qty, UnitPrice: price})
	}
	for _, c := range fx.Customers {
		src.Customers = append(src.Customers, model.Customer{CustomerID: c.CustomerID, CustomerName: c.CustomerName})
	}
	for i, r := range fx.ExchangeRates {
		d, err := ParseTime(r.RateDate)
		if err != nil {
			return model.Source{}, unavailable(CollectionExchangeRates, fmt.Errorf("row %d rate_date: %w", i, err))
		}
		rate, err := decimal.NewFromString(r.ExchangeRate)
		if err != nil {
			return model.Source{}, unavailable(CollectionExchangeRates, fmt.Errorf("row %d exchange_rate: %w", i, err))
		}
		src.ExchangeRates = append(src.ExchangeRates, model.ExchangeRate{CurrencyCode: r.CurrencyCode, RateDate: d, ExchangeRate: rate})
	}
	return src, nil
}

// WriteFile encodes src as a fixture readable by FileReader: JSON for a .json
// path, YAML otherwise.
func WriteFile(path string, src model.Source) error {
	var fx fixture
	for _, o := range src.Orders {
		fx.Orders = append(fx.Orders, fixtureOrder{
			OrderID:          o.OrderID,
			CustomerID:       o.CustomerID,
			OrderDate:        FormatTime(o.OrderDate),
			CurrencyCode:     o.CurrencyCode,
			Status:           o.Status,
			LastModifiedDate: FormatTime(o.LastModifiedDate),
			IsActive:         o.IsActive,
			RevisionID:       o.RevisionID,
		})
	}
	for _, li := range src.LineItems {
		fx.LineItems = append(fx.LineItems, fixtureLineItem{OrderID: li.OrderID, ItemID: li.ItemID, Quantity: li.Quantity.String(), UnitPrice: li.UnitPrice.String()})
	}
	for _, c := range src.Customers {
		fx.Customers = append(fx.Customers, fixtureCustomer(c))
	}
	for _, r := range src.ExchangeRates {
		fx.ExchangeRates = append(fx.ExchangeRates, fixtureRate{
			CurrencyCode: r.CurrencyCode,
			RateDate:     r.RateDate.UTC().Format(model.DateLayout),
			ExchangeRate: r.ExchangeRate.String(),
		})
	}
	var (
		out []byte
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		out, err = json.MarshalIndent(&fx, "", "  ")
	} else {
		out, err = yaml.Marshal(&fx)
	}
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}
