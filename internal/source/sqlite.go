package source

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"salesfact/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id           TEXT NOT NULL,
	customer_id        TEXT,
	order_date         TEXT NOT NULL,
	currency_code      TEXT NOT NULL,
	status             TEXT,
	last_modified_date TEXT NOT NULL,
	is_active          INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_orders_order_id ON orders(order_id, last_modified_date);
CREATE TABLE IF NOT EXISTS order_line_items (
	order_id   TEXT NOT NULL,
	item_id    TEXT NOT NULL,
	quantity   TEXT NOT NULL,
	unit_price TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_line_items_order_id ON order_line_items(order_id);
CREATE TABLE IF NOT EXISTS customers (
	customer_id   TEXT PRIMARY KEY,
	customer_name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS exchange_rates (
	currency_code TEXT NOT NULL,
	rate_date     TEXT NOT NULL,
	exchange_rate TEXT NOT NULL,
	PRIMARY KEY (currency_code, rate_date)
);`

// SQLiteReader reads the operational tables from a SQLite database. All four
// collections are read inside one read-only transaction so they describe the
// same point in time. The order revision id is the table rowid.
type SQLiteReader struct {
	db *sql.DB
}

func NewSQLiteReader(path string) (*SQLiteReader, error) {
	db, err := sql.Open("sqlite3", filepath.Clean(path)+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return &SQLiteReader{db: db}, nil
}

func (r *SQLiteReader) Close() error { return r.db.Close() }

func (r *SQLiteReader) Read(ctx context.Context) (model.Source, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return model.Source{}, unavailable("database", err)
	}
	defer tx.Rollback()

	var src model.Source
	if src.Orders, err = readOrders(ctx, tx); err != nil {
		return model.Source{}, unavailable(CollectionOrders, err)
	}
	if src.LineItems, err = readLineItems(ctx, tx); err != nil {
		return model.Source{}, unavailable(CollectionLineItems, err)
	}
	if src.Customers, err = readCustomers(ctx, tx); err != nil {
		return model.Source{}, unavailable(CollectionCustomers, err)
	}
	if src.ExchangeRates, err = readExchangeRates(ctx, tx); err != nil {
		return model.Source{}, unavailable(CollectionExchangeRates, err)
	}
	return src, nil
}

func readOrders(ctx context.Context, tx *sql.Tx) ([]model.Order, error) {
	rows, err := tx.QueryContext(ctx, `SELECT rowid, order_id, customer_id, order_date, currency_code, status, last_modified_date, is_active FROM orders`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var (
			rowid                             int64
			orderID, orderDate, currency, mod string
			customerID, status, active        sql.NullString
		)
		if err := rows.Scan(&rowid, &orderID, &customerID, &orderDate, &currency, &status, &mod, &active); err != nil {
			return nil, err
		}
		od, err := ParseTime(orderDate)
		if err != nil {
			return nil, fmt.Errorf("order %s order_date: %w", orderID, err)
		}
		lm, err := ParseTime(mod)
		if err != nil {
			return nil, fmt.Errorf("order %s last_modified_date: %w", orderID, err)
		}
		out = append(out, model.Order{
			OrderID:          orderID,
			CustomerID:       customerID.String,
			OrderDate:        od,
			CurrencyCode:     currency,
			Status:           status.String,
			LastModifiedDate: lm,
			IsActive:         parseBool(active.String),
			RevisionID:       fmt.Sprintf("%020d", rowid),
		})
	}
	return out, rows.Err()
}

func readLineItems(ctx context.Context, tx *sql.Tx) ([]model.OrderLineItem, error) {
	rows, err := tx.QueryContext(ctx, `SELECT order_id, item_id, quantity, unit_price FROM order_line_items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OrderLineItem
	for rows.Next() {
		var orderID, itemID, qty, price string
		if err := rows.Scan(&orderID, &itemID, &qty, &price); err != nil {
			return nil, err
		}
		q, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("order %s item %s quantity: %w", orderID, itemID, err)
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("order %s item %s unit_price: %w", orderID, itemID, err)
		}
		out = append(out, model.OrderLineItem{OrderID: orderID, ItemID: itemID, Quantity: q, UnitPrice: p})
	}
	return out, rows.Err()
}

func readCustomers(ctx context.Context, tx *sql.Tx) ([]model.Customer, error) {
	rows, err := tx.QueryContext(ctx, `SELECT customer_id, customer_name FROM customers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Customer
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.CustomerID, &c.CustomerName); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func readExchangeRates(ctx context.Context, tx *sql.Tx) ([]model.ExchangeRate, error) {
	rows, err := tx.QueryContext(ctx, `SELECT currency_code, rate_date, exchange_rate FROM exchange_rates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExchangeRate
	for rows.Next() {
		var currency, rateDate, rate string
		if err := rows.Scan(&currency, &rateDate, &rate); err != nil {
			return nil, err
		}
		d, err := ParseTime(rateDate)
		if err != nil {
			return nil, fmt.Errorf("rate %s rate_date: %w", currency, err)
		}
		v, err := decimal.NewFromString(rate)
		if err != nil {
			return nil, fmt.Errorf("rate %s exchange_rate: %w", currency, err)
		}
		out = append(out, model.ExchangeRate{CurrencyCode: currency, RateDate: d, ExchangeRate: v})
	}
	return out, rows.Err()
}

// Seed creates the schema and replaces all rows with src. Order rows are
// inserted in slice order, which fixes their rowid and therefore their RevisionID.
func (r *SQLiteReader) Seed(ctx context.Context, src model.Source) error {
	if _, err := r.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"orders", "order_line_items", "customers", "exchange_rates"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, o := range src.Orders {
		active := 0
		if o.IsActive {
			active = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO orders (order_id, customer_id, order_date, currency_code, status, last_modified_date, is_active) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.OrderID, o.CustomerID, FormatTime(o.OrderDate), o.CurrencyCode, o.Status, FormatTime(o.LastModifiedDate), active); err != nil {
			return fmt.Errorf("insert order %s: %w", o.OrderID, err)
		}
	}
	for _, li := range src.LineItems {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_line_items (order_id, item_id, quantity, unit_price) VALUES (?, ?, ?, ?)`,
			li.OrderID, li.ItemID, li.Quantity.String(), li.UnitPrice.String()); err != nil {
			return fmt.Errorf("insert line item %s/%s: %w", li.OrderID, li.ItemID, err)
		}
	}
	for _, c := range src.Customers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO customers (customer_id, customer_name) VALUES (?, ?)`, c.CustomerID, c.CustomerName); err != nil {
			return fmt.Errorf("insert customer %s: %w", c.CustomerID, err)
		}
	}
	for _, er := range src.ExchangeRates {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO exchange_rates (currency_code, rate_date, exchange_rate) VALUES (?, ?, ?)`,
			er.CurrencyCode, er.RateDate.UTC().Format(model.DateLayout), er.ExchangeRate.String()); err != nil {
			return fmt.Errorf("insert rate %s: %w", er.CurrencyCode, err)
		}
	}
	return tx.Commit()
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes":
		return true
	default:
		return false
	}
}
