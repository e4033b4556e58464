// Package validate re-derives every fact field from source data and compares
// it with a produced fact set. Checks are read-only and independent of each
// other; integrity violations are reported as FAIL results, never as errors.
package validate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"salesfact/internal/model"
)

// Tolerance bounds the accepted absolute difference on amounts.
var Tolerance = decimal.RequireFromString("0.001")

// maxDetailIDs caps how many offending order_ids a result lists.
const maxDetailIDs = 10

type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// Input is what every check reads. Checks must not mutate it.
type Input struct {
	Source model.Source
	Facts  []model.FactSalesRecord
}

type Result struct {
	TestID      int    `json:"test_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      Status `json:"result"`
	Mismatches  int    `json:"mismatches"`
	Detail      string `json:"detail,omitempty"`
}

type Report struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Results     []Result  `json:"results"`
}

// Passed reports whether every check passed.
func (r Report) Passed() bool {
	for _, res := range r.Results {
		if res.Status != StatusPass {
			return false
		}
	}
	return true
}

// Failed returns the failing results in check order.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == StatusFail {
			out = append(out, res)
		}
	}
	return out
}

type Check struct {
	ID          int
	Name        string
	Description string
	Run         func(Input) Result
}

// Checks returns the ordered battery. A fresh slice is returned on each call.
func Checks() []Check {
	return []Check{
		{ID: 1, Name: "identity_completeness", Description: "order_ids in output equal active orders with line items and a valid customer", Run: checkCompleteness},
		{ID: 2, Name: "amount_local", Description: "amount_local equals sum(quantity * unit_price) within 0.001", Run: checkAmountLocal},
		{ID: 3, Name: "amount_usd", Description: "amount_usd equals amount_local * effective rate (1.0 when unmatched) within 0.001", Run: checkAmountUSD},
		{ID: 4, Name: "customer_name", Description: "customer_name equals the joined customer's name", Run: checkCustomerName},
		{ID: 5, Name: "distinct_item_count", Description: "distinct_item_count equals count of distinct item_id", Run: checkDistinctItems},
		{ID: 6, Name: "status_category", Description: "status_category matches the status mapping table", Run: checkStatusCategory},
		{ID: 7, Name: "order_id_unique", Description: "order_id appears at most once in output", Run: checkUniqueness},
		{ID: 8, Name: "load_timestamp_not_null", Description: "load_timestamp is populated for every record", Run: checkLoadTimestamp},
	}
}

// Run executes every check in order.
func Run(in Input) Report {
	checks := Checks()
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		results = append(results, c.Run(in))
	}
	return Report{Results: results}
}

// RunCheck executes a single check by id.
func RunCheck(id int, in Input) (Result, error) {
	for _, c := range Checks() {
		if c.ID == id {
			return c.Run(in), nil
		}
	}
	return Result{}, fmt.Errorf("unknown check id %d", id)
}

func result(id int, offenders []string) Result {
	var c Check
	for _, cand := range Checks() {
		if cand.ID == id {
			c = cand
			break
		}
	}
	r := Result{TestID: c.ID, Name: c.Name, Description: c.Description, Status: StatusPass, Mismatches: len(offenders)}
	if len(offenders) > 0 {
		r.Status = StatusFail
		sort.Strings(offenders)
		shown := offenders
		if len(shown) > maxDetailIDs {
			shown = shown[:maxDetailIDs]
		}
		r.Detail = fmt.Sprintf("%d mismatched: %s", len(offenders), strings.Join(shown, ", "))
		if len(offenders) > len(shown) {
			r.Detail += ", ..."
		}
	}
	return r
}

func withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
