package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistry_HandlerExposesMetrics(t *testing.T) {
	r := NewRegistry()
	r.Runs.WithLabelValues("success").Inc()
	r.ExcludedOrders.WithLabelValues(ReasonUnknownCustomer).Set(3)
	r.ValidationFailed.WithLabelValues("order_id_unique").Inc()
	r.FactsProduced.Set(42)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`salesfact_runs_total{outcome="success"} 1`,
		`salesfact_excluded_orders{reason="unknown_customer"} 3`,
		`salesfact_validation_failures_total{check="order_id_unique"} 1`,
		`salesfact_facts_produced 42`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestNewRegistry_Independent(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	a.FactsProduced.Set(1)
	mfs, err := b.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "salesfact_facts_produced" && mf.GetMetric()[0].GetGauge().GetValue() != 0 {
			t.Fatalf("registries share state")
		}
	}
}
