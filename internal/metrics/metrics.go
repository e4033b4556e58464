package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exclusion reasons for ExcludedOrders.
const (
	ReasonInactiveOnly    = "inactive_only"
	ReasonNoLineItems     = "no_line_items"
	ReasonUnknownCustomer = "unknown_customer"
)

type Registry struct {
	reg *prometheus.Registry

	Runs              *prometheus.CounterVec
	FactsProduced     prometheus.Gauge
	ExcludedOrders    *prometheus.GaugeVec
	RateFallbacks     prometheus.Gauge
	ValidationFailed  *prometheus.CounterVec
	RunDurationSec    prometheus.Histogram
	LastSuccessUnix   prometheus.Gauge
	LastManifestCount prometheus.Gauge

	// transactional publication
	TxProduced      prometheus.Counter
	TxAborted       prometheus.Counter
	TxLatencySec    prometheus.Histogram
	RecordsAppended prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "salesfact_runs_total", Help: "Pipeline runs by outcome."}, []string{"outcome"})
	produced := prometheus.NewGauge(prometheus.GaugeOpts{Name: "salesfact_facts_produced", Help: "Records in the last materialized fact set."})
	excluded := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "salesfact_excluded_orders", Help: "Orders left out of the last run, by reason."}, []string{"reason"})
	fallbacks := prometheus.NewGauge(prometheus.GaugeOpts{Name: "salesfact_rate_fallbacks", Help: "Records of the last run converted with the default rate."})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "salesfact_validation_failures_total", Help: "Failed validation checks."}, []string{"check"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "salesfact_run_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{Name: "salesfact_last_success_timestamp_seconds"})
	lastCount := prometheus.NewGauge(prometheus.GaugeOpts{Name: "salesfact_last_manifest_record_count"})

	txProduced := prometheus.NewCounter(prometheus.CounterOpts{Name: "salesfact_tx_produced_total"})
	txAborted := prometheus.NewCounter(prometheus.CounterOpts{Name: "salesfact_tx_aborted_total"})
	txLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "salesfact_tx_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	appended := prometheus.NewCounter(prometheus.CounterOpts{Name: "salesfact_records_appended_total"})

	r.MustRegister(runs, produced, excluded, fallbacks, failed, duration, lastSuccess, lastCount, txProduced, txAborted, txLatency, appended)
	return &Registry{
		reg:               r,
		Runs:              runs,
		FactsProduced:     produced,
		ExcludedOrders:    excluded,
		RateFallbacks:     fallbacks,
		ValidationFailed:  failed,
		RunDurationSec:    duration,
		LastSuccessUnix:   lastSuccess,
		LastManifestCount: lastCount,
		TxProduced:        txProduced,
		TxAborted:         txAborted,
		TxLatencySec:      txLatency,
		RecordsAppended:   appended,
	}
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
