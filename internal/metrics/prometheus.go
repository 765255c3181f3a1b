package metrics

import (
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

type promRecorder struct {
	syncRuns      *prom.CounterVec
	syncSeconds   *prom.HistogramVec
	recordsSynced *prom.CounterVec
	recordsSkipped *prom.CounterVec
	fetchRetries  *prom.CounterVec
	batches       *prom.CounterVec
	docs          *prom.CounterVec
}

func (p *promRecorder) IncSyncRuns(entityType string, success bool) {
	p.syncRuns.WithLabelValues(entityType, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveSyncSeconds(entityType string, success bool, seconds float64) {
	p.syncSeconds.WithLabelValues(entityType, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) AddRecordsSynced(entityType string, n int) {
	p.recordsSynced.WithLabelValues(entityType).Add(float64(n))
}

func (p *promRecorder) AddRecordsSkipped(entityType string, n int) {
	p.recordsSkipped.WithLabelValues(entityType).Add(float64(n))
}

func (p *promRecorder) IncFetchRetries(entityType string) {
	p.fetchRetries.WithLabelValues(entityType).Inc()
}

func (p *promRecorder) IncBatchesProjected(entityType string) {
	p.batches.WithLabelValues(entityType).Inc()
}

func (p *promRecorder) AddDocsProjected(entityType string, n int) {
	p.docs.WithLabelValues(entityType).Add(float64(n))
}

// EnablePrometheus installs the Prometheus recorder and serves /metrics and
// /healthz on addr.
func EnablePrometheus(addr string) error {
	registry := prom.NewRegistry()
	p := &promRecorder{
		syncRuns: prom.NewCounterVec(prom.CounterOpts{
			Name: "crmsync_sync_runs_total",
			Help: "Total number of entity sync runs",
		}, []string{"entity_type", "success"}),
		syncSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "crmsync_sync_run_seconds",
			Help:    "Entity sync run duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"entity_type", "success"}),
		recordsSynced: prom.NewCounterVec(prom.CounterOpts{
			Name: "crmsync_records_synced_total",
			Help: "Total number of records upserted into the relational store",
		}, []string{"entity_type"}),
		recordsSkipped: prom.NewCounterVec(prom.CounterOpts{
			Name: "crmsync_records_skipped_total",
			Help: "Total number of malformed records skipped",
		}, []string{"entity_type"}),
		fetchRetries: prom.NewCounterVec(prom.CounterOpts{
			Name: "crmsync_fetch_retries_total",
			Help: "Total number of source page fetch retries",
		}, []string{"entity_type"}),
		batches: prom.NewCounterVec(prom.CounterOpts{
			Name: "crmsync_projection_batches_total",
			Help: "Total number of vector projection batches committed",
		}, []string{"entity_type"}),
		docs: prom.NewCounterVec(prom.CounterOpts{
			Name: "crmsync_projection_docs_total",
			Help: "Total number of vector documents upserted",
		}, []string{"entity_type"}),
	}

	registry.MustRegister(p.syncRuns, p.syncSeconds, p.recordsSynced,
		p.recordsSkipped, p.fetchRetries, p.batches, p.docs)
	SetRecorder(p)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() { _ = http.ListenAndServe(addr, mux) }()
	return nil
}
