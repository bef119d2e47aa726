// Package metrics holds the prometheus collectors of the service
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksFinished counts tasks reaching a terminal status.
	tasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_tasks_finished_total",
		Help: "Total number of ingestion tasks by terminal status",
	}, []string{"status"})

	// tasksActive tracks tasks holding a worker slot.
	tasksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_tasks_active",
		Help: "Number of ingestion tasks currently holding a worker slot",
	})

	// tasksWaiting tracks triggered tasks waiting for a worker slot.
	tasksWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_tasks_waiting",
		Help: "Number of triggered ingestion tasks waiting for a worker slot",
	})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_task_duration_seconds",
		Help:    "Time from worker start to terminal status",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
	}, []string{"status"})

	rowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_rows_total",
		Help: "Total number of decoded rows by outcome",
	}, []string{"outcome"}) // outcome: constructed, skipped

	batches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_batches_total",
		Help: "Total number of batch commits by outcome",
	}, []string{"outcome"}) // outcome: committed, rolled_back

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_batch_commit_duration_seconds",
		Help:    "Time taken to commit one batch",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Total number of webhook delivery attempts by outcome",
	}, []string{"outcome"}) // outcome: delivered, failed

	webhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_delivery_duration_seconds",
		Help:    "Time taken by webhook deliveries",
		Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300},
	})

	progressSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "progress_subscribers",
		Help: "Number of open progress subscriptions",
	})

	sweptFiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_staged_files_removed_total",
		Help: "Total number of staged upload files removed by the sweeper",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Recorder provides methods to record service metrics
type Recorder struct{}

// NewRecorder creates a new metrics recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// TaskStarted marks a task as holding a worker slot
func (m *Recorder) TaskStarted() {
	tasksActive.Inc()
}

// TaskFinished records a terminal status and releases the active gauge
func (m *Recorder) TaskFinished(status string, d time.Duration) {
	tasksActive.Dec()
	tasksFinished.WithLabelValues(status).Inc()
	taskDuration.WithLabelValues(status).Observe(d.Seconds())
}

// TaskWaiting adjusts the number of tasks waiting for a slot
func (m *Recorder) TaskWaiting(delta float64) {
	tasksWaiting.Add(delta)
}

// RowConstructed counts a row turned into a case
func (m *Recorder) RowConstructed() {
	rowsProcessed.WithLabelValues("constructed").Inc()
}

// RowSkipped counts a row dropped for a row-level error
func (m *Recorder) RowSkipped() {
	rowsProcessed.WithLabelValues("skipped").Inc()
}

// BatchCommitted records a batch commit attempt
func (m *Recorder) BatchCommitted(ok bool, d time.Duration) {
	outcome := "committed"
	if !ok {
		outcome = "rolled_back"
	}
	batches.WithLabelValues(outcome).Inc()
	batchDuration.Observe(d.Seconds())
}

// WebhookDelivered records a webhook delivery attempt
func (m *Recorder) WebhookDelivered(ok bool, d time.Duration) {
	outcome := "delivered"
	if !ok {
		outcome = "failed"
	}
	webhookDeliveries.WithLabelValues(outcome).Inc()
	webhookDuration.Observe(d.Seconds())
}

// SubscriberOpened increments the open subscription gauge
func (m *Recorder) SubscriberOpened() {
	progressSubscribers.Inc()
}

// SubscriberClosed decrements the open subscription gauge
func (m *Recorder) SubscriberClosed() {
	progressSubscribers.Dec()
}

// FilesSwept counts removed staging files
func (m *Recorder) FilesSwept(n int) {
	sweptFiles.Add(float64(n))
}

// HTTPRequest records one served request
func (m *Recorder) HTTPRequest(method, route, status string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
