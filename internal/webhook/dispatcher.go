// Package webhook relays decoded rows to an external consumer. Delivery is
// attempted once; its outcome never affects the ingestion task.
package webhook

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	httpclient "github.com/recoverydesk/case-service/internal/http"
	"github.com/recoverydesk/case-service/internal/metrics"
	"github.com/recoverydesk/case-service/internal/types"
)

// Payload is the JSON body posted to the consumer
type Payload struct {
	TaskID    string             `json:"taskId"`
	Rows      []types.DecodedRow `json:"rows"`
	TotalRows int                `json:"totalRows"`
}

// Dispatcher posts payloads to one configured URL
type Dispatcher struct {
	url     string
	client  *httpclient.Client
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher. An empty url makes Dispatch a no-op.
func NewDispatcher(url string, client *httpclient.Client, logger zerolog.Logger) *Dispatcher {
	if client == nil {
		client = httpclient.NewClient(httpclient.DefaultConfig())
	}
	return &Dispatcher{
		url:     url,
		client:  client,
		metrics: metrics.NewRecorder(),
		logger:  logger.With().Str("component", "webhook").Logger(),
	}
}

// Enabled reports whether a destination is configured
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.url != ""
}

// Dispatch makes one delivery attempt bounded by the client timeout
func (d *Dispatcher) Dispatch(ctx context.Context, taskID string, rows []types.DecodedRow) error {
	if !d.Enabled() {
		return nil
	}
	if rows == nil {
		rows = []types.DecodedRow{}
	}

	start := time.Now()
	status, body, err := d.client.PostJSON(ctx, d.url, Payload{TaskID: taskID, Rows: rows, TotalRows: len(rows)})
	elapsed := time.Since(start)
	d.metrics.WebhookDelivered(err == nil, elapsed)

	if err != nil {
		return &types.DispatchError{URL: d.url, StatusCode: status, Err: err}
	}

	d.logger.Info().
		Str("task_id", taskID).
		Int("status", status).
		Int("rows", len(rows)).
		Dur("elapsed", elapsed).
		Str("response", truncate(string(body), 512)).
		Msg("Webhook delivered")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
