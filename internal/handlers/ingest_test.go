package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverydesk/case-service/internal/progress"
	"github.com/recoverydesk/case-service/internal/registry"
	"github.com/recoverydesk/case-service/internal/storage"
	"github.com/recoverydesk/case-service/internal/types"
)

type fakeTrigger struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeTrigger) Trigger(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return f.err
}

type fixture struct {
	router   *gin.Engine
	registry *registry.Memory
	staging  *storage.LocalStorage
	trigger  *fakeTrigger
}

func newFixture(t *testing.T, cfg IngestConfig) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.NewMemory()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	trig := &fakeTrigger{}
	streamer := progress.NewStreamer(reg, 10*time.Millisecond, zerolog.Nop())

	h := NewIngestHandler(reg, st, trig, streamer, cfg, zerolog.Nop())
	router := gin.New()
	h.Register(router.Group("/api/ingest"))

	return &fixture{router: router, registry: reg, staging: st, trigger: trig}
}

func multipartRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	} else {
		require.NoError(t, w.WriteField("note", "no file"))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestUploadStagesFileAndRegistersTask(t *testing.T) {
	f := newFixture(t, IngestConfig{})

	rec := f.do(multipartRequest(t, "file", "accounts.csv", "name,email\nAda,ada@example.com\n"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, types.StatusReceived, resp.Status)

	task, err := f.registry.Get(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReceived, task.Status)
	assert.Equal(t, "accounts.csv", task.Filename)
	assert.Equal(t, f.staging.Path(resp.TaskID+".csv"), task.Filepath)

	data, err := os.ReadFile(task.Filepath)
	require.NoError(t, err)
	assert.Equal(t, "name,email\nAda,ada@example.com\n", string(data))

	assert.Empty(t, f.trigger.calls, "intake does not start processing")
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		wantErr  string
	}{
		{name: "missing file part", field: "", wantErr: "no file part"},
		{name: "wrong extension", field: "file", filename: "accounts.pdf", wantErr: "unsupported file type"},
		{name: "no extension", field: "file", filename: "accounts", wantErr: "unsupported file type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, IngestConfig{})
			rec := f.do(multipartRequest(t, tt.field, tt.filename, "a,b\n"))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.wantErr)

			tasks, err := f.registry.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, tasks)
		})
	}
}

func TestUploadAcceptsUppercaseExtension(t *testing.T) {
	f := newFixture(t, IngestConfig{})
	rec := f.do(multipartRequest(t, "file", "ACCOUNTS.CSV", "email\n"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadAutoStart(t *testing.T) {
	f := newFixture(t, IngestConfig{AutoStart: true})

	rec := f.do(multipartRequest(t, "file", "accounts.csv", "email\na@example.com\n"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.StatusProcessing, resp.Status)
	assert.Equal(t, []string{resp.TaskID}, f.trigger.calls)
}

func TestStart(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "accepted", wantStatus: http.StatusAccepted},
		{name: "unknown task", err: fmt.Errorf("task x: %w", types.ErrNotFound), wantStatus: http.StatusNotFound},
		{name: "already running", err: fmt.Errorf("task x: %w", types.ErrConflict), wantStatus: http.StatusConflict},
		{name: "store failure", err: fmt.Errorf("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, IngestConfig{})
			f.trigger.err = tt.err

			rec := f.do(httptest.NewRequest(http.MethodPost, "/api/ingest/tasks/abc/start", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, []string{"abc"}, f.trigger.calls)
			if tt.err == nil {
				assert.JSONEq(t, `{"status":"processing started"}`, rec.Body.String())
			}
		})
	}
}

func TestTaskSnapshot(t *testing.T) {
	f := newFixture(t, IngestConfig{})
	ctx := context.Background()

	_, err := f.registry.Create(ctx, &types.Task{
		ID:     "t1",
		Status: types.StatusDone,
		Errors: []string{"row 3: customer_email: required field is missing"},
		Result: &types.TaskResult{CasesCreated: 4, RowsSkipped: 1},
	})
	require.NoError(t, err)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/ingest/tasks/t1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cases_created":4`)
	assert.Contains(t, rec.Body.String(), "row 3")

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/ingest/tasks/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressStreamsTerminalSnapshot(t *testing.T) {
	f := newFixture(t, IngestConfig{})
	ctx := context.Background()

	_, err := f.registry.Create(ctx, &types.Task{
		ID:               "t1",
		Status:           types.StatusDone,
		Message:          "created 2 cases and 1 customers, skipped 0 rows",
		TotalRows:        2,
		CurrentProcessed: 2,
	})
	require.NoError(t, err)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/ingest/tasks/t1/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, events, 1)
	require.True(t, strings.HasPrefix(events[0], "data: "))

	var snap types.Snapshot
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(events[0], "data: ")), &snap))
	assert.Equal(t, types.StatusDone, snap.Status)
	assert.Equal(t, 2, snap.CurrentAssigned)
	assert.Equal(t, 2, snap.TotalRows)
}

func TestProgressFollowsUpdates(t *testing.T) {
	f := newFixture(t, IngestConfig{})
	ctx := context.Background()

	_, err := f.registry.Create(ctx, &types.Task{ID: "t1", Status: types.StatusReceived})
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = f.registry.Update(ctx, "t1", func(t *types.Task) error {
			t.Status = types.StatusError
			t.Message = "ingestion failed: decode failed at line 1: bad input"
			return nil
		})
	}()

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/ingest/tasks/t1/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	events := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, events, 2)
	assert.Contains(t, events[0], `"status":"received"`)
	assert.Contains(t, events[1], `"status":"error"`)
}

func TestProgressUnknownTask(t *testing.T) {
	f := newFixture(t, IngestConfig{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/ingest/tasks/nope/progress", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
