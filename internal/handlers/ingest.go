package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/recoverydesk/case-service/internal/progress"
	"github.com/recoverydesk/case-service/internal/registry"
	"github.com/recoverydesk/case-service/internal/storage"
	"github.com/recoverydesk/case-service/internal/types"
)

// Trigger starts the worker of a received task
type Trigger interface {
	Trigger(ctx context.Context, id string) error
}

// IngestConfig controls intake behavior
type IngestConfig struct {
	AllowedExtensions []string
	AutoStart         bool
	MaxUploadBytes    int64
}

// IngestHandler serves the /api/ingest routes
type IngestHandler struct {
	registry registry.Registry
	staging  storage.Staging
	trigger  Trigger
	streamer *progress.Streamer
	cfg      IngestConfig
	logger   zerolog.Logger
}

// UploadResponse is returned by a successful intake
type UploadResponse struct {
	TaskID string           `json:"taskId"`
	Status types.TaskStatus `json:"status"`
}

// StartResponse is returned when a task is triggered
type StartResponse struct {
	Status string `json:"status"`
}

func NewIngestHandler(reg registry.Registry, staging storage.Staging, trigger Trigger, streamer *progress.Streamer, cfg IngestConfig, logger zerolog.Logger) *IngestHandler {
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".csv", ".xlsx"}
	}
	return &IngestHandler{
		registry: reg,
		staging:  staging,
		trigger:  trigger,
		streamer: streamer,
		cfg:      cfg,
		logger:   logger.With().Str("component", "ingest_handler").Logger(),
	}
}

// Register mounts the ingestion routes on rg
func (h *IngestHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/upload", h.Upload)
	rg.POST("/tasks/:id/start", h.Start)
	rg.GET("/tasks/:id/progress", h.Progress)
	rg.GET("/tasks/:id", h.Task)
}

// Upload stages a file and registers a received task
// POST /api/ingest/upload (multipart field "file")
func (h *IngestHandler) Upload(c *gin.Context) {
	if h.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, &types.IntakeError{Reason: fmt.Sprintf("file exceeds %d bytes", tooLarge.Limit)})
			return
		}
		respondError(c, &types.IntakeError{Reason: "no file part in request"})
		return
	}
	filename := filepath.Base(strings.TrimSpace(header.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		respondError(c, &types.IntakeError{Reason: "no file selected"})
		return
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !slices.Contains(h.cfg.AllowedExtensions, ext) {
		respondError(c, &types.IntakeError{
			Reason: fmt.Sprintf("unsupported file type %q, expected one of %s", ext, strings.Join(h.cfg.AllowedExtensions, ", ")),
		})
		return
	}

	ctx := c.Request.Context()
	id := registry.NewTaskID()

	src, err := header.Open()
	if err != nil {
		respondError(c, fmt.Errorf("failed to open upload: %w", err))
		return
	}
	info, err := h.stage(ctx, id+ext, src)
	if err != nil {
		h.logger.Error().Err(err).Str("task_id", id).Msg("Failed to stage upload")
		respondError(c, err)
		return
	}

	task := &types.Task{
		ID:       id,
		Status:   types.StatusReceived,
		Message:  "file received",
		Filepath: info.Path,
		Filename: filename,
	}
	if _, err := h.registry.Create(ctx, task); err != nil {
		_ = h.staging.Delete(ctx, info.Key)
		respondError(c, err)
		return
	}

	h.logger.Info().
		Str("task_id", id).
		Str("filename", filename).
		Int64("size", info.Size).
		Str("checksum", info.Checksum).
		Msg("Upload received")

	status := types.StatusReceived
	if h.cfg.AutoStart {
		if err := h.trigger.Trigger(ctx, id); err != nil {
			h.logger.Error().Err(err).Str("task_id", id).Msg("Automatic trigger failed")
		} else {
			status = types.StatusProcessing
		}
	}

	c.JSON(http.StatusOK, UploadResponse{TaskID: id, Status: status})
}

func (h *IngestHandler) stage(ctx context.Context, key string, src io.ReadCloser) (*storage.FileInfo, error) {
	defer src.Close()
	return h.staging.Put(ctx, key, src)
}

// Start triggers processing of a received task
// POST /api/ingest/tasks/:id/start
func (h *IngestHandler) Start(c *gin.Context) {
	id := c.Param("id")
	if err := h.trigger.Trigger(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, StartResponse{Status: "processing started"})
}

// Task returns the full task state
// GET /api/ingest/tasks/:id
func (h *IngestHandler) Task(c *gin.Context) {
	task, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Progress streams task snapshots as server-sent events until the task is
// terminal or the client disconnects
// GET /api/ingest/tasks/:id/progress
func (h *IngestHandler) Progress(c *gin.Context) {
	id := c.Param("id")
	snapshots, err := h.streamer.Subscribe(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for snap := range snapshots {
		if err := progress.WriteEvent(c.Writer, snap); err != nil {
			h.logger.Debug().Err(err).Str("task_id", id).Msg("Progress client went away")
			return
		}
		c.Writer.Flush()
	}
}
