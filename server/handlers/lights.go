package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/detection-lights/server/cache"
	"github.com/san-kum/detection-lights/server/models"
	"github.com/san-kum/detection-lights/server/processor"
	"go.uber.org/zap"
)

// LightController is the part of the controller the operator API drives.
type LightController interface {
	Snapshot() models.Snapshot
	QueueStats() processor.QueueStats
	SetLightsEnabled(enabled bool) error
	ToggleLights() (bool, error)
}

// StateReader returns the last snapshot published to the state cache.
type StateReader interface {
	Latest(ctx context.Context) (models.Snapshot, error)
}

// RecordCounter reports how many log records have been written.
type RecordCounter interface {
	Count() int64
}

type LightsHandler struct {
	controller LightController
	states     StateReader
	records    RecordCounter
	runID      string
	variant    string
	logger     *zap.Logger
}

type StatusResponse struct {
	RunID         string               `json:"run_id"`
	Variant       string               `json:"variant"`
	Light         models.LightState    `json:"light"`
	On            bool                 `json:"on"`
	LightsEnabled bool                 `json:"lights_enabled"`
	Uptime        float64              `json:"uptime_seconds"`
	DetectionRate float64              `json:"detection_rate_pct"`
	LogRecords    int64                `json:"log_records"`
	State         models.Snapshot      `json:"state"`
	Queue         processor.QueueStats `json:"queue"`
}

func NewLightsHandler(controller LightController, states StateReader, records RecordCounter, runID, variant string, logger *zap.Logger) *LightsHandler {
	return &LightsHandler{
		controller: controller,
		states:     states,
		records:    records,
		runID:      runID,
		variant:    variant,
		logger:     logger,
	}
}

func (h *LightsHandler) GetStatus(c *gin.Context) {
	snap := h.controller.Snapshot()

	var rate float64
	if snap.TotalFrames > 0 {
		rate = float64(snap.FramesWithDetection) / float64(snap.TotalFrames) * 100
	}

	var records int64
	if h.records != nil {
		records = h.records.Count()
	}

	c.JSON(http.StatusOK, StatusResponse{
		RunID:         h.runID,
		Variant:       h.variant,
		Light:         snap.Current,
		On:            snap.On(),
		LightsEnabled: snap.LightsEnabled,
		Uptime:        time.Since(snap.Start).Seconds(),
		DetectionRate: rate,
		LogRecords:    records,
		State:         snap,
		Queue:         h.controller.QueueStats(),
	})
}

// GetState serves the published snapshot, which may lag the controller by
// one publish cycle.
func (h *LightsHandler) GetState(c *gin.Context) {
	if h.states == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "State publishing disabled"})
		return
	}

	snap, err := h.states.Latest(c.Request.Context())
	if errors.Is(err, cache.ErrCacheMiss) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No state published yet"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read published state", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "State cache unavailable"})
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (h *LightsHandler) EnableLights(c *gin.Context) {
	h.setEnabled(c, true)
}

func (h *LightsHandler) DisableLights(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *LightsHandler) ToggleLights(c *gin.Context) {
	enabled, err := h.controller.ToggleLights()
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Lights toggled by operator",
		zap.Bool("enabled", enabled),
		zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"lights_enabled": enabled})
}

func (h *LightsHandler) setEnabled(c *gin.Context, enabled bool) {
	if err := h.controller.SetLightsEnabled(enabled); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Lights set by operator",
		zap.Bool("enabled", enabled),
		zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"lights_enabled": enabled})
}

func (h *LightsHandler) respondError(c *gin.Context, err error) {
	if errors.Is(err, processor.ErrControllerClosed) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Controller is shutting down"})
		return
	}
	h.logger.Error("Light control failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Light control failed"})
}
