package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/detection-lights/server/actuator"
	"github.com/san-kum/detection-lights/server/config"
	"github.com/san-kum/detection-lights/server/models"
	"github.com/san-kum/detection-lights/server/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := config.LoadConfig()
	cfg.Actuator.Driver = config.DriverMock
	cfg.EventLog.CSVPath = filepath.Join(dir, "light_log.csv")
	cfg.EventLog.TextPath = filepath.Join(dir, "light_log.txt")
	cfg.EventLog.SQLitePath = filepath.Join(dir, "lights.db")
	cfg.Detection.Source = config.SourceNone
	cfg.Redis.Host = ""
	cfg.Security.OperatorToken = "s3cret"
	cfg.Security.RateLimitRPS = 100
	cfg.Security.RateLimitBurst = 100
	return cfg
}

func TestNewChannelMap(t *testing.T) {
	m, err := newChannelMap(map[string]string{"CHANNEL_1": "LIGHT1", "light2": "LIGHT2"})
	require.NoError(t, err)
	assert.Equal(t, actuator.ChannelMap{
		models.LightChannel1: "LIGHT1",
		models.LightChannel2: "LIGHT2",
	}, m)

	_, err = newChannelMap(map[string]string{"OFF": "RED"})
	assert.Error(t, err)
	_, err = newChannelMap(map[string]string{"PURPLE": "RED"})
	assert.Error(t, err)
}

func TestNewControllerConfig(t *testing.T) {
	cfg := testConfig(t)

	cc, err := newControllerConfig(cfg.Controller, cfg.Actuator.StateMap)
	require.NoError(t, err)
	assert.Len(t, cc.Bands, 3)
	assert.Equal(t, "car", cc.TargetLabel)
	assert.Equal(t, actuator.TrafficChannels(), cc.Channels)

	cfg.Controller.Bands = "GREEN"
	_, err = newControllerConfig(cfg.Controller, cfg.Actuator.StateMap)
	assert.Error(t, err)
}

func TestNewDriver(t *testing.T) {
	d, err := newDriver(config.ActuatorConfig{Driver: config.DriverMock, Channels: []string{"A", "B"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, d.Channels())

	_, err = newDriver(config.ActuatorConfig{Driver: "plc"})
	assert.Error(t, err)
}

func TestServerRoutes(t *testing.T) {
	cfg := testConfig(t)
	server, err := NewServer(cfg, zap.NewNop())
	require.NoError(t, err)

	request := func(method, path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, request(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, request(http.MethodGet, "/api/v1/status", "").Code)

	metrics := request(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "lights_enabled")

	assert.Equal(t, http.StatusUnauthorized, request(http.MethodPost, "/api/v1/lights/disable", "").Code)
	assert.Equal(t, http.StatusOK, request(http.MethodPost, "/api/v1/lights/disable", "s3cret").Code)
	assert.False(t, server.controller.Snapshot().LightsEnabled)

	require.Eventually(t, func() bool {
		return request(http.MethodGet, "/api/v1/state", "").Code == http.StatusOK
	}, time.Second, 5*time.Millisecond)

	// Ingest is only routed for the websocket source.
	assert.Equal(t, http.StatusNotFound, request(http.MethodGet, "/ws/detections", "").Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx, nil)

	data, err := os.ReadFile(cfg.EventLog.TextPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Note: LIGHTS DISABLED")
}

func TestRunSourceFromFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "detections.ndjson")
	lines := []string{
		`{"frame":1,"caps":{"format":"RGB","width":640,"height":480},"detections":[{"label":"car","confidence":0.9}]}`,
		`{"frame":2,"caps":{"format":"RGB","width":640,"height":480},"detections":[]}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644))
	cfg.Detection.Source = path

	server, err := NewServer(cfg, zap.NewNop())
	require.NoError(t, err)
	defer server.Shutdown(context.Background(), nil)

	require.NoError(t, server.runSource(context.Background()))

	snap := server.controller.Snapshot()
	assert.Equal(t, uint64(2), snap.TotalFrames)
	assert.Equal(t, uint64(1), snap.FramesWithDetection)
	assert.Equal(t, models.LightRed, snap.Current)
}

func TestListenFailureLeavesShutdownToCaller(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	server, err := NewServer(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	srv := &http.Server{Addr: busy.Addr().String(), Handler: server.router}
	select {
	case err := <-server.listen(srv):
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the bind to fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx, srv)

	assert.ErrorIs(t, server.controller.SetLightsEnabled(true), processor.ErrControllerClosed)
	assert.False(t, server.controller.QueueStats().IsRunning)
}
