package handlers

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/san-kum/detection-lights/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func newHubServer(t *testing.T, hub *RecordHub) *httptest.Server {
	t.Helper()
	router := gin.New()
	router.GET("/ws/records", hub.HandleWebSocket)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestRecordHubBroadcasts(t *testing.T) {
	hub := NewRecordHub(nil, zap.NewNop())
	srv := newHubServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/records"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, hub.Write(&models.LogRecord{Frame: 5, LightColor: models.LightGreen, Note: models.NoteLightChanged}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg struct {
		Type string           `json:"type"`
		Data models.LogRecord `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "record", msg.Type)
	assert.Equal(t, uint64(5), msg.Data.Frame)
	assert.Equal(t, models.LightGreen, msg.Data.LightColor)
	assert.Equal(t, models.NoteLightChanged, msg.Data.Note)
}

func TestRecordHubWriteWithoutViewers(t *testing.T) {
	hub := NewRecordHub(nil, zap.NewNop())
	assert.NoError(t, hub.Write(&models.LogRecord{Frame: 1}))
	assert.Equal(t, "websocket", hub.Name())
}

func TestRecordHubDropsForSlowViewer(t *testing.T) {
	hub := NewRecordHub(nil, zap.NewNop())
	client := hub.register()
	require.NotNil(t, client)

	for i := 0; i < clientBuffer+10; i++ {
		require.NoError(t, hub.Write(&models.LogRecord{Frame: uint64(i)}))
	}
	assert.Equal(t, 10, hub.unregister(client))
}

func TestRecordHubCloseDisconnectsViewers(t *testing.T) {
	hub := NewRecordHub(nil, zap.NewNop())
	srv := newHubServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/records"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, hub.Close())

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	assert.Nil(t, hub.register())
}

func TestRecordHubOriginCheck(t *testing.T) {
	hub := NewRecordHub(func(origin string) bool { return origin == "http://ops.local" }, zap.NewNop())
	srv := newHubServer(t, hub)

	header := map[string][]string{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/records"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}

func newIngestServer(t *testing.T, ctrl *fakeController) *httptest.Server {
	t.Helper()
	ingest := NewDetectionIngest(ctrl, nil, zap.NewNop())
	router := gin.New()
	router.GET("/ws/detections", ingest.HandleWebSocket)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestDetectionIngestDelivers(t *testing.T) {
	ctrl := &fakeController{}
	srv := newIngestServer(t, ctrl)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/detections"), nil)
	require.NoError(t, err)
	defer conn.Close()

	caps := `"caps":{"format":"RGB","width":640,"height":480}`
	for _, msg := range []string{
		fmt.Sprintf(`{"frame":1,%s,"detections":[{"label":"car","confidence":0.9}]}`, caps),
		`{"frame":2}`,
		fmt.Sprintf(`{"frame":3,%s}`, caps),
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}

	require.Eventually(t, func() bool { return len(ctrl.events()) == 2 }, time.Second, time.Millisecond)
	events := ctrl.events()
	assert.Equal(t, uint64(1), events[0].Frame)
	assert.Equal(t, uint64(3), events[1].Frame)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestDetectionIngestRejectsGarbage(t *testing.T) {
	ctrl := &fakeController{}
	srv := newIngestServer(t, ctrl)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/detections"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "error", msg.Type)
}

func TestDetectionIngestClosesOnShutdown(t *testing.T) {
	ctrl := &fakeController{closed: true}
	srv := newIngestServer(t, ctrl)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/detections"), nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := `{"frame":1,"caps":{"format":"RGB","width":640,"height":480}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "shutting down", closeErr.Text)
}
