package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zju-rshub/rsagent/pkg/models"
)

func setupTestManager(t *testing.T) (*Hub, *Manager, *httptest.Server) {
	t.Helper()

	hub := NewHub(30 * time.Second)
	manager := NewManager(hub, 5*time.Second)
	hub.SetBroadcaster(manager)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn, r.URL.Query().Get("session_id"))
	}))

	t.Cleanup(func() { server.Close() })
	return hub, manager, server
}

func connectWS(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):] + "?session_id=" + sessionID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitForSubscribers(t *testing.T, manager *Manager, sessionID string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return manager.SubscriberCount(sessionID) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_ConnectedEvent(t *testing.T) {
	_, _, server := setupTestManager(t)
	conn := connectWS(t, server, "s1")

	msg := readJSON(t, conn)
	assert.Equal(t, "connected", msg["type"])
	assert.Equal(t, "s1", msg["session_id"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestManager_CatchupOnSubscribe(t *testing.T) {
	hub, _, server := setupTestManager(t)

	// Publish more than the catchup window before anyone subscribes.
	for i := 0; i < 15; i++ {
		hub.Publish("s1", "event", models.StageProcessing, map[string]any{"seq": i})
	}

	conn := connectWS(t, server, "s1")

	msg := readJSON(t, conn)
	require.Equal(t, "connected", msg["type"])

	// Exactly the last 10 buffered events, in order.
	for want := 5; want < 15; want++ {
		evt := readJSON(t, conn)
		meta, ok := evt["metadata"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(want), meta["seq"])
	}
}

func TestManager_LiveBroadcastOrder(t *testing.T) {
	hub, manager, server := setupTestManager(t)
	conn := connectWS(t, server, "s1")

	msg := readJSON(t, conn)
	require.Equal(t, "connected", msg["type"])
	waitForSubscribers(t, manager, "s1", 1)

	stages := []models.ProgressStage{
		models.StageInit, models.StageAnalyzing, models.StageProcessing,
		models.StageLLMCall, models.StageCompleting, models.StageCompleted,
	}
	for _, st := range stages {
		hub.Publish("s1", "msg", st, nil)
	}

	for _, want := range stages {
		evt := readJSON(t, conn)
		assert.Equal(t, string(want), evt["stage"])
	}
}

func TestManager_BroadcastIsolatesSessions(t *testing.T) {
	hub, manager, server := setupTestManager(t)
	conn1 := connectWS(t, server, "s1")
	conn2 := connectWS(t, server, "s2")

	require.Equal(t, "connected", readJSON(t, conn1)["type"])
	require.Equal(t, "connected", readJSON(t, conn2)["type"])
	waitForSubscribers(t, manager, "s1", 1)
	waitForSubscribers(t, manager, "s2", 1)

	hub.Publish("s2", "only for s2", models.StageInit, nil)

	evt := readJSON(t, conn2)
	assert.Equal(t, "s2", evt["session_id"])

	// conn1 must not have received anything; poll with a short deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := conn1.Read(ctx)
	assert.Error(t, err)
}

func TestManager_PingPong(t *testing.T) {
	_, _, server := setupTestManager(t)
	conn := connectWS(t, server, "s1")
	require.Equal(t, "connected", readJSON(t, conn)["type"])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"action":"ping"}`)))

	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestManager_ExtraSubscription(t *testing.T) {
	hub, manager, server := setupTestManager(t)
	conn := connectWS(t, server, "s1")
	require.Equal(t, "connected", readJSON(t, conn)["type"])
	waitForSubscribers(t, manager, "s1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"action":"subscribe","channel":"s9"}`)))

	msg := readJSON(t, conn)
	assert.Equal(t, "subscription.confirmed", msg["type"])
	assert.Equal(t, "s9", msg["channel"])
	waitForSubscribers(t, manager, "s9", 1)

	hub.Publish("s9", "cross-session", models.StageInit, nil)
	evt := readJSON(t, conn)
	assert.Equal(t, "s9", evt["session_id"])
}

func TestManager_DisconnectReleasesBuffer(t *testing.T) {
	hub, manager, server := setupTestManager(t)
	conn := connectWS(t, server, "s1")
	require.Equal(t, "connected", readJSON(t, conn)["type"])
	waitForSubscribers(t, manager, "s1", 1)

	hub.Publish("s1", "event", models.StageInit, nil)
	require.Equal(t, "s1", readJSON(t, conn)["session_id"])

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	waitForSubscribers(t, manager, "s1", 0)

	// Last subscriber left: the buffer was freed.
	require.Eventually(t, func() bool {
		return len(hub.Recent("s1", 10)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
