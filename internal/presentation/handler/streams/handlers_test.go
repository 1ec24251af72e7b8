package streams

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intervo/stream-gateway/internal/conversation"
	"github.com/intervo/stream-gateway/internal/infrastructure/broker"
	"github.com/intervo/stream-gateway/internal/infrastructure/stream"
)

func newTestServer(t *testing.T) (*httptest.Server, *broker.Broker) {
	t.Helper()

	rooms := broker.New(broker.Options{})
	registry := stream.NewRegistry(
		conversation.NewCallerRelayFactory(nil),
		conversation.NewObserverRelayFactory(nil),
		conversation.NewChatRelayFactory(nil),
	)

	h := NewHandler(rooms, nil, registry, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.Connect))
	t.Cleanup(srv.Close)
	return srv, rooms
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + query
}

func TestHandler_CallerJoinsRoomOverWebsocket(t *testing.T) {
	srv, rooms := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer ws.Close()

	start := `{"event":"start","start":{"customParameters":{"agent-id":"A1","conversation-id":"conv1"}}}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(start)))

	assert.Eventually(t, func() bool {
		return rooms.HasRoom("A1-conv1")
	}, time.Second, 10*time.Millisecond)
}

func TestHandler_ObserverGetsConnectedHandshake(t *testing.T) {
	srv, _ := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?type=client"), nil)
	require.NoError(t, err)
	defer ws.Close()

	start := `{"event":"start","start":{"customParameters":{"agent-id":"A1","conversation-id":"conv1"}}}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(start)))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)

	var hello struct {
		Event   string `json:"event"`
		RoomKey string `json:"roomKey"`
	}
	require.NoError(t, json.Unmarshal(raw, &hello))
	assert.Equal(t, "connected", hello.Event)
	assert.Equal(t, "A1-conv1", hello.RoomKey)
}

func TestHandler_DisconnectReleasesMembership(t *testing.T) {
	srv, rooms := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)

	start := `{"event":"start","start":{"customParameters":{"agent-id":"A1","conversation-id":"conv1"}}}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(start)))

	require.Eventually(t, func() bool {
		return rooms.MemberCount("A1-conv1") == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Close())

	assert.Eventually(t, func() bool {
		return !rooms.HasRoom("A1-conv1")
	}, time.Second, 10*time.Millisecond)
}

func TestHandler_RejectsDisallowedOrigin(t *testing.T) {
	rooms := broker.New(broker.Options{})
	registry := stream.NewRegistry(
		conversation.NewCallerRelayFactory(nil),
		conversation.NewObserverRelayFactory(nil),
		conversation.NewChatRelayFactory(nil),
	)

	h := NewHandler(rooms, nil, registry, nil, []string{"https://allowed.example.com"})
	srv := httptest.NewServer(http.HandlerFunc(h.Connect))
	t.Cleanup(srv.Close)

	header := map[string][]string{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
