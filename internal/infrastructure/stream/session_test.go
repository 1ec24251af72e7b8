package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intervo/stream-gateway/internal/domain"
	"github.com/intervo/stream-gateway/internal/infrastructure/broker"
)

// fakeSocket scripts the peer side of a connection.
type fakeSocket struct {
	mu     sync.Mutex
	reads  chan []byte
	writes []fakeFrame
	closed bool
}

type fakeFrame struct {
	messageType int
	data        []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{reads: make(chan []byte, 16)}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	data, ok := <-s.reads
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, data, nil
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	s.writes = append(s.writes, fakeFrame{messageType: messageType, data: data})
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) closeFrame() (fakeFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.writes {
		if f.messageType == websocket.CloseMessage {
			return f, true
		}
	}
	return fakeFrame{}, false
}

// fakeDirectory resolves widget IDs from a fixed map.
type fakeDirectory struct {
	agents map[string]*domain.PublishedAgent
}

func (d *fakeDirectory) FindPublishedByWidgetID(ctx context.Context, widgetID string) (*domain.PublishedAgent, error) {
	if a, ok := d.agents[widgetID]; ok {
		return a, nil
	}
	return nil, domain.ErrAgentNotFound
}

// recordingHandler captures dispatch and message traffic.
type recordingHandler struct {
	mu       sync.Mutex
	startErr error
	started  bool
	mode     string
	params   map[string]string
	messages [][]byte
}

func (h *recordingHandler) Start(ctx context.Context, conn *Conn, req *http.Request, rooms *broker.Broker, mode string, params map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return h.startErr
	}
	h.started = true
	h.mode = mode
	h.params = params
	return nil
}

func (h *recordingHandler) HandleMessage(raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, raw)
}

func (h *recordingHandler) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

type sessionFixture struct {
	socket   *fakeSocket
	conn     *Conn
	rooms    *broker.Broker
	caller   *recordingHandler
	observer *recordingHandler
	chat     *recordingHandler
	session  *Session
}

func newSessionFixture(t *testing.T, target string, agents domain.AgentDirectory) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		socket:   newFakeSocket(),
		rooms:    broker.New(broker.Options{}),
		caller:   &recordingHandler{},
		observer: &recordingHandler{},
		chat:     &recordingHandler{},
	}
	f.conn = NewConn(f.socket)

	registry := NewRegistry(
		func() ConversationHandler { return f.caller },
		func() ConversationHandler { return f.observer },
		func() ConversationHandler { return f.chat },
	)

	req := httptest.NewRequest(http.MethodGet, target, nil)
	f.session = NewSession(f.conn, req, f.rooms, agents, registry, nil)
	return f
}

func startFrame(params string) []byte {
	return []byte(`{"event":"start","start":{"customParameters":{` + params + `}}}`)
}

func TestSession_AdmitsWithDirectAgentIdentity(t *testing.T) {
	f := newSessionFixture(t, "/stream", nil)

	f.session.HandleInbound(context.Background(), startFrame(`"agent-id":"A1","conversation-id":"conv1"`))

	assert.Equal(t, StateDispatched, f.session.State())
	assert.True(t, f.rooms.HasRoom("A1-conv1"))
	assert.Equal(t, "A1-conv1", f.conn.RoomKey())
	assert.True(t, f.caller.started)
	assert.Equal(t, ModeCall, f.caller.mode)
	// The admission frame is replayed to the freshly installed handler.
	assert.Equal(t, 1, f.caller.messageCount())
}

func TestSession_ResolvesWidgetToPublishedAgent(t *testing.T) {
	directory := &fakeDirectory{agents: map[string]*domain.PublishedAgent{
		"w1": {ID: "A1", WidgetID: "w1"},
	}}
	f := newSessionFixture(t, "/stream", directory)

	f.session.HandleInbound(context.Background(), startFrame(`"widgetId":"w1","conversationId":"conv9"`))

	assert.Equal(t, StateDispatched, f.session.State())
	assert.True(t, f.rooms.HasRoom("A1-conv9"))
}

func TestSession_UnresolvedWidgetAbortsWithCloseFrame(t *testing.T) {
	f := newSessionFixture(t, "/stream", &fakeDirectory{})

	f.session.HandleInbound(context.Background(), startFrame(`"widgetId":"unknown"`))

	assert.Equal(t, StateAborted, f.session.State())
	assert.True(t, f.socket.isClosed())
	assert.Equal(t, 0, f.rooms.RoomCount())

	frame, ok := f.socket.closeFrame()
	require.True(t, ok)
	expected := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, widgetNotFoundReason)
	assert.Equal(t, expected, frame.data)
}

func TestSession_MissingIdentityKeepsWaiting(t *testing.T) {
	f := newSessionFixture(t, "/stream", nil)

	f.session.HandleInbound(context.Background(), startFrame(``))

	assert.Equal(t, StateAwaitingStart, f.session.State())
	assert.False(t, f.socket.isClosed())

	// A later admission message with identity still succeeds.
	f.session.HandleInbound(context.Background(), startFrame(`"agentId":"A1","conversationId":"conv1"`))
	assert.Equal(t, StateDispatched, f.session.State())
}

func TestSession_MalformedIdentityKeepsWaiting(t *testing.T) {
	f := newSessionFixture(t, "/stream", nil)

	f.session.HandleInbound(context.Background(), startFrame(`"agent-id":"has spaces"`))

	assert.Equal(t, StateAwaitingStart, f.session.State())
	assert.Equal(t, 0, f.rooms.RoomCount())
}

func TestSession_SecondStartIsIgnored(t *testing.T) {
	f := newSessionFixture(t, "/stream", nil)

	f.session.HandleInbound(context.Background(), startFrame(`"agent-id":"A1","conversation-id":"conv1"`))
	f.session.HandleInbound(context.Background(), startFrame(`"agent-id":"A2","conversation-id":"conv2"`))

	assert.True(t, f.rooms.HasRoom("A1-conv1"))
	assert.False(t, f.rooms.HasRoom("A2-conv2"))
	assert.Equal(t, 1, f.rooms.MemberCount("A1-conv1"))
	// The second frame goes to the handler like any other post-dispatch frame.
	assert.Equal(t, 2, f.caller.messageCount())
}

func TestSession_DropsNoiseBeforeAdmission(t *testing.T) {
	f := newSessionFixture(t, "/stream", nil)

	f.session.HandleInbound(context.Background(), []byte("not json at all"))
	f.session.HandleInbound(context.Background(), []byte(`{"event":"media","payload":"x"}`))

	assert.Equal(t, StateAwaitingStart, f.session.State())
	assert.Equal(t, 0, f.caller.messageCount())

	f.session.HandleInbound(context.Background(), startFrame(`"agentId":"A1"`))
	assert.Equal(t, StateDispatched, f.session.State())
}

func TestSession_GeneratesConversationIDWhenAbsent(t *testing.T) {
	f := newSessionFixture(t, "/stream", nil)

	f.session.HandleInbound(context.Background(), startFrame(`"agent-id":"A1"`))

	require.Equal(t, StateDispatched, f.session.State())
	key := f.conn.RoomKey()
	require.True(t, strings.HasPrefix(key, "A1-"))
	assert.NotEmpty(t, strings.TrimPrefix(key, "A1-"))
}

func TestSession_ObserverChatModeGetsBothHandlers(t *testing.T) {
	f := newSessionFixture(t, "/stream?type=client", nil)

	f.session.HandleInbound(context.Background(), startFrame(`"agent-id":"A1","conversation-id":"conv1","mode":"chat"`))

	assert.Equal(t, StateDispatched, f.session.State())
	assert.True(t, f.observer.started)
	assert.True(t, f.chat.started)
	assert.False(t, f.caller.started)
	assert.Equal(t, ModeChat, f.observer.mode)
}

func TestSession_ObserverCallModeGetsObserverOnly(t *testing.T) {
	f := newSessionFixture(t, "/stream?type=client", nil)

	f.session.HandleInbound(context.Background(), startFrame(`"agent-id":"A1","conversation-id":"conv1"`))

	assert.True(t, f.observer.started)
	assert.False(t, f.chat.started)
	assert.False(t, f.caller.started)
}

func TestSession_HandlerStartFailureAborts(t *testing.T) {
	f := newSessionFixture(t, "/stream", nil)
	f.caller.startErr = errors.New("upstream unavailable")

	f.session.HandleInbound(context.Background(), startFrame(`"agent-id":"A1","conversation-id":"conv1"`))

	assert.Equal(t, StateAborted, f.session.State())
	assert.True(t, f.socket.isClosed())
	assert.Equal(t, 0, f.caller.messageCount())
}

func TestSession_RunReleasesMembershipOnDisconnect(t *testing.T) {
	f := newSessionFixture(t, "/stream", nil)

	f.socket.reads <- startFrame(`"agent-id":"A1","conversation-id":"conv1"`)
	f.socket.reads <- []byte(`{"event":"media","payload":"x"}`)
	close(f.socket.reads)

	f.session.Run(context.Background())

	assert.Equal(t, StateClosed, f.session.State())
	assert.False(t, f.rooms.HasRoom("A1-conv1"))
	assert.True(t, f.socket.isClosed())
	assert.Equal(t, 2, f.caller.messageCount())
}
