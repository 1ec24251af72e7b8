package stream

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/intervo/stream-gateway/internal/domain"
	"github.com/intervo/stream-gateway/internal/infrastructure/broker"
	"github.com/intervo/stream-gateway/internal/infrastructure/logging"
	"github.com/intervo/stream-gateway/internal/infrastructure/metrics"
	"github.com/intervo/stream-gateway/internal/infrastructure/validate"
)

// Room keys end up in log lines, bus events, and directory documents, so the
// identity pieces that form them are kept sane here.
var roomKeyField = validate.Field("roomKey",
	validate.Required(),
	validate.NoSpaces(),
	validate.MaxLength(256),
)

type State int

const (
	StateAwaitingStart State = iota
	StateResolvingIdentity
	StateJoining
	StateDispatched
	StateAborted
	StateClosed
)

const widgetNotFoundReason = "published agent configuration not found for widget"

// startMessage is the admission message: the first control message on a
// connection that carries routing parameters.
type startMessage struct {
	Event string `json:"event"`
	Start struct {
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start"`
}

// Session drives one connection from admission to dispatch. It exclusively
// owns the underlying connection; the room broker only ever holds a
// membership reference to it.
type Session struct {
	conn     *Conn
	req      *http.Request
	rooms    *broker.Broker
	agents   domain.AgentDirectory
	registry *Registry
	logger   logging.Logger

	kind       HandlerKind
	mode       string
	state      State
	dispatched bool
	handlers   []ConversationHandler
}

func NewSession(conn *Conn, req *http.Request, rooms *broker.Broker, agents domain.AgentDirectory, registry *Registry, logger logging.Logger) *Session {
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Session{
		conn:     conn,
		req:      req,
		rooms:    rooms,
		agents:   agents,
		registry: registry,
		logger:   logger,
		state:    StateAwaitingStart,
	}

	// Connection kind comes from the upgrade request, not the admission
	// message: a "type" header or query parameter of "client" marks an
	// observer leg, anything else is the caller/media leg.
	kind := req.Header.Get("type")
	if kind == "" {
		kind = req.URL.Query().Get("type")
	}
	if kind == "client" {
		s.kind = KindObserver
	} else {
		s.kind = KindCaller
	}

	return s
}

func (s *Session) State() State {
	return s.state
}

// Run pumps inbound frames until the connection closes, then releases room
// membership. All session logic executes on this one goroutine.
func (s *Session) Run(ctx context.Context) {
	defer s.handleClose(ctx)

	for {
		_, raw, err := s.conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Debug(logging.WebSocket, logging.Admission, "read error", map[logging.ExtraKey]any{
					logging.ConnectionID: s.conn.ID(),
					logging.ErrorMessage: err.Error(),
				})
			}
			return
		}
		s.HandleInbound(ctx, raw)
	}
}

// HandleInbound processes one inbound frame. Before dispatch only a valid
// admission message is acted on; malformed or unrelated frames are dropped
// and the session keeps waiting. After dispatch every frame goes to the
// installed handlers.
func (s *Session) HandleInbound(ctx context.Context, raw []byte) {
	if s.dispatched {
		for _, h := range s.handlers {
			h.HandleMessage(raw)
		}
		return
	}

	var msg startMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Debug(logging.WebSocket, logging.Admission, "dropping unparseable frame", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	if msg.Event != "start" {
		return
	}

	s.admit(ctx, raw, msg.Start.CustomParameters)
}

// admit resolves routing identity, joins the room, and dispatches to exactly
// one handler configuration. The dispatched guard makes this at-most-once: a
// second admission message is ignored, never processed concurrently.
func (s *Session) admit(ctx context.Context, raw []byte, params map[string]string) {
	if s.dispatched {
		return
	}

	s.state = StateResolvingIdentity

	agentID := firstNonEmpty(params["agent-id"], params["agentId"])
	widgetID := params["widgetId"]

	s.mode = params["mode"]
	if s.mode == "" {
		s.mode = ModeCall
	}

	conversationID := firstNonEmpty(params["conversation-id"], params["conversationId"])
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	if agentID == "" {
		if widgetID == "" {
			s.logger.Warn(logging.WebSocket, logging.Admission, "admission message carries no agent or widget identity", nil)
			metrics.Admissions.WithLabelValues("no_identity").Inc()
			s.state = StateAwaitingStart
			return
		}

		agent, err := s.lookupAgent(ctx, widgetID)
		if err != nil {
			s.logger.Error(logging.WebSocket, logging.Admission, "could not resolve published agent for widget", map[logging.ExtraKey]any{
				logging.WidgetID:     widgetID,
				logging.ErrorMessage: err.Error(),
			})
			metrics.Admissions.WithLabelValues("unresolved_widget").Inc()
			_ = s.conn.CloseWithReason(websocket.CloseInternalServerErr, widgetNotFoundReason)
			s.state = StateAborted
			return
		}
		agentID = agent.ID
	}

	roomKey := agentID + "-" + conversationID
	if err := roomKeyField(roomKey); err != nil {
		s.logger.Warn(logging.WebSocket, logging.Admission, "rejecting admission with malformed identity", map[logging.ExtraKey]any{
			logging.AgentID:      agentID,
			logging.ErrorMessage: err.Error(),
		})
		metrics.Admissions.WithLabelValues("invalid_identity").Inc()
		s.state = StateAwaitingStart
		return
	}

	s.state = StateJoining
	s.rooms.Join(ctx, roomKey, s.conn)
	s.conn.setRoomKey(roomKey)

	s.logger.Info(logging.WebSocket, logging.Admission, "connection admitted", map[logging.ExtraKey]any{
		logging.RoomKey:      roomKey,
		logging.AgentID:      agentID,
		logging.ConnectionID: s.conn.ID(),
	})

	if err := s.dispatch(ctx, params); err != nil {
		s.logger.Error(logging.WebSocket, logging.Dispatch, "handler setup failed", map[logging.ExtraKey]any{
			logging.RoomKey:      roomKey,
			logging.ErrorMessage: err.Error(),
		})
		metrics.Admissions.WithLabelValues("dispatch_failed").Inc()
		_ = s.conn.Close()
		s.state = StateAborted
		return
	}

	s.dispatched = true
	s.state = StateDispatched
	metrics.Admissions.WithLabelValues("dispatched").Inc()

	// The handlers were not installed when the admission frame arrived, so
	// replay it explicitly: phase two of the handoff.
	for _, h := range s.handlers {
		h.HandleMessage(raw)
	}
}

func (s *Session) lookupAgent(ctx context.Context, widgetID string) (*domain.PublishedAgent, error) {
	if s.agents == nil {
		return nil, domain.ErrAgentNotFound
	}
	return s.agents.FindPublishedByWidgetID(ctx, widgetID)
}

func (s *Session) dispatch(ctx context.Context, params map[string]string) error {
	if s.kind == KindObserver && s.mode == ModeChat {
		s.kind = KindObserverChat
	}

	switch s.kind {
	case KindObserver, KindObserverChat:
		h := s.registry.observer()
		if err := h.Start(ctx, s.conn, s.req, s.rooms, s.mode, params); err != nil {
			return err
		}
		s.handlers = append(s.handlers, h)

		if s.kind == KindObserverChat {
			ch := s.registry.chat()
			if err := ch.Start(ctx, s.conn, s.req, s.rooms, ModeChat, params); err != nil {
				return err
			}
			s.handlers = append(s.handlers, ch)
		}
	default:
		h := s.registry.caller()
		if err := h.Start(ctx, s.conn, s.req, s.rooms, ModeCall, params); err != nil {
			return err
		}
		s.handlers = append(s.handlers, h)
	}

	return nil
}

// handleClose releases room membership if the connection ever joined, then
// marks the session terminal.
func (s *Session) handleClose(ctx context.Context) {
	if key := s.conn.RoomKey(); key != "" {
		s.rooms.Leave(ctx, key, s.conn)
	}
	_ = s.conn.Close()

	if s.state != StateAborted {
		s.state = StateClosed
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
