package conversation

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/intervo/stream-gateway/internal/infrastructure/broker"
	"github.com/intervo/stream-gateway/internal/infrastructure/logging"
	"github.com/intervo/stream-gateway/internal/infrastructure/stream"
)

// ObserverRelay handles a browser/client leg watching a conversation.
// Control frames the observer sends (mute, hangup, annotations) are relayed
// to the rest of the room, caller leg included.
type ObserverRelay struct {
	conn   *stream.Conn
	rooms  *broker.Broker
	logger logging.Logger
}

func NewObserverRelayFactory(logger logging.Logger) stream.Factory {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func() stream.ConversationHandler {
		return &ObserverRelay{logger: logger}
	}
}

func (h *ObserverRelay) Start(ctx context.Context, conn *stream.Conn, req *http.Request, rooms *broker.Broker, mode string, params map[string]string) error {
	if conn == nil || rooms == nil {
		return errNotStarted
	}

	h.conn = conn
	h.rooms = rooms

	// Tell the client its leg is live before any room traffic reaches it.
	return conn.WriteJSON(map[string]any{
		"event":   "connected",
		"roomKey": conn.RoomKey(),
	})
}

func (h *ObserverRelay) HandleMessage(raw []byte) {
	if isStartFrame(raw) {
		return
	}

	h.rooms.Broadcast(context.Background(), h.conn.RoomKey(), json.RawMessage(raw), &broker.BroadcastOptions{
		Exclude: h.conn,
	})
}
