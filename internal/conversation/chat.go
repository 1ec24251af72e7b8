package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/intervo/stream-gateway/internal/infrastructure/broker"
	"github.com/intervo/stream-gateway/internal/infrastructure/logging"
	"github.com/intervo/stream-gateway/internal/infrastructure/stream"
)

// ChatRelay drives the chat sub-mode of an observer leg. Inbound chat frames
// are normalized into a chat envelope before fan-out, so every member of the
// room sees the same shape regardless of which leg produced the text.
type ChatRelay struct {
	conn   *stream.Conn
	rooms  *broker.Broker
	logger logging.Logger
	params map[string]string
}

type chatEnvelope struct {
	Event     string `json:"event"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func NewChatRelayFactory(logger logging.Logger) stream.Factory {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func() stream.ConversationHandler {
		return &ChatRelay{logger: logger}
	}
}

func (h *ChatRelay) Start(ctx context.Context, conn *stream.Conn, req *http.Request, rooms *broker.Broker, mode string, params map[string]string) error {
	if conn == nil || rooms == nil {
		return errNotStarted
	}

	h.conn = conn
	h.rooms = rooms
	h.params = params
	return nil
}

func (h *ChatRelay) HandleMessage(raw []byte) {
	var frame struct {
		Event string `json:"event"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.logger.Debug(logging.WebSocket, logging.Dispatch, "dropping unparseable chat frame", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	if frame.Event != "chat" || frame.Text == "" {
		return
	}

	h.rooms.Broadcast(context.Background(), h.conn.RoomKey(), chatEnvelope{
		Event:     "chat",
		Text:      frame.Text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, &broker.BroadcastOptions{Exclude: h.conn})
}
