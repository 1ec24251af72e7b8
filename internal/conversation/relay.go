package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/intervo/stream-gateway/internal/infrastructure/broker"
	"github.com/intervo/stream-gateway/internal/infrastructure/logging"
	"github.com/intervo/stream-gateway/internal/infrastructure/stream"
)

var errNotStarted = errors.New("handler not started")

// CallerRelay handles the caller/media leg: every frame after admission is
// fanned out to the rest of the room, locally and across instances, so
// observer legs see the conversation live. The sender is excluded; it
// already has its own copy.
type CallerRelay struct {
	conn   *stream.Conn
	rooms  *broker.Broker
	logger logging.Logger
	mode   string
}

func NewCallerRelayFactory(logger logging.Logger) stream.Factory {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func() stream.ConversationHandler {
		return &CallerRelay{logger: logger}
	}
}

func (h *CallerRelay) Start(ctx context.Context, conn *stream.Conn, req *http.Request, rooms *broker.Broker, mode string, params map[string]string) error {
	if conn == nil || rooms == nil {
		return errNotStarted
	}

	h.conn = conn
	h.rooms = rooms
	h.mode = mode
	return nil
}

func (h *CallerRelay) HandleMessage(raw []byte) {
	if isStartFrame(raw) {
		// Replayed admission frame; membership is already announced.
		return
	}

	h.rooms.Broadcast(context.Background(), h.conn.RoomKey(), json.RawMessage(raw), &broker.BroadcastOptions{
		Exclude: h.conn,
	})
}

// isStartFrame reports whether raw is an admission message.
func isStartFrame(raw []byte) bool {
	var frame struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return false
	}
	return frame.Event == "start"
}
