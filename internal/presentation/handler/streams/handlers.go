package streams

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/intervo/stream-gateway/internal/domain"
	"github.com/intervo/stream-gateway/internal/infrastructure/broker"
	"github.com/intervo/stream-gateway/internal/infrastructure/logging"
	"github.com/intervo/stream-gateway/internal/infrastructure/stream"
)

type Handler struct {
	rooms    *broker.Broker
	agents   domain.AgentDirectory
	registry *stream.Registry
	logger   logging.Logger
	upgrader websocket.Upgrader
}

func NewHandler(rooms *broker.Broker, agents domain.AgentDirectory, registry *stream.Registry, logger logging.Logger, allowedOrigins []string) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}

	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return &Handler{
		rooms:    rooms,
		agents:   agents,
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

// Connect upgrades the request and hands the connection to a session, which
// owns it from here on. The session goroutine outlives this handler.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(logging.WebSocket, logging.Admission, "websocket upgrade failed", map[logging.ExtraKey]any{
			logging.ClientIp:     r.RemoteAddr,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	conn := stream.NewConn(ws)
	session := stream.NewSession(conn, r, h.rooms, h.agents, h.registry, h.logger)

	// The request context dies with this handler; the session lives until
	// the peer disconnects.
	go session.Run(context.Background())
}
