package rooms

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/intervo/stream-gateway/internal/infrastructure/broker"
	"github.com/intervo/stream-gateway/internal/infrastructure/json"
	"github.com/intervo/stream-gateway/internal/infrastructure/logging"
)

type Handler struct {
	rooms  *broker.Broker
	logger logging.Logger
}

func NewHandler(rooms *broker.Broker, logger logging.Logger) *Handler {
	return &Handler{
		rooms:  rooms,
		logger: logger,
	}
}

// GetRoomPresence reports who is in a room, gateway-wide when the membership
// directory is available, local-only otherwise.
func (h *Handler) GetRoomPresence(w http.ResponseWriter, r *http.Request) {
	roomKey := chi.URLParam(r, "roomKey")
	if roomKey == "" {
		json.WriteBadRequestError(w, "room key is required")
		return
	}

	members := h.rooms.Presence(r.Context(), roomKey)
	if members == nil {
		members = []string{}
	}

	json.Write(w, http.StatusOK, roomPresenceResponse{
		RoomKey:       roomKey,
		MemberCount:   len(members),
		ConnectionIDs: members,
		LocalMembers:  h.rooms.MemberCount(roomKey),
	})
}
