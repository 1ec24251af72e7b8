package webhooks

import (
	"net/http"

	"github.com/intervo/stream-gateway/internal/infrastructure/json"
	"github.com/intervo/stream-gateway/internal/infrastructure/logging"
	"github.com/intervo/stream-gateway/internal/presentation/utils"
)

type Handler struct {
	logger logging.Logger
}

func NewHandler(logger logging.Logger) *Handler {
	return &Handler{logger: logger}
}

// StreamTarget tells the telephony provider where to open its media stream.
// The signature guard has already vetted the caller by the time we get here.
func (h *Handler) StreamTarget(w http.ResponseWriter, r *http.Request) {
	host := utils.RequestHost(r)
	if host == "" {
		json.WriteBadRequestError(w, "unable to determine stream host")
		return
	}

	h.logger.Info(logging.RequestResponse, logging.ExternalService, "issuing stream target", map[logging.ExtraKey]any{
		logging.ClientIp: r.RemoteAddr,
		logging.Path:     r.URL.Path,
	})

	json.Write(w, http.StatusOK, streamTargetResponse{
		StreamURL: "wss://" + host + "/stream",
	})
}
