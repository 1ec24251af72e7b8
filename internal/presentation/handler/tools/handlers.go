package tools

import (
	"net/http"

	"github.com/intervo/stream-gateway/internal/domain"
	"github.com/intervo/stream-gateway/internal/infrastructure/json"
	"github.com/intervo/stream-gateway/internal/infrastructure/logging"
)

type Handler struct {
	repository domain.ToolRepository
	logger     logging.Logger
}

func NewHandler(repository domain.ToolRepository, logger logging.Logger) *Handler {
	return &Handler{
		repository: repository,
		logger:     logger,
	}
}

func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	toolList, err := h.repository.GetAll(r.Context())
	if err != nil {
		h.logger.Error(logging.Mongo, logging.ExternalService, "failed to list tools", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		json.WriteInternalError(w, err)
		return
	}

	json.Write(w, http.StatusOK, listToolsResponse{
		Success: true,
		Tools:   toolList,
	})
}
