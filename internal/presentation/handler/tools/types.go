package tools

import "github.com/intervo/stream-gateway/internal/domain"

type listToolsResponse struct {
	Success bool          `json:"success"`
	Tools   []domain.Tool `json:"tools"`
}
