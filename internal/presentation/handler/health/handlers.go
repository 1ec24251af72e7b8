package health

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/intervo/stream-gateway/internal/infrastructure/json"
)

var (
	startTime       = time.Now()
	healthy   int32 = 1 // 1 = healthy, 0 = unhealthy
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// SetUnhealthy flips the reported status, typically during shutdown so load
// balancers drain traffic before the listener closes.
func SetUnhealthy() {
	atomic.StoreInt32(&healthy, 0)
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	label := "ok"
	if atomic.LoadInt32(&healthy) == 0 {
		status = http.StatusServiceUnavailable
		label = "unhealthy"
	}

	json.Write(w, status, healthResponse{
		Status:    label,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	})
}
