package handler

import (
	"net/http"
	"time"

	"trackgate/internal/api/util"
	"trackgate/internal/stats"
)

type HealthHandler struct {
	stats *stats.Stats
}

func NewHealthHandler(s *stats.Stats) *HealthHandler {
	return &HealthHandler{stats: s}
}

type healthResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartedAt     time.Time      `json:"started_at"`
	Stats         stats.Snapshot `json:"stats"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(h.stats.Uptime().Seconds()),
		StartedAt:     h.stats.StartedAt().UTC(),
		Stats:         h.stats.Snapshot(),
	})
}

func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, h.stats.Snapshot())
}
