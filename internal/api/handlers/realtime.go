package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"panel-service/internal/realtime"
	"panel-service/internal/services"
)

type RealtimeHandler struct {
	metrics  *realtime.Metrics
	presence *services.PresenceService
}

func NewRealtimeHandler(metrics *realtime.Metrics, presence *services.PresenceService) *RealtimeHandler {
	return &RealtimeHandler{metrics: metrics, presence: presence}
}

// Stats godoc
// @Summary Realtime layer counters
// @Tags realtime
// @Produce json
// @Security BearerAuth
// @Success 200 {object} realtime.MetricsSnapshot
// @Router /realtime/stats [get]
func (h *RealtimeHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// OnlineUsers godoc
// @Summary Operators with a live realtime connection
// @Tags realtime
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string][]string
// @Router /users/online [get]
func (h *RealtimeHandler) OnlineUsers(c *gin.Context) {
	users, err := h.presence.GetOnlineUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch online users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
