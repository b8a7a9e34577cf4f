package handlers

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"panel-service/internal/auth"
	"panel-service/internal/realtime"
)

type WSHandler struct {
	hub           *realtime.Hub
	authenticator auth.Authenticator
}

func NewWSHandler(hub *realtime.Hub, authenticator auth.Authenticator) *WSHandler {
	return &WSHandler{hub: hub, authenticator: authenticator}
}

// HandleWebSocket godoc
// @Summary Realtime connection
// @Description Establish the WebSocket connection carrying the panel's push notifications
// @Tags realtime
// @Param token query string false "Optional JWT for the transport-level handshake"
// @Success 101 "Switching Protocols"
// @Router /ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	// Transport-level handshake: a credential may arrive as a query parameter
	// or header. Validation failure is fail-open - the connection is accepted
	// unauthenticated and may still authenticate in-band later.
	var identity *auth.Identity

	tokenString := c.Query("token")
	if tokenString == "" {
		tokenString = strings.Replace(c.GetHeader("Authorization"), "Bearer ", "", 1)
	} else {
		tokenString = strings.Replace(tokenString, "Bearer ", "", 1)
	}

	if tokenString != "" {
		validated, err := h.authenticator.Validate(tokenString)
		if err != nil {
			slog.Info("handshake credential rejected, accepting unauthenticated", "error", err)
		} else {
			identity = validated
		}
	}

	realtime.ServeWS(h.hub, c.Writer, c.Request, identity)
}
