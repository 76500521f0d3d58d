package handlers

import (
	"log/slog"
	"net/http"

	"family-planner-backend/internal/services"
	"family-planner-backend/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	hub            *ws.Hub
	sessionService *services.SessionService
}

func NewWSHandler(hub *ws.Hub, sessionService *services.SessionService) *WSHandler {
	return &WSHandler{hub: hub, sessionService: sessionService}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket godoc
// @Summary      Live room for a planning session
// @Description  Presence, progress and lifecycle events. Pass the bearer token as access_token.
// @Tags         websocket
// @Param        id path int true "Session ID"
// @Param        access_token query string true "JWT"
// @Router       /ws/planning-sessions/{id} [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID := callerID(c)

	if _, err := h.sessionService.Authorize(c.Request.Context(), id, userID); err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade error", "session_id", id, "err", err)
		return
	}

	h.hub.ServeConn(conn, id, userID)
}

// GetPresence godoc
// @Summary      Live roster
// @Description  Participants connected to this instance
// @Tags         websocket
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {array} presence.Entry
// @Failure      403 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id}/presence [get]
func (h *WSHandler) GetPresence(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if _, err := h.sessionService.Authorize(c.Request.Context(), id, callerID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.hub.Presence(id))
}
