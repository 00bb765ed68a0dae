package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/middleware"
	ws "github.com/thereayou/teleconsult/internal/websocket"
)

// WebSocketHandler подписка участника на уведомления комнаты
type WebSocketHandler struct {
	hub      *ws.Hub
	rooms    RoomManager
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewWebSocketHandler создает новый WebSocket handler.
// Пустой allowedOrigins разрешает любой origin
func NewWebSocketHandler(hub *ws.Hub, rooms RoomManager, allowedOrigins []string, log *zap.Logger) *WebSocketHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &WebSocketHandler{
		hub:   hub,
		rooms: rooms,
		log:   log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// HandleRoom GET /rtc/rooms/:token/ws
func (h *WebSocketHandler) HandleRoom(c *gin.Context) {
	userID, _ := middleware.CurrentUser(c)

	room, err := h.rooms.Room(c.Request.Context(), c.Param("token"), userID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, userID, room.ID)
	if err := h.hub.Register(client); err != nil {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
