package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/handlers/dto"
	"github.com/thereayou/teleconsult/internal/middleware"
	"github.com/thereayou/teleconsult/internal/models"
	"github.com/thereayou/teleconsult/internal/services"
	"github.com/thereayou/teleconsult/internal/signaling"
)

type RoomManager interface {
	CreateRoom(ctx context.Context, consultationID, requester uuid.UUID) (*models.Room, error)
	JoinRoom(ctx context.Context, token string, requester uuid.UUID) (*services.JoinResult, error)
	EndRoom(ctx context.Context, token string, consultationID, requester uuid.UUID) (*services.Summary, error)
	Room(ctx context.Context, token string, requester uuid.UUID) (*models.Room, error)
}

type SignalRelay interface {
	SendSignal(ctx context.Context, token string, sender uuid.UUID, env signaling.Envelope) (*signaling.Envelope, error)
	FetchSignals(ctx context.Context, token string, receiver uuid.UUID) ([]signaling.Envelope, error)
}

// Presence подписки на уведомления комнаты
type Presence interface {
	RoomSubscribers(roomID uuid.UUID) []uuid.UUID
}

// envelopeOverhead запас на поля конверта сверх payload
const envelopeOverhead = 4 * 1024

// RTCHandler комнаты звонков и ретрансляция сигналов
type RTCHandler struct {
	rooms        RoomManager
	relay        SignalRelay
	presence     Presence
	pollInterval time.Duration
	maxBody      int64
	log          *zap.Logger
}

func NewRTCHandler(rooms RoomManager, relay SignalRelay, presence Presence, pollInterval time.Duration, maxPayload int, log *zap.Logger) *RTCHandler {
	return &RTCHandler{
		rooms:        rooms,
		relay:        relay,
		presence:     presence,
		pollInterval: pollInterval,
		maxBody:      int64(maxPayload) + envelopeOverhead,
		log:          log.Named("rtc"),
	}
}

// CreateRoom POST /rtc/rooms
func (h *RTCHandler) CreateRoom(c *gin.Context) {
	var req dto.CreateRoomRequest
	if !bindJSON(c, &req) {
		return
	}

	userID, _ := middleware.CurrentUser(c)
	room, err := h.rooms.CreateRoom(c.Request.Context(), req.ConsultationID, userID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewRoomResponse(room))
}

// GetRoom GET /rtc/rooms/:token
func (h *RTCHandler) GetRoom(c *gin.Context) {
	userID, _ := middleware.CurrentUser(c)
	room, err := h.rooms.Room(c.Request.Context(), c.Param("token"), userID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	resp := dto.NewRoomResponse(room)
	if h.presence != nil {
		resp.MarkSubscribed(h.presence.RoomSubscribers(room.ID))
	}
	c.JSON(http.StatusOK, resp)
}

// JoinRoom POST /rtc/rooms/:token/join
func (h *RTCHandler) JoinRoom(c *gin.Context) {
	userID, _ := middleware.CurrentUser(c)
	res, err := h.rooms.JoinRoom(c.Request.Context(), c.Param("token"), userID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, dto.JoinRoomResponse{
		Room:     dto.NewRoomResponse(res.Room),
		Role:     res.NegotiationRole,
		UserRole: res.Role,
		Counterpart: dto.CounterpartResponse{
			ID:   res.Counterpart.ID,
			Name: res.Counterpart.Name,
			Role: res.Counterpart.Role,
		},
		PollIntervalMS: h.pollInterval.Milliseconds(),
	})
}

// SendSignal POST /rtc/rooms/:token/signals
func (h *RTCHandler) SendSignal(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondServiceError(c, h.log, services.ErrPayloadTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "cannot read body", Code: "INVALID"})
		return
	}

	env, err := signaling.Decode(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: "INVALID"})
		return
	}

	userID, _ := middleware.CurrentUser(c)
	out, err := h.relay.SendSignal(c.Request.Context(), c.Param("token"), userID, env)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, out)
}

// FetchSignals GET /rtc/rooms/:token/signals
func (h *RTCHandler) FetchSignals(c *gin.Context) {
	userID, _ := middleware.CurrentUser(c)
	signals, err := h.relay.FetchSignals(c.Request.Context(), c.Param("token"), userID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	if signals == nil {
		signals = []signaling.Envelope{}
	}
	c.JSON(http.StatusOK, dto.SignalsResponse{Signals: signals, PollIntervalMS: h.pollInterval.Milliseconds()})
}

// EndRoom POST /rtc/rooms/:token/end
func (h *RTCHandler) EndRoom(c *gin.Context) {
	var req dto.EndRoomRequest
	if !bindJSON(c, &req) {
		return
	}

	userID, _ := middleware.CurrentUser(c)
	summary, err := h.rooms.EndRoom(c.Request.Context(), c.Param("token"), req.ConsultationID, userID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
