package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/handlers/dto"
	"github.com/thereayou/teleconsult/internal/services"
)

// respondServiceError переводит ошибки сервисов в HTTP ответ
func respondServiceError(c *gin.Context, log *zap.Logger, err error) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "validation failed", Code: "INVALID", Details: validErr.Fields})
		return
	}

	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthenticated", Code: "UNAUTHENTICATED"})

	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: err.Error(), Code: "FORBIDDEN"})

	case errors.Is(err, services.ErrRoomNotFound),
		errors.Is(err, services.ErrConsultationNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})

	case errors.Is(err, services.ErrRoomEnded),
		errors.Is(err, services.ErrConsultationTaken),
		errors.Is(err, services.ErrConsultationClosed):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error(), Code: "CONFLICT"})

	case errors.Is(err, services.ErrInvalidSignal),
		errors.Is(err, services.ErrConsultationNotBooked):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: "INVALID"})

	case errors.Is(err, services.ErrPayloadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: err.Error(), Code: "TOO_LARGE"})

	case errors.Is(err, services.ErrTransient):
		log.Warn("transient store failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "temporarily unavailable, retry", Code: "TRANSIENT"})

	default:
		log.Error("unhandled service error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request: " + err.Error(), Code: "INVALID"})
		return false
	}
	return true
}

func parseUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid " + param + ": must be a valid UUID", Code: "INVALID"})
		return uuid.Nil, false
	}
	return id, true
}
