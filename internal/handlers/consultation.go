package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/handlers/dto"
	"github.com/thereayou/teleconsult/internal/middleware"
	"github.com/thereayou/teleconsult/internal/models"
)

type ConsultationManager interface {
	Create(ctx context.Context, doctorID uuid.UUID, role string, scheduledAt time.Time) (*models.Consultation, error)
	Book(ctx context.Context, id, patientID uuid.UUID, role string) (*models.Consultation, error)
	Get(ctx context.Context, id, requester uuid.UUID) (*models.Consultation, error)
	UpdateNotes(ctx context.Context, id, doctorID uuid.UUID, notes string) error
}

type ConsultationHandler struct {
	consultations ConsultationManager
	log           *zap.Logger
}

func NewConsultationHandler(consultations ConsultationManager, log *zap.Logger) *ConsultationHandler {
	return &ConsultationHandler{consultations: consultations, log: log.Named("consultations")}
}

// Create врач открывает слот приема
func (h *ConsultationHandler) Create(c *gin.Context) {
	var req dto.CreateConsultationRequest
	if !bindJSON(c, &req) {
		return
	}

	userID, role := middleware.CurrentUser(c)
	consultation, err := h.consultations.Create(c.Request.Context(), userID, role, req.ScheduledAt)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewConsultationResponse(consultation))
}

// Book пациент занимает слот
func (h *ConsultationHandler) Book(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	userID, role := middleware.CurrentUser(c)
	consultation, err := h.consultations.Book(c.Request.Context(), id, userID, role)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewConsultationResponse(consultation))
}

func (h *ConsultationHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	userID, _ := middleware.CurrentUser(c)
	consultation, err := h.consultations.Get(c.Request.Context(), id, userID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewConsultationResponse(consultation))
}

// UpdateNotes заметки врача для итоговой сводки
func (h *ConsultationHandler) UpdateNotes(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req dto.NotesRequest
	if !bindJSON(c, &req) {
		return
	}

	userID, _ := middleware.CurrentUser(c)
	if err := h.consultations.UpdateNotes(c.Request.Context(), id, userID, req.Notes); err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}
