package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/teleconsult/internal/models"
)

type CreateConsultationRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
}

type NotesRequest struct {
	Notes string `json:"notes" binding:"max=20000"`
}

type ConsultationResponse struct {
	ID          uuid.UUID  `json:"id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	PatientID   *uuid.UUID `json:"patient_id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Status      string     `json:"status"`
	RoomToken   *string    `json:"room_token,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

func NewConsultationResponse(c *models.Consultation) ConsultationResponse {
	return ConsultationResponse{
		ID:          c.ID,
		DoctorID:    c.DoctorID,
		PatientID:   c.PatientID,
		ScheduledAt: c.ScheduledAt,
		Status:      c.Status,
		RoomToken:   c.RoomToken,
		Notes:       c.Notes,
	}
}
