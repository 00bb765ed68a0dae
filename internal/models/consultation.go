package models

import (
	"github.com/google/uuid"
	"time"
)

const (
	ConsultationScheduled  = "scheduled"
	ConsultationInProgress = "in_progress"
	ConsultationCompleted  = "completed"
	ConsultationCancelled  = "cancelled"
)

// Consultation запись на прием: врач создает слот, пациент бронирует
type Consultation struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	DoctorID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	PatientID   *uuid.UUID `gorm:"type:uuid;index"`
	ScheduledAt time.Time  `gorm:"not null"`
	Status      string     `gorm:"not null;default:'scheduled'"`
	RoomToken   *string    `gorm:"index"`
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsParty проверяет, что пользователь одна из сторон приема
func (c *Consultation) IsParty(userID uuid.UUID) bool {
	if c.DoctorID == userID {
		return true
	}
	return c.PatientID != nil && *c.PatientID == userID
}
