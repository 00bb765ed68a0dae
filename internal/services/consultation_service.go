package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/database"
	"github.com/thereayou/teleconsult/internal/models"
)

// ConsultationService минимальный жизненный цикл приема, нужный комнатам
type ConsultationService struct {
	store ConsultationStore
	log   *zap.Logger
}

func NewConsultationService(store ConsultationStore, log *zap.Logger) *ConsultationService {
	return &ConsultationService{store: store, log: log.Named("consultations")}
}

// Create врач открывает слот приема
func (s *ConsultationService) Create(ctx context.Context, doctorID uuid.UUID, role string, scheduledAt time.Time) (*models.Consultation, error) {
	if doctorID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	if role != models.RoleDoctor {
		return nil, ErrForbidden
	}
	if scheduledAt.IsZero() {
		return nil, &ValidationError{Fields: map[string]string{"scheduled_at": "required"}}
	}

	c := &models.Consultation{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		ScheduledAt: scheduledAt,
		Status:      models.ConsultationScheduled,
	}
	if err := s.store.CreateConsultation(ctx, c); err != nil {
		return nil, transient("create consultation", err)
	}

	s.log.Info("consultation created", zap.String("consultation", c.ID.String()), zap.String("doctor", doctorID.String()))
	return c, nil
}

// Book пациент бронирует слот. Повторная бронь тем же пациентом не ошибка
func (s *ConsultationService) Book(ctx context.Context, id, patientID uuid.UUID, role string) (*models.Consultation, error) {
	if patientID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	if role != models.RolePatient {
		return nil, ErrForbidden
	}

	c, err := s.store.BookConsultation(ctx, id, patientID)
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, database.ErrNotFound):
		return nil, ErrConsultationNotFound
	case !errors.Is(err, database.ErrConflict):
		return nil, transient("book consultation", err)
	}

	existing, err := s.store.GetConsultation(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrConsultationNotFound
		}
		return nil, transient("get consultation", err)
	}
	if existing.PatientID != nil && *existing.PatientID == patientID {
		return existing, nil
	}
	if existing.Status != models.ConsultationScheduled {
		return nil, ErrConsultationClosed
	}
	return nil, ErrConsultationTaken
}

// Get отдает прием одной из его сторон
func (s *ConsultationService) Get(ctx context.Context, id, requester uuid.UUID) (*models.Consultation, error) {
	if requester == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	c, err := s.store.GetConsultation(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrConsultationNotFound
		}
		return nil, transient("get consultation", err)
	}
	if !c.IsParty(requester) {
		return nil, ErrForbidden
	}
	return c, nil
}

// UpdateNotes сохраняет заметки врача, из которых строится сводка звонка
func (s *ConsultationService) UpdateNotes(ctx context.Context, id, doctorID uuid.UUID, notes string) error {
	c, err := s.Get(ctx, id, doctorID)
	if err != nil {
		return err
	}
	if c.DoctorID != doctorID {
		return ErrForbidden
	}
	if err := s.store.UpdateConsultationNotes(ctx, id, notes); err != nil {
		return transient("update notes", err)
	}
	return nil
}
