package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/teleconsult/internal/models"
)

// Хранилища передаются в сервисы явно, реализация в internal/database.
// Отсутствие записи сообщается через database.ErrNotFound

type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type ConsultationStore interface {
	CreateConsultation(ctx context.Context, c *models.Consultation) error
	GetConsultation(ctx context.Context, id uuid.UUID) (*models.Consultation, error)
	// BookConsultation атомарно записывает пациента в свободный слот
	BookConsultation(ctx context.Context, id, patientID uuid.UUID) (*models.Consultation, error)
	UpdateConsultationNotes(ctx context.Context, id uuid.UUID, notes string) error
	SetConsultationStatus(ctx context.Context, id uuid.UUID, status string) error
}

type RoomStore interface {
	// CreateRoom сохраняет комнату с участниками и переводит прием
	// в in_progress одной транзакцией
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoomByToken(ctx context.Context, token string) (*models.Room, error)
	MarkParticipantJoined(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error
	EndRoom(ctx context.Context, roomID uuid.UUID, at time.Time) error
}

type SignalStore interface {
	SaveSignal(ctx context.Context, s *models.Signal) error
	// ClaimPendingSignals возвращает недоставленные получателю сигналы
	// в порядке создания и отмечает их доставленными в той же транзакции.
	// Сигналы, для которых accept вернул false, остаются недоставленными
	ClaimPendingSignals(ctx context.Context, roomID, receiverID uuid.UUID, participants int, at time.Time, accept func(*models.Signal) bool) ([]models.Signal, error)
}

// Notifier сообщает подписчикам комнаты, что появились сигналы
type Notifier interface {
	NotifyRoom(ctx context.Context, roomID, except uuid.UUID)
}

type nopNotifier struct{}

func (nopNotifier) NotifyRoom(context.Context, uuid.UUID, uuid.UUID) {}
