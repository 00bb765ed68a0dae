package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/database"
	"github.com/thereayou/teleconsult/internal/metrics"
	"github.com/thereayou/teleconsult/internal/models"
)

// Counterpart то, что участник видит о собеседнике
type Counterpart struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role string    `json:"role"`
}

type JoinResult struct {
	Room            *models.Room
	NegotiationRole string
	Role            string
	Counterpart     Counterpart
}

type RoomService struct {
	rooms         RoomStore
	consultations ConsultationStore
	users         UserStore
	metrics       *metrics.Collector
	log           *zap.Logger
	now           func() time.Time
	newToken      func() string
}

func NewRoomService(rooms RoomStore, consultations ConsultationStore, users UserStore, m *metrics.Collector, log *zap.Logger) *RoomService {
	return &RoomService{
		rooms:         rooms,
		consultations: consultations,
		users:         users,
		metrics:       m,
		log:           log.Named("rooms"),
		now:           time.Now,
		newToken:      uuid.NewString,
	}
}

// CreateRoom создает комнату для приема. Если у приема уже есть активная
// комната, возвращается она
func (s *RoomService) CreateRoom(ctx context.Context, consultationID, requester uuid.UUID) (room *models.Room, err error) {
	ctx, span := tracer.Start(ctx, "RoomService.CreateRoom")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("consultation.id", consultationID.String()))

	if requester == uuid.Nil {
		return nil, ErrUnauthenticated
	}

	c, err := s.consultations.GetConsultation(ctx, consultationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrConsultationNotFound
		}
		return nil, transient("get consultation", err)
	}

	if !c.IsParty(requester) {
		return nil, ErrForbidden
	}
	if c.PatientID == nil {
		return nil, ErrConsultationNotBooked
	}
	if c.Status == models.ConsultationCompleted || c.Status == models.ConsultationCancelled {
		return nil, ErrConsultationClosed
	}

	if c.RoomToken != nil {
		existing, err := s.rooms.GetRoomByToken(ctx, *c.RoomToken)
		switch {
		case err == nil && existing.Status == models.RoomActive:
			return existing, nil
		case err != nil && !errors.Is(err, database.ErrNotFound):
			return nil, transient("get room", err)
		}
	}

	now := s.now()
	creatorRole, otherRole := models.RolePatient, models.RoleDoctor
	other := c.DoctorID
	if requester == c.DoctorID {
		creatorRole, otherRole = models.RoleDoctor, models.RolePatient
		other = *c.PatientID
	}

	room = &models.Room{
		ID:             uuid.New(),
		Token:          s.newToken(),
		ConsultationID: c.ID,
		Status:         models.RoomActive,
		CreatedAt:      now,
		Participants: []models.Participant{
			{
				UserID:          requester,
				Position:        0,
				Role:            creatorRole,
				NegotiationRole: models.NegotiationRoleFor(creatorRole),
				JoinedAt:        &now,
			},
			{
				UserID:          other,
				Position:        1,
				Role:            otherRole,
				NegotiationRole: models.NegotiationRoleFor(otherRole),
			},
		},
	}

	if err := s.rooms.CreateRoom(ctx, room); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrConsultationNotFound
		}
		return nil, transient("create room", err)
	}

	s.metrics.RoomsCreated.Inc()
	s.log.Info("room created",
		zap.String("room", room.Token),
		zap.String("consultation", c.ID.String()),
		zap.String("creator", requester.String()),
	)

	return room, nil
}

// JoinRoom отмечает вход участника. Повторный вход только обновляет время
func (s *RoomService) JoinRoom(ctx context.Context, token string, requester uuid.UUID) (res *JoinResult, err error) {
	ctx, span := tracer.Start(ctx, "RoomService.JoinRoom")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("room.token", token))

	room, p, err := s.participantRoom(ctx, token, requester)
	if err != nil {
		return nil, err
	}
	if room.Status == models.RoomEnded {
		return nil, ErrRoomEnded
	}

	now := s.now()
	if err := s.rooms.MarkParticipantJoined(ctx, room.ID, requester, now); err != nil {
		return nil, transient("mark joined", err)
	}
	p.JoinedAt = &now

	res = &JoinResult{
		Room:            room,
		NegotiationRole: p.NegotiationRole,
		Role:            p.Role,
	}

	if cp, ok := room.Counterpart(requester); ok {
		res.Counterpart = Counterpart{ID: cp.UserID, Role: cp.Role}
		user, err := s.users.GetUser(ctx, cp.UserID)
		if err != nil {
			s.log.Warn("counterpart lookup failed", zap.String("user", cp.UserID.String()), zap.Error(err))
		} else {
			res.Counterpart.Name = user.DisplayName()
		}
	}

	s.log.Debug("participant joined",
		zap.String("room", room.Token),
		zap.String("user", requester.String()),
		zap.String("role", p.NegotiationRole),
	)

	return res, nil
}

// EndRoom завершает комнату и прием. Сбой обновления приема не мешает
// завершить звонок и попадает в предупреждения сводки
func (s *RoomService) EndRoom(ctx context.Context, token string, consultationID, requester uuid.UUID) (summary *Summary, err error) {
	ctx, span := tracer.Start(ctx, "RoomService.EndRoom")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("room.token", token))

	room, _, err := s.participantRoom(ctx, token, requester)
	if err != nil {
		return nil, err
	}
	if room.ConsultationID != consultationID {
		return nil, fmt.Errorf("%w: consultation does not belong to room", ErrForbidden)
	}

	if room.Status == models.RoomActive {
		now := s.now()
		if err := s.rooms.EndRoom(ctx, room.ID, now); err != nil {
			return nil, transient("end room", err)
		}
		room.Status = models.RoomEnded
		room.EndedAt = &now
		s.metrics.RoomsEnded.Inc()
	}

	var warnings []string
	if err := s.consultations.SetConsultationStatus(ctx, consultationID, models.ConsultationCompleted); err != nil {
		s.log.Error("consultation not completed after room end",
			zap.String("room", room.Token),
			zap.String("consultation", consultationID.String()),
			zap.Error(err),
		)
		warnings = append(warnings, "consultation status was not updated")
	}

	var notes string
	c, err := s.consultations.GetConsultation(ctx, consultationID)
	if err != nil {
		s.log.Warn("consultation notes unavailable", zap.String("consultation", consultationID.String()), zap.Error(err))
		warnings = append(warnings, "consultation notes unavailable")
	} else {
		notes = c.Notes
	}

	sum := BuildSummary(room, notes)
	sum.Warnings = warnings

	s.log.Info("room ended",
		zap.String("room", room.Token),
		zap.Int("duration_minutes", sum.DurationMinutes),
		zap.Bool("placeholder", sum.Placeholder),
	)

	return &sum, nil
}

// Room возвращает комнату участнику
func (s *RoomService) Room(ctx context.Context, token string, requester uuid.UUID) (*models.Room, error) {
	room, _, err := s.participantRoom(ctx, token, requester)
	return room, err
}

func (s *RoomService) participantRoom(ctx context.Context, token string, requester uuid.UUID) (*models.Room, *models.Participant, error) {
	return loadParticipantRoom(ctx, s.rooms, token, requester)
}

func loadParticipantRoom(ctx context.Context, rooms RoomStore, token string, requester uuid.UUID) (*models.Room, *models.Participant, error) {
	if requester == uuid.Nil {
		return nil, nil, ErrUnauthenticated
	}

	room, err := rooms.GetRoomByToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil, ErrRoomNotFound
		}
		return nil, nil, transient("get room", err)
	}

	p, ok := room.Participant(requester)
	if !ok {
		return nil, nil, ErrForbidden
	}
	return room, p, nil
}
