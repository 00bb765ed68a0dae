package models

import (
	"github.com/google/uuid"
	"time"
)

const (
	RoomActive = "active"
	RoomEnded  = "ended"
)

// Роли в согласовании соединения
const (
	NegotiationInitiator = "initiator"
	NegotiationResponder = "responder"
)

// Room комната звонка, привязанная к одному приему
type Room struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Token          string    `gorm:"uniqueIndex;not null"`
	ConsultationID uuid.UUID `gorm:"type:uuid;not null;index"`
	Status         string    `gorm:"not null;default:'active';check:status IN ('active','ended')"`
	CreatedAt      time.Time
	EndedAt        *time.Time

	// Связи
	Participants []Participant `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE"`
}

// Participant участник комнаты. Список фиксируется при создании
type Participant struct {
	RoomID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Position        int       `gorm:"not null"`
	Role            string    `gorm:"not null"`
	NegotiationRole string    `gorm:"not null"`
	JoinedAt        *time.Time
}

// NegotiationRoleFor инициатор тот, у кого роль врача
func NegotiationRoleFor(role string) string {
	if role == RoleDoctor {
		return NegotiationInitiator
	}
	return NegotiationResponder
}

// Participant ищет участника по пользователю
func (r *Room) Participant(userID uuid.UUID) (*Participant, bool) {
	for i := range r.Participants {
		if r.Participants[i].UserID == userID {
			return &r.Participants[i], true
		}
	}
	return nil, false
}

// Counterpart второй участник комнаты
func (r *Room) Counterpart(userID uuid.UUID) (*Participant, bool) {
	for i := range r.Participants {
		if r.Participants[i].UserID != userID {
			return &r.Participants[i], true
		}
	}
	return nil, false
}
