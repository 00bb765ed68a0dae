package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/teleconsult/internal/models"
	"github.com/thereayou/teleconsult/internal/signaling"
)

type CreateRoomRequest struct {
	ConsultationID uuid.UUID `json:"consultation_id" binding:"required"`
}

type EndRoomRequest struct {
	ConsultationID uuid.UUID `json:"consultation_id" binding:"required"`
}

type ParticipantResponse struct {
	UserID          uuid.UUID  `json:"user_id"`
	Role            string     `json:"user_role"`
	NegotiationRole string     `json:"role"`
	JoinedAt        *time.Time `json:"joined_at"`
	// Открыт websocket с уведомлениями
	Subscribed bool `json:"subscribed"`
}

type RoomResponse struct {
	Token          string                `json:"token"`
	ConsultationID uuid.UUID             `json:"consultation_id"`
	Status         string                `json:"status"`
	CreatedAt      time.Time             `json:"created_at"`
	EndedAt        *time.Time            `json:"ended_at,omitempty"`
	Participants   []ParticipantResponse `json:"participants"`
}

func NewRoomResponse(r *models.Room) RoomResponse {
	resp := RoomResponse{
		Token:          r.Token,
		ConsultationID: r.ConsultationID,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
		EndedAt:        r.EndedAt,
		Participants:   make([]ParticipantResponse, 0, len(r.Participants)),
	}
	for _, p := range r.Participants {
		resp.Participants = append(resp.Participants, ParticipantResponse{
			UserID:          p.UserID,
			Role:            p.Role,
			NegotiationRole: p.NegotiationRole,
			JoinedAt:        p.JoinedAt,
		})
	}
	return resp
}

func (r *RoomResponse) MarkSubscribed(users []uuid.UUID) {
	online := make(map[uuid.UUID]bool, len(users))
	for _, id := range users {
		online[id] = true
	}
	for i := range r.Participants {
		r.Participants[i].Subscribed = online[r.Participants[i].UserID]
	}
}

type CounterpartResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role string    `json:"user_role"`
}

type JoinRoomResponse struct {
	Room           RoomResponse        `json:"room"`
	Role           string              `json:"role"`
	UserRole       string              `json:"user_role"`
	Counterpart    CounterpartResponse `json:"counterpart"`
	PollIntervalMS int64               `json:"poll_interval_ms"`
}

type SignalsResponse struct {
	Signals        []signaling.Envelope `json:"signals"`
	PollIntervalMS int64                `json:"poll_interval_ms"`
}
