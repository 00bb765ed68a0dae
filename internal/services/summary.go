package services

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thereayou/teleconsult/internal/models"
)

// Summary итог звонка. Пункты берутся только из заметок врача;
// без заметок сводка помечается как заглушка
type Summary struct {
	RoomToken       string     `json:"room_token"`
	ConsultationID  uuid.UUID  `json:"consultation_id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	DurationMinutes int        `json:"duration_minutes"`
	KeyPoints       []string   `json:"key_points"`
	Recommendations []string   `json:"recommendations"`
	Placeholder     bool       `json:"placeholder"`
	Warnings        []string   `json:"warnings,omitempty"`
}

// BuildSummary считает длительность от создания комнаты: время входа
// участника перезаписывается при повторном входе
func BuildSummary(room *models.Room, notes string) Summary {
	started := room.CreatedAt

	sum := Summary{
		RoomToken:       room.Token,
		ConsultationID:  room.ConsultationID,
		StartedAt:       started,
		EndedAt:         room.EndedAt,
		KeyPoints:       []string{},
		Recommendations: []string{},
	}

	if room.EndedAt != nil && room.EndedAt.After(started) {
		sum.DurationMinutes = int(room.EndedAt.Sub(started).Round(time.Minute) / time.Minute)
	}

	sum.KeyPoints, sum.Recommendations = parseNotes(notes)
	sum.Placeholder = len(sum.KeyPoints) == 0 && len(sum.Recommendations) == 0

	return sum
}

// parseNotes делит заметки на ключевые пункты и рекомендации.
// Строки после заголовка "Recommendations:" считаются рекомендациями
func parseNotes(notes string) (keyPoints, recommendations []string) {
	keyPoints, recommendations = []string{}, []string{}
	section := &keyPoints

	for _, line := range strings.Split(notes, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch strings.ToLower(strings.TrimSuffix(line, ":")) {
		case "recommendations", "recommendation", "plan":
			section = &recommendations
			continue
		case "key points", "findings", "notes":
			section = &keyPoints
			continue
		}

		line = strings.TrimSpace(strings.TrimLeft(line, "-*•"))
		if line != "" {
			*section = append(*section, line)
		}
	}

	return keyPoints, recommendations
}
