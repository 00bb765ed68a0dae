package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/teleconsult/internal/models"
	"gorm.io/gorm"
)

// CreateRoom сохраняет комнату с участниками и привязывает ее к приему
func (d *Database) CreateRoom(ctx context.Context, room *models.Room) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Consultation{}).
			Where("id = ?", room.ConsultationID).
			Updates(map[string]any{
				"room_token": room.Token,
				"status":     models.ConsultationInProgress,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetRoomByToken загружает комнату с участниками в порядке создания
func (d *Database) GetRoomByToken(ctx context.Context, token string) (*models.Room, error) {
	var room models.Room
	err := d.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&room, "token = ?", token).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

func (d *Database) MarkParticipantJoined(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error {
	res := d.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("joined_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// EndRoom переводит активную комнату в ended. Повторный вызов ничего не меняет
func (d *Database) EndRoom(ctx context.Context, roomID uuid.UUID, at time.Time) error {
	return d.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ? AND status = ?", roomID, models.RoomActive).
		Updates(map[string]any{
			"status":   models.RoomEnded,
			"ended_at": at,
		}).Error
}
