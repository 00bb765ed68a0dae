package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/teleconsult/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (d *Database) SaveSignal(ctx context.Context, s *models.Signal) error {
	return d.db.WithContext(ctx).Create(s).Error
}

// ClaimPendingSignals выбирает сигналы, еще не доставленные получателю,
// блокирует их, пишет квитанции и помечает consumed. Адресный сигнал
// потребляется сразу, широковещательный после доставки всем остальным
// участникам комнаты. Сигналы, отклоненные accept, не получают квитанцию
// и остаются в очереди
func (d *Database) ClaimPendingSignals(ctx context.Context, roomID, receiverID uuid.UUID, participants int, at time.Time, accept func(*models.Signal) bool) ([]models.Signal, error) {
	var claimed []models.Signal

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ? AND consumed = ? AND sender_id <> ?", roomID, false, receiverID).
			Where("(target_id IS NULL OR target_id = ?)", receiverID).
			Where("NOT EXISTS (SELECT 1 FROM signal_receipts r WHERE r.signal_id = signals.id AND r.receiver_id = ?)", receiverID).
			Order("created_at ASC, id ASC").
			Find(&claimed).Error
		if err != nil {
			return err
		}
		if accept != nil {
			kept := claimed[:0]
			for i := range claimed {
				if accept(&claimed[i]) {
					kept = append(kept, claimed[i])
				}
			}
			claimed = kept
		}
		if len(claimed) == 0 {
			return nil
		}

		receipts := make([]models.SignalReceipt, 0, len(claimed))
		var directed, broadcast []uint64
		for _, s := range claimed {
			receipts = append(receipts, models.SignalReceipt{SignalID: s.ID, ReceiverID: receiverID, DeliveredAt: at})
			if s.IsBroadcast() {
				broadcast = append(broadcast, s.ID)
			} else {
				directed = append(directed, s.ID)
			}
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipts).Error; err != nil {
			return err
		}

		if len(directed) > 0 {
			err := tx.Model(&models.Signal{}).Where("id IN ?", directed).Update("consumed", true).Error
			if err != nil {
				return err
			}
		}

		if len(broadcast) > 0 {
			err := tx.Exec(
				`UPDATE signals SET consumed = true
				 WHERE id IN ? AND (SELECT count(*) FROM signal_receipts r WHERE r.signal_id = signals.id) >= ?`,
				broadcast, participants-1,
			).Error
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
