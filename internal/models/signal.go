package models

import (
	"github.com/google/uuid"
	"time"
)

// Signal сообщение согласования, хранится для аудита и не удаляется
type Signal struct {
	ID        uint64     `gorm:"primaryKey;autoIncrement"`
	RoomID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_signals_pending,priority:1"`
	SenderID  uuid.UUID  `gorm:"type:uuid;not null"`
	TargetID  *uuid.UUID `gorm:"type:uuid"`
	Type      string     `gorm:"not null"`
	Payload   string     `gorm:"type:jsonb;not null"`
	Consumed  bool       `gorm:"not null;default:false;index:idx_signals_pending,priority:2"`
	CreatedAt time.Time  `gorm:"index:idx_signals_pending,priority:3"`
}

// IsBroadcast сигнал без адресата рассылается всем, кроме отправителя
func (s *Signal) IsBroadcast() bool {
	return s.TargetID == nil
}

// SignalReceipt факт доставки сигнала конкретному получателю
type SignalReceipt struct {
	SignalID    uint64    `gorm:"primaryKey"`
	ReceiverID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	DeliveredAt time.Time `gorm:"not null"`
}
