package models

import (
	"github.com/google/uuid"
	"time"
)

// Роли пользователей в домене
const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FullName     string    `gorm:"not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null;check:role IN ('doctor','patient')"`
	LastSeenAt   time.Time
	CreatedAt    time.Time
}

// DisplayName имя для показа собеседнику
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}
