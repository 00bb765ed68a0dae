package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/thereayou/teleconsult/internal/models"
)

func (d *Database) CreateConsultation(ctx context.Context, c *models.Consultation) error {
	return d.db.WithContext(ctx).Create(c).Error
}

func (d *Database) GetConsultation(ctx context.Context, id uuid.UUID) (*models.Consultation, error) {
	var c models.Consultation
	if err := d.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// BookConsultation занимает свободный слот условным UPDATE.
// ErrConflict, если слот уже занят или закрыт
func (d *Database) BookConsultation(ctx context.Context, id, patientID uuid.UUID) (*models.Consultation, error) {
	res := d.db.WithContext(ctx).
		Model(&models.Consultation{}).
		Where("id = ? AND patient_id IS NULL AND status = ?", id, models.ConsultationScheduled).
		Update("patient_id", patientID)
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		if _, err := d.GetConsultation(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}

	return d.GetConsultation(ctx, id)
}

func (d *Database) UpdateConsultationNotes(ctx context.Context, id uuid.UUID, notes string) error {
	return d.updateConsultation(ctx, id, "notes", notes)
}

func (d *Database) SetConsultationStatus(ctx context.Context, id uuid.UUID, status string) error {
	return d.updateConsultation(ctx, id, "status", status)
}

func (d *Database) updateConsultation(ctx context.Context, id uuid.UUID, column string, value any) error {
	res := d.db.WithContext(ctx).Model(&models.Consultation{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
