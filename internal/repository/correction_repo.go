package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// CorrectionRepository defines data operations for corrections and their files.
type CorrectionRepository interface {
	Create(ctx context.Context, correction *models.Correction) error
	GetByID(ctx context.Context, id uint) (models.Correction, error)
	UpdateModel(ctx context.Context, id uint, model string, builtAt time.Time) error
	ModelForExercise(ctx context.Context, exerciseID uint) (string, error)
}

type correctionRepository struct {
	db *gorm.DB
}

// NewCorrectionRepository instantiates the repository.
func NewCorrectionRepository(db *gorm.DB) CorrectionRepository {
	return &correctionRepository{db: db}
}

// Create inserts the correction together with its files.
func (r *correctionRepository) Create(ctx context.Context, correction *models.Correction) error {
	return r.db.WithContext(ctx).Create(correction).Error
}

func (r *correctionRepository) GetByID(ctx context.Context, id uint) (models.Correction, error) {
	var correction models.Correction
	err := r.db.WithContext(ctx).
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&correction, id).Error
	if err != nil {
		return models.Correction{}, err
	}
	return correction, nil
}

func (r *correctionRepository) UpdateModel(ctx context.Context, id uint, model string, builtAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Correction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"correction_model": model, "model_built_at": builtAt})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ModelForExercise returns the first non-empty correction model of the exercise,
// or gorm.ErrRecordNotFound when none has been built yet.
func (r *correctionRepository) ModelForExercise(ctx context.Context, exerciseID uint) (string, error) {
	var correction models.Correction
	err := r.db.WithContext(ctx).
		Select("id", "correction_model").
		Where("exercise_id = ? AND correction_model IS NOT NULL AND correction_model <> ''", exerciseID).
		Order("id ASC").
		First(&correction).Error
	if err != nil {
		return "", err
	}
	return correction.CorrectionModel, nil
}
