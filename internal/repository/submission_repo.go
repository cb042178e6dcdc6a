package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// SubmissionFilter narrows submission queries.
type SubmissionFilter struct {
	ExerciseID  *uint
	StudentID   *uint
	Status      *string
	SubmittedOn *time.Time
	Limit       int
	Offset      int
}

// SubmissionStats aggregates grades for one exercise.
type SubmissionStats struct {
	AverageGrade *float64
	Count        int64
}

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error)
	ListFingerprints(ctx context.Context, exerciseID, excludeStudentID uint) ([]datatypes.JSON, error)
	UpdateResult(ctx context.Context, submission *models.Submission) error
	Stats(ctx context.Context, exerciseID uint) (SubmissionStats, error)
	Delete(ctx context.Context, id uint) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if filter.ExerciseID != nil {
		query = query.Where("exercise_id = ?", *filter.ExerciseID)
	}
	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}
	if filter.Status != nil {
		status := models.NormalizeSubmissionStatus(*filter.Status)
		if status == models.SubmissionStatusCompleted {
			query = query.Where("status IN ?", []string{models.SubmissionStatusCompleted, models.SubmissionStatusEvaluated})
		} else {
			query = query.Where("status = ?", status)
		}
	}
	if filter.SubmittedOn != nil {
		day := time.Date(filter.SubmittedOn.Year(), filter.SubmittedOn.Month(), filter.SubmittedOn.Day(), 0, 0, 0, 0, filter.SubmittedOn.Location())
		query = query.Where("submitted_at >= ? AND submitted_at < ?", day, day.AddDate(0, 0, 1))
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var submissions []models.Submission
	if err := query.Order("submitted_at DESC").Order("id DESC").Find(&submissions).Error; err != nil {
		return nil, 0, err
	}

	return submissions, total, nil
}

func (r *submissionRepository) ListFingerprints(ctx context.Context, exerciseID, excludeStudentID uint) ([]datatypes.JSON, error) {
	var fingerprints []datatypes.JSON
	err := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("exercise_id = ? AND student_id <> ?", exerciseID, excludeStudentID).
		Where("fingerprint IS NOT NULL").
		Order("id ASC").
		Pluck("fingerprint", &fingerprints).Error
	if err != nil {
		return nil, err
	}
	return fingerprints, nil
}

// UpdateResult writes the grading columns only; key material and file location are never touched.
func (r *submissionRepository) UpdateResult(ctx context.Context, submission *models.Submission) error {
	result := r.db.WithContext(ctx).Model(submission).
		Select("grade", "feedback", "status", "details", "updated_at").
		Updates(submission)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *submissionRepository) Stats(ctx context.Context, exerciseID uint) (SubmissionStats, error) {
	var stats SubmissionStats
	err := r.db.WithContext(ctx).Model(&models.Submission{}).
		Select("AVG(grade) AS average_grade, COUNT(*) AS count").
		Where("exercise_id = ?", exerciseID).
		Scan(&stats).Error
	if err != nil {
		return SubmissionStats{}, err
	}
	return stats, nil
}

func (r *submissionRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Submission{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
