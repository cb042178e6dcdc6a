package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

// ExerciseService exposes exercises with their content resolved.
type ExerciseService interface {
	Get(ctx context.Context, id uint) (dto.ExerciseResponse, error)
}

type exerciseService struct {
	exercises repository.ExerciseRepository
	logger    zerolog.Logger
}

// NewExerciseService constructs an ExerciseService instance.
func NewExerciseService(exerciseRepo repository.ExerciseRepository, logger zerolog.Logger) ExerciseService {
	return &exerciseService{
		exercises: exerciseRepo,
		logger:    logger.With().Str("component", "exercise_service").Logger(),
	}
}

func (s *exerciseService) Get(ctx context.Context, id uint) (dto.ExerciseResponse, error) {
	exercise, err := s.exercises.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ExerciseResponse{}, ErrExerciseNotFound
		}
		return dto.ExerciseResponse{}, err
	}
	return dto.NewExerciseResponse(exercise), nil
}
