package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/questions"
	"github.com/noah-isme/gema-grading-api/pkg/storage"
)

// ErrNoCorrectionFiles indicates a correction upload without any file.
var ErrNoCorrectionFiles = errors.New("at least one correction file is required")

// ModelBuilder derives a correction model from reference files.
type ModelBuilder interface {
	Entries(ctx context.Context, files [][]byte) ([]questions.Entry, error)
}

// CorrectionService manages reference corrections and their cached model.
type CorrectionService interface {
	Create(ctx context.Context, principal Principal, payload dto.CorrectionCreateRequest, files []*multipart.FileHeader) (dto.CorrectionResponse, error)
	Rebuild(ctx context.Context, principal Principal, id uint) (dto.CorrectionResponse, error)
}

type correctionService struct {
	corrections repository.CorrectionRepository
	exercises   repository.ExerciseRepository
	blobs       BlobStore
	builder     ModelBuilder
	guard       UploadGuard
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewCorrectionService constructs a CorrectionService instance.
func NewCorrectionService(
	correctionRepo repository.CorrectionRepository,
	exerciseRepo repository.ExerciseRepository,
	blobs BlobStore,
	builder ModelBuilder,
	guard UploadGuard,
	validate *validator.Validate,
	logger zerolog.Logger,
) CorrectionService {
	return &correctionService{
		corrections: correctionRepo,
		exercises:   exerciseRepo,
		blobs:       blobs,
		builder:     builder,
		guard:       guard,
		validator:   validate,
		logger:      logger.With().Str("component", "correction_service").Logger(),
		now:         time.Now,
	}
}

// Create stores every reference file, then builds and caches the correction model.
func (s *correctionService) Create(ctx context.Context, principal Principal, payload dto.CorrectionCreateRequest, files []*multipart.FileHeader) (dto.CorrectionResponse, error) {
	if !principal.IsStaff() {
		return dto.CorrectionResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.CorrectionResponse{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if len(files) == 0 {
		return dto.CorrectionResponse{}, fmt.Errorf("%w: %w", ErrValidation, ErrNoCorrectionFiles)
	}

	if _, err := s.exercises.GetByID(ctx, payload.ExerciseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CorrectionResponse{}, ErrExerciseNotFound
		}
		return dto.CorrectionResponse{}, err
	}

	var config datatypes.JSONMap
	if payload.Config != "" {
		if err := json.Unmarshal([]byte(payload.Config), &config); err != nil {
			return dto.CorrectionResponse{}, fmt.Errorf("%w: config: %w", ErrValidation, err)
		}
	}

	contents := make([][]byte, 0, len(files))
	for _, file := range files {
		content, err := s.guard.Read(file)
		if err != nil {
			return dto.CorrectionResponse{}, err
		}
		contents = append(contents, content)
	}

	correction := models.Correction{
		ExerciseID:  payload.ExerciseID,
		Title:       payload.Title,
		Description: payload.Description,
	}

	stored := make([]string, 0, len(contents))
	for _, content := range contents {
		key := storage.CorrectionKey(payload.ExerciseID, uuid.NewString())
		object, err := s.blobs.Put(ctx, key, content, "application/pdf")
		if err != nil {
			s.discard(ctx, stored)
			return dto.CorrectionResponse{}, fmt.Errorf("store correction file: %w", err)
		}
		stored = append(stored, object.Key)
		correction.Files = append(correction.Files, models.CorrectionFile{
			FileKey:      object.Key,
			FileURL:      object.URL,
			ScoringModel: payload.ScoringModel,
			Config:       config,
		})
	}

	entries, err := s.builder.Entries(ctx, contents)
	if err != nil {
		s.logger.Warn().Err(err).Uint("exercise_id", payload.ExerciseID).Msg("correction model build failed, storing files only")
	} else {
		builtAt := s.now()
		correction.CorrectionModel = questions.Render(entries)
		correction.ModelBuiltAt = &builtAt
	}

	if err := s.corrections.Create(ctx, &correction); err != nil {
		s.discard(ctx, stored)
		return dto.CorrectionResponse{}, err
	}

	s.logger.Info().
		Uint("correction_id", correction.ID).
		Uint("exercise_id", correction.ExerciseID).
		Int("files", len(correction.Files)).
		Int("questions", len(entries)).
		Msg("correction created")

	return dto.NewCorrectionResponse(correction, len(entries)), nil
}

// Rebuild recomputes the correction model from the stored reference files.
func (s *correctionService) Rebuild(ctx context.Context, principal Principal, id uint) (dto.CorrectionResponse, error) {
	if !principal.IsStaff() {
		return dto.CorrectionResponse{}, ErrForbidden
	}

	correction, err := s.corrections.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CorrectionResponse{}, ErrCorrectionNotFound
		}
		return dto.CorrectionResponse{}, err
	}

	contents := make([][]byte, 0, len(correction.Files))
	for _, file := range correction.Files {
		key := file.FileKey
		if key == "" {
			if key, err = storage.KeyFromURL(file.FileURL); err != nil {
				return dto.CorrectionResponse{}, fmt.Errorf("locate correction file %d: %w", file.ID, err)
			}
		}
		content, err := s.blobs.Get(ctx, key)
		if err != nil {
			return dto.CorrectionResponse{}, fmt.Errorf("download correction file %d: %w", file.ID, err)
		}
		contents = append(contents, content)
	}

	entries, err := s.builder.Entries(ctx, contents)
	if err != nil {
		return dto.CorrectionResponse{}, fmt.Errorf("build correction model: %w", err)
	}

	builtAt := s.now()
	model := questions.Render(entries)
	if err := s.corrections.UpdateModel(ctx, correction.ID, model, builtAt); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CorrectionResponse{}, ErrCorrectionNotFound
		}
		return dto.CorrectionResponse{}, err
	}
	correction.CorrectionModel = model
	correction.ModelBuiltAt = &builtAt

	s.logger.Info().Uint("correction_id", correction.ID).Int("questions", len(entries)).Msg("correction model rebuilt")
	return dto.NewCorrectionResponse(correction, len(entries)), nil
}

func (s *correctionService) discard(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to remove correction file")
		}
	}
}
