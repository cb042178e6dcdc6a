package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/similarity"
	"github.com/noah-isme/gema-grading-api/pkg/storage"
)

// ErrGradingQueueFull indicates a re-grade could not be scheduled.
var ErrGradingQueueFull = errors.New("grading queue is full, try again later")

const defaultListLimit = 20

// SubmissionService orchestrates the submission lifecycle.
type SubmissionService interface {
	Create(ctx context.Context, principal Principal, payload dto.SubmissionCreateRequest, file *multipart.FileHeader) (dto.SubmissionResponse, error)
	GetStatus(ctx context.Context, principal Principal, id uint) (dto.SubmissionStatusResponse, error)
	ListForExercise(ctx context.Context, principal Principal, exerciseID uint, query dto.SubmissionListQuery) (dto.SubmissionListResponse, error)
	ListForStudent(ctx context.Context, principal Principal, query dto.SubmissionListQuery) (dto.SubmissionListResponse, error)
	Update(ctx context.Context, principal Principal, id uint, payload dto.SubmissionUpdateRequest) (dto.SubmissionUpdateResponse, error)
	Regrade(ctx context.Context, principal Principal, id uint) (dto.SubmissionResponse, error)
	Stats(ctx context.Context, principal Principal, exerciseID uint) (dto.SubmissionStatsResponse, error)
	Delete(ctx context.Context, principal Principal, id uint) error
	DecryptForReview(ctx context.Context, principal Principal, id uint) ([]byte, error)
}

// SubmissionServiceDeps groups the collaborators of the submission service.
type SubmissionServiceDeps struct {
	Submissions repository.SubmissionRepository
	Exercises   repository.ExerciseRepository
	Blobs       BlobStore
	Cipher      FileCipher
	Extractor   TextExtractor
	Screener    *similarity.Screener
	Locker      ExerciseLocker
	Scheduler   GradingScheduler
	Events      EventPublisher
	Guard       UploadGuard
	TempDir     string
}

type submissionService struct {
	submissions repository.SubmissionRepository
	exercises   repository.ExerciseRepository
	blobs       BlobStore
	cipher      FileCipher
	extractor   TextExtractor
	screener    *similarity.Screener
	locker      ExerciseLocker
	scheduler   GradingScheduler
	events      EventPublisher
	guard       UploadGuard
	tempDir     string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(deps SubmissionServiceDeps, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	screener := deps.Screener
	if screener == nil {
		screener = similarity.NewScreener(similarity.DefaultThreshold)
	}
	locker := deps.Locker
	if locker == nil {
		locker = NewLocalExerciseLocker()
	}
	tempDir := deps.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	return &submissionService{
		submissions: deps.Submissions,
		exercises:   deps.Exercises,
		blobs:       deps.Blobs,
		cipher:      deps.Cipher,
		extractor:   deps.Extractor,
		screener:    screener,
		locker:      locker,
		scheduler:   deps.Scheduler,
		events:      deps.Events,
		guard:       deps.Guard,
		tempDir:     tempDir,
		validator:   validate,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/submission"),
		now:         time.Now,
	}
}

func (s *submissionService) Create(parent context.Context, principal Principal, payload dto.SubmissionCreateRequest, file *multipart.FileHeader) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(parent, "submission.create", trace.WithAttributes(
		attribute.Int64("exercise_id", int64(payload.ExerciseID)),
		attribute.Int64("student_id", int64(principal.ID)),
	))
	defer span.End()

	if !principal.IsStudent() || principal.ID == 0 {
		return dto.SubmissionResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if _, err := s.exercises.GetByID(ctx, payload.ExerciseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrExerciseNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	content, err := s.guard.Read(file)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	logger := s.logger.With().Uint("exercise_id", payload.ExerciseID).Uint("student_id", principal.ID).Logger()

	var fingerprint similarity.Fingerprint
	if text, err := s.extractor.Extract(ctx, content); err != nil {
		logger.Warn().Err(err).Msg("text extraction failed, skipping similarity screening")
	} else {
		fingerprint = similarity.FingerprintOf(text)
	}

	unlock, err := s.locker.Lock(ctx, payload.ExerciseID)
	if err != nil {
		return dto.SubmissionResponse{}, fmt.Errorf("lock exercise: %w", err)
	}
	defer unlock()

	spool := filepath.Join(s.tempDir, fmt.Sprintf("%d-%s.pdf", s.now().UnixNano(), uuid.NewString()))
	defer os.Remove(spool)
	if err := os.WriteFile(spool, content, 0o600); err != nil {
		return dto.SubmissionResponse{}, fmt.Errorf("spool upload: %w", err)
	}

	sealed, err := s.cipher.EncryptFile(spool)
	if err != nil {
		return dto.SubmissionResponse{}, fmt.Errorf("encrypt upload: %w", err)
	}

	if len(fingerprint) > 0 {
		rejected, score, err := s.screen(ctx, payload.ExerciseID, principal.ID, fingerprint)
		if err != nil {
			return dto.SubmissionResponse{}, err
		}
		if rejected {
			observability.PlagiarismRejections().Inc()
			logger.Warn().Float64("similarity", score).Msg("submission rejected as plagiarism")
			return dto.SubmissionResponse{}, ErrPlagiarismDetected
		}
	}

	key := storage.SubmissionKey(payload.ExerciseID, principal.ID, uuid.NewString())
	object, err := s.blobs.Put(ctx, key, sealed.Ciphertext, "application/octet-stream")
	if err != nil {
		return dto.SubmissionResponse{}, fmt.Errorf("store submission file: %w", err)
	}

	submission := models.Submission{
		StudentID:     principal.ID,
		ExerciseID:    payload.ExerciseID,
		FileKey:       object.Key,
		FileURL:       object.URL,
		EncryptionKey: sealed.KeyHex,
		EncryptionIV:  sealed.IVHex,
		Status:        models.SubmissionStatusPending,
	}
	if len(fingerprint) > 0 {
		encoded, err := json.Marshal(fingerprint)
		if err != nil {
			return dto.SubmissionResponse{}, fmt.Errorf("encode fingerprint: %w", err)
		}
		submission.Fingerprint = datatypes.JSON(encoded)
	}

	if err := s.submissions.Create(ctx, &submission); err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), object.Key); delErr != nil {
			logger.Error().Err(delErr).Str("key", object.Key).Msg("failed to remove orphaned submission file")
		}
		return dto.SubmissionResponse{}, err
	}

	logger.Info().Uint("submission_id", submission.ID).Msg("submission stored, grading scheduled")
	s.events.Publish(ctx, SubmissionEvent{
		SubmissionID: submission.ID,
		ExerciseID:   submission.ExerciseID,
		StudentID:    submission.StudentID,
		Status:       submission.Status,
		OccurredAt:   submission.SubmittedAt,
	})
	s.scheduler.Enqueue(submission.ID)

	return dto.NewSubmissionResponse(submission), nil
}

// screen compares against other students' submissions to the same exercise.
func (s *submissionService) screen(ctx context.Context, exerciseID, studentID uint, candidate similarity.Fingerprint) (bool, float64, error) {
	stored, err := s.submissions.ListFingerprints(ctx, exerciseID, studentID)
	if err != nil {
		return false, 0, fmt.Errorf("load prior submissions: %w", err)
	}

	priors := make([]similarity.Fingerprint, 0, len(stored))
	for _, raw := range stored {
		var prior similarity.Fingerprint
		if err := json.Unmarshal(raw, &prior); err != nil {
			s.logger.Warn().Err(err).Uint("exercise_id", exerciseID).Msg("skipping unreadable fingerprint")
			continue
		}
		priors = append(priors, prior)
	}

	rejected, score := s.screener.Check(candidate, priors)
	return rejected, score, nil
}

func (s *submissionService) GetStatus(ctx context.Context, principal Principal, id uint) (dto.SubmissionStatusResponse, error) {
	submission, err := s.load(ctx, id)
	if err != nil {
		return dto.SubmissionStatusResponse{}, err
	}
	if !canView(principal, submission) {
		return dto.SubmissionStatusResponse{}, ErrForbidden
	}
	return dto.NewSubmissionStatusResponse(submission), nil
}

func (s *submissionService) ListForExercise(ctx context.Context, principal Principal, exerciseID uint, query dto.SubmissionListQuery) (dto.SubmissionListResponse, error) {
	if !principal.IsStaff() {
		return dto.SubmissionListResponse{}, ErrForbidden
	}
	if _, err := s.exercises.GetByID(ctx, exerciseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionListResponse{}, ErrExerciseNotFound
		}
		return dto.SubmissionListResponse{}, err
	}

	filter, err := s.listFilter(query)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}
	filter.ExerciseID = &exerciseID
	return s.list(ctx, filter)
}

func (s *submissionService) ListForStudent(ctx context.Context, principal Principal, query dto.SubmissionListQuery) (dto.SubmissionListResponse, error) {
	if principal.ID == 0 {
		return dto.SubmissionListResponse{}, ErrForbidden
	}

	filter, err := s.listFilter(query)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}
	studentID := principal.ID
	filter.StudentID = &studentID
	return s.list(ctx, filter)
}

func (s *submissionService) listFilter(query dto.SubmissionListQuery) (repository.SubmissionFilter, error) {
	if err := s.validator.Struct(query); err != nil {
		return repository.SubmissionFilter{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	filter := repository.SubmissionFilter{Limit: query.Limit, Offset: query.Offset}
	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if query.Status != "" {
		status := query.Status
		filter.Status = &status
	}
	if query.SubmittedAt != "" {
		day, err := time.ParseInLocation("2006-01-02", query.SubmittedAt, time.UTC)
		if err != nil {
			return repository.SubmissionFilter{}, fmt.Errorf("%w: submitted_at: %w", ErrValidation, err)
		}
		filter.SubmittedOn = &day
	}
	return filter, nil
}

func (s *submissionService) list(ctx context.Context, filter repository.SubmissionFilter) (dto.SubmissionListResponse, error) {
	items, total, err := s.submissions.List(ctx, filter)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}
	return dto.SubmissionListResponse{
		Items:  dto.NewSubmissionResponseSlice(items),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// Update applies a professor override. A real change to grade or feedback always
// lands in adjusted; an explicit status alone is applied as given.
func (s *submissionService) Update(ctx context.Context, principal Principal, id uint, payload dto.SubmissionUpdateRequest) (dto.SubmissionUpdateResponse, error) {
	if !principal.IsStaff() {
		return dto.SubmissionUpdateResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionUpdateResponse{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	submission, err := s.load(ctx, id)
	if err != nil {
		return dto.SubmissionUpdateResponse{}, err
	}

	gradeChanged := payload.Grade != nil && (submission.Grade == nil || ai.RoundGrade(*payload.Grade) != ai.RoundGrade(*submission.Grade))
	feedbackChanged := payload.Feedback != nil && *payload.Feedback != submission.Feedback

	switch {
	case gradeChanged || feedbackChanged:
		if gradeChanged {
			grade := ai.RoundGrade(*payload.Grade)
			submission.Grade = &grade
		}
		if feedbackChanged {
			submission.Feedback = *payload.Feedback
		}
		submission.Status = models.SubmissionStatusAdjusted
	case payload.Status != nil && models.NormalizeSubmissionStatus(*payload.Status) != models.NormalizeSubmissionStatus(submission.Status):
		submission.Status = models.NormalizeSubmissionStatus(*payload.Status)
	default:
		return dto.SubmissionUpdateResponse{Submission: dto.NewSubmissionResponse(submission), Modified: false}, nil
	}

	submission.UpdatedAt = s.now()
	if err := s.submissions.UpdateResult(ctx, &submission); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionUpdateResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionUpdateResponse{}, err
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("professor_id", principal.ID).
		Str("status", submission.Status).
		Msg("submission overridden")
	s.publish(ctx, submission)

	return dto.SubmissionUpdateResponse{Submission: dto.NewSubmissionResponse(submission), Modified: true}, nil
}

// Regrade resets a submission to pending and schedules it again. Adjusted
// submissions carry a human decision and are never re-graded automatically.
// A pending submission is only accepted when no worker holds it, which lets
// staff recover uploads the queue refused.
func (s *submissionService) Regrade(ctx context.Context, principal Principal, id uint) (dto.SubmissionResponse, error) {
	if !principal.IsStaff() {
		return dto.SubmissionResponse{}, ErrForbidden
	}

	submission, err := s.load(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if models.NormalizeSubmissionStatus(submission.Status) == models.SubmissionStatusAdjusted {
		return dto.SubmissionResponse{}, ErrRegradeNotAllowed
	}
	if !submission.IsTerminal() && s.scheduler.Scheduled(submission.ID) {
		return dto.SubmissionResponse{}, ErrRegradeNotAllowed
	}

	submission.Status = models.SubmissionStatusPending
	submission.Grade = nil
	submission.Feedback = ""
	submission.Details = nil
	submission.UpdatedAt = s.now()
	if err := s.submissions.UpdateResult(ctx, &submission); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	s.publish(ctx, submission)

	if !s.scheduler.Enqueue(submission.ID) {
		return dto.SubmissionResponse{}, ErrGradingQueueFull
	}

	s.logger.Info().Uint("submission_id", submission.ID).Uint("requested_by", principal.ID).Msg("re-grade scheduled")
	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) Stats(ctx context.Context, principal Principal, exerciseID uint) (dto.SubmissionStatsResponse, error) {
	if !principal.IsStaff() {
		return dto.SubmissionStatsResponse{}, ErrForbidden
	}
	if _, err := s.exercises.GetByID(ctx, exerciseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionStatsResponse{}, ErrExerciseNotFound
		}
		return dto.SubmissionStatsResponse{}, err
	}

	stats, err := s.submissions.Stats(ctx, exerciseID)
	if err != nil {
		return dto.SubmissionStatsResponse{}, err
	}

	response := dto.SubmissionStatsResponse{ExerciseID: exerciseID, SubmissionCount: stats.Count}
	if stats.AverageGrade != nil {
		average := ai.RoundGrade(*stats.AverageGrade)
		response.AverageGrade = &average
	}
	return response, nil
}

func (s *submissionService) Delete(ctx context.Context, principal Principal, id uint) error {
	if !principal.IsAdmin() {
		return ErrForbidden
	}

	submission, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if err := s.submissions.Delete(ctx, submission.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubmissionNotFound
		}
		return err
	}

	if key := s.blobKey(submission); key != "" {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Str("key", key).Msg("failed to delete submission file")
		}
	}

	s.logger.Info().Uint("submission_id", submission.ID).Uint("admin_id", principal.ID).Msg("submission deleted")
	return nil
}

func (s *submissionService) DecryptForReview(ctx context.Context, principal Principal, id uint) ([]byte, error) {
	submission, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(principal, submission) {
		return nil, ErrForbidden
	}

	key := s.blobKey(submission)
	if key == "" {
		return nil, fmt.Errorf("submission %d has no stored file", submission.ID)
	}

	ciphertext, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("download submission file: %w", err)
	}
	return s.cipher.Decrypt(ciphertext, submission.EncryptionKey, submission.EncryptionIV)
}

func (s *submissionService) load(ctx context.Context, id uint) (models.Submission, error) {
	if id == 0 {
		return models.Submission{}, fmt.Errorf("%w: invalid submission id", ErrValidation)
	}
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

func (s *submissionService) blobKey(submission models.Submission) string {
	if submission.FileKey != "" {
		return submission.FileKey
	}
	key, err := storage.KeyFromURL(submission.FileURL)
	if err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("cannot derive storage key from url")
		return ""
	}
	return key
}

func (s *submissionService) publish(ctx context.Context, submission models.Submission) {
	s.events.Publish(ctx, SubmissionEvent{
		SubmissionID: submission.ID,
		ExerciseID:   submission.ExerciseID,
		StudentID:    submission.StudentID,
		Status:       submission.Status,
		Grade:        submission.Grade,
		OccurredAt:   submission.UpdatedAt,
	})
}

func canView(principal Principal, submission models.Submission) bool {
	if principal.IsStaff() {
		return true
	}
	return principal.IsStudent() && principal.ID == submission.StudentID
}
