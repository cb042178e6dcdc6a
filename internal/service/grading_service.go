package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/filecrypt"
	"github.com/noah-isme/gema-grading-api/pkg/pdftext"
	"github.com/noah-isme/gema-grading-api/pkg/questions"
	"github.com/noah-isme/gema-grading-api/pkg/storage"
)

// Question-count mismatch policies.
const (
	MismatchTruncate = "truncate"
	MismatchUngraded = "ungraded"
	MismatchStrict   = "strict"
)

// GradingConfig tunes the automated grading run.
type GradingConfig struct {
	MismatchPolicy string
}

// SubmissionGrader runs automated grading for one submission.
type SubmissionGrader interface {
	Grade(ctx context.Context, submissionID uint) error
}

type gradingService struct {
	submissions repository.SubmissionRepository
	corrections repository.CorrectionRepository
	blobs       BlobStore
	cipher      FileCipher
	extractor   TextExtractor
	segmenter   *questions.Segmenter
	grader      QuestionGrader
	events      EventPublisher
	config      GradingConfig
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewGradingService wires the automated grading path.
func NewGradingService(
	submissionRepo repository.SubmissionRepository,
	correctionRepo repository.CorrectionRepository,
	blobs BlobStore,
	cipher FileCipher,
	extractor TextExtractor,
	segmenter *questions.Segmenter,
	grader QuestionGrader,
	events EventPublisher,
	cfg GradingConfig,
	logger zerolog.Logger,
) SubmissionGrader {
	switch cfg.MismatchPolicy {
	case MismatchTruncate, MismatchUngraded, MismatchStrict:
	default:
		cfg.MismatchPolicy = MismatchTruncate
	}

	return &gradingService{
		submissions: submissionRepo,
		corrections: correctionRepo,
		blobs:       blobs,
		cipher:      cipher,
		extractor:   extractor,
		segmenter:   segmenter,
		grader:      grader,
		events:      events,
		config:      cfg,
		logger:      logger.With().Str("component", "grading_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/grading"),
		now:         time.Now,
	}
}

// Grade downloads, decrypts and grades the submission, then persists a terminal
// state. Any failure along the way is recorded as status failed with grade 0 and
// an explanatory feedback; only a failure to persist that state is returned.
func (s *gradingService) Grade(parent context.Context, submissionID uint) error {
	ctx, span := s.tracer.Start(parent, "grading.run", trace.WithAttributes(
		attribute.Int64("submission_id", int64(submissionID)),
	))
	defer span.End()

	start := s.now()
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubmissionNotFound
		}
		return err
	}

	logger := s.logger.With().
		Uint("submission_id", submission.ID).
		Uint("exercise_id", submission.ExerciseID).
		Logger()

	result, pairs, runErr := s.run(ctx, submission)

	zero := 0.0
	switch {
	case runErr != nil:
		logger.Warn().Err(runErr).Msg("grading failed")
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		result = ai.GradingResult{OverallGrade: 0, Error: failureMessage(runErr)}
		submission.Status = models.SubmissionStatusFailed
		submission.Grade = &zero
		submission.Feedback = result.Error
	case result.Failed():
		logger.Warn().Str("reason", result.Error).Msg("grading degraded by scorer failure")
		span.SetStatus(codes.Error, result.Error)
		submission.Status = models.SubmissionStatusFailed
		submission.Grade = &zero
		submission.Feedback = result.Error
	default:
		grade := result.OverallGrade
		submission.Status = models.SubmissionStatusCompleted
		submission.Grade = &grade
		submission.Feedback = renderFeedback(result, pairs)
	}

	details, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode grading details: %w", err)
	}
	submission.Details = datatypes.JSON(details)
	submission.UpdatedAt = s.now()

	if err := s.submissions.UpdateResult(ctx, &submission); err != nil {
		logger.Error().Err(err).Msg("failed to persist grading result")
		return fmt.Errorf("persist grading result: %w", err)
	}

	elapsed := s.now().Sub(start)
	observability.GradingDuration().WithLabelValues(submission.Status).Observe(elapsed.Seconds())
	observability.GradingOutcomes().WithLabelValues(submission.Status).Inc()
	logger.Info().
		Str("status", submission.Status).
		Float64("grade", *submission.Grade).
		Dur("elapsed", elapsed).
		Msg("grading finished")

	s.events.Publish(ctx, SubmissionEvent{
		SubmissionID: submission.ID,
		ExerciseID:   submission.ExerciseID,
		StudentID:    submission.StudentID,
		Status:       submission.Status,
		Grade:        submission.Grade,
		OccurredAt:   submission.UpdatedAt,
	})

	return nil
}

// run keeps every decrypted artifact in memory.
func (s *gradingService) run(ctx context.Context, submission models.Submission) (ai.GradingResult, []ai.QuestionPair, error) {
	key := submission.FileKey
	if key == "" {
		recovered, err := storage.KeyFromURL(submission.FileURL)
		if err != nil {
			return ai.GradingResult{}, nil, fmt.Errorf("locate submission file: %w", err)
		}
		key = recovered
	}

	ciphertext, err := s.blobs.Get(ctx, key)
	if err != nil {
		return ai.GradingResult{}, nil, fmt.Errorf("download submission file: %w", err)
	}

	plain, err := s.cipher.Decrypt(ciphertext, submission.EncryptionKey, submission.EncryptionIV)
	if err != nil {
		return ai.GradingResult{}, nil, fmt.Errorf("decrypt submission file: %w", err)
	}

	text, err := s.extractor.Extract(ctx, plain)
	if err != nil {
		return ai.GradingResult{}, nil, fmt.Errorf("extract submission text: %w", err)
	}

	blocks := s.segmenter.Segment(text)
	if len(blocks) == 0 {
		return ai.GradingResult{}, nil, questions.ErrNoQuestionsFound
	}

	model, err := s.corrections.ModelForExercise(ctx, submission.ExerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ai.GradingResult{}, nil, ErrCorrectionModelMissing
		}
		return ai.GradingResult{}, nil, fmt.Errorf("load correction model: %w", err)
	}

	reference := questions.ParseModel(s.segmenter, model)
	if len(reference) == 0 {
		return ai.GradingResult{}, nil, ErrCorrectionModelMissing
	}

	pairs, err := pairQuestions(blocks, reference, s.config.MismatchPolicy)
	if err != nil {
		return ai.GradingResult{}, nil, err
	}

	s.logger.Debug().
		Uint("submission_id", submission.ID).
		Int("student_questions", len(blocks)).
		Int("reference_questions", len(reference)).
		Int("pairs", len(pairs)).
		Msg("questions paired")

	return s.grader.GradeQuestions(ctx, pairs), pairs, nil
}

// pairQuestions matches student question i with reference question i.
func pairQuestions(blocks []questions.Block, reference []questions.Entry, policy string) ([]ai.QuestionPair, error) {
	if policy == MismatchStrict && len(blocks) != len(reference) {
		return nil, fmt.Errorf("%w: %d answered, %d expected", ErrQuestionCountMismatch, len(blocks), len(reference))
	}

	shared := len(blocks)
	if len(reference) < shared {
		shared = len(reference)
	}

	pairs := make([]ai.QuestionPair, 0, shared)
	for i := 0; i < shared; i++ {
		pairs = append(pairs, ai.QuestionPair{
			Index:           i + 1,
			Question:        reference[i].Question,
			StudentAnswer:   blocks[i].Answer(),
			ReferenceAnswer: reference[i].Answer,
		})
	}

	if policy != MismatchUngraded {
		return pairs, nil
	}

	for i := shared; i < len(blocks); i++ {
		pairs = append(pairs, ai.QuestionPair{Index: i + 1, StudentAnswer: blocks[i].Answer(), Ungraded: true})
	}
	for i := shared; i < len(reference); i++ {
		pairs = append(pairs, ai.QuestionPair{Index: i + 1, Question: reference[i].Question, ReferenceAnswer: reference[i].Answer})
	}
	return pairs, nil
}

func renderFeedback(result ai.GradingResult, pairs []ai.QuestionPair) string {
	sections := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		question, ok := result.Questions[ai.QuestionKey(pair.Index)]
		if !ok {
			continue
		}
		if question.Status == ai.StatusUngraded {
			sections = append(sections, fmt.Sprintf("Question %d (not graded): %s", pair.Index, question.Feedback))
			continue
		}
		sections = append(sections, fmt.Sprintf("Question %d (%g/20): %s", pair.Index, question.Grade, question.Feedback))
	}
	return strings.Join(sections, "\n\n")
}

func failureMessage(err error) string {
	var reason string
	switch {
	case errors.Is(err, filecrypt.ErrCrypto), errors.Is(err, filecrypt.ErrCorruptCiphertext):
		reason = "the submitted file could not be decrypted"
	case errors.Is(err, storage.ErrObjectNotFound):
		reason = "the submitted file is missing from storage"
	case errors.Is(err, pdftext.ErrEmptyDocument):
		reason = "no text could be extracted from the PDF; make sure it contains selectable text"
	case errors.Is(err, pdftext.ErrUnreadableDocument):
		reason = "the PDF could not be read"
	case errors.Is(err, questions.ErrNoQuestionsFound):
		reason = "no numbered questions were found in the submitted PDF"
	case errors.Is(err, ErrCorrectionModelMissing):
		reason = "no correction is available for this exercise yet"
	default:
		reason = err.Error()
	}
	return fmt.Sprintf("Automatic grading failed: %s (%v). Please try again or contact your professor.", reason, err)
}
