package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/storage"
)

const pdfHeader = "%PDF-1.4\n"

func pdfBytes(text string) []byte {
	return []byte(pdfHeader + text)
}

func newFileHeader(t *testing.T, field, name string, content []byte) *multipart.FileHeader {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	form, err := multipart.NewReader(&body, writer.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	require.Len(t, form.File[field], 1)
	return form.File[field][0]
}

type memorySubmissionRepo struct {
	mu        sync.Mutex
	rows      map[uint]models.Submission
	nextID    uint
	createErr error
}

func newMemorySubmissionRepo() *memorySubmissionRepo {
	return &memorySubmissionRepo{rows: make(map[uint]models.Submission)}
}

func (r *memorySubmissionRepo) Create(ctx context.Context, submission *models.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	submission.ID = r.nextID
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = time.Now()
	}
	submission.UpdatedAt = submission.SubmittedAt
	r.rows[submission.ID] = *submission
	return nil
}

func (r *memorySubmissionRepo) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	return row, nil
}

func (r *memorySubmissionRepo) List(ctx context.Context, filter repository.SubmissionFilter) ([]models.Submission, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []models.Submission
	for _, row := range r.rows {
		if filter.ExerciseID != nil && row.ExerciseID != *filter.ExerciseID {
			continue
		}
		if filter.StudentID != nil && row.StudentID != *filter.StudentID {
			continue
		}
		if filter.Status != nil && models.NormalizeSubmissionStatus(row.Status) != models.NormalizeSubmissionStatus(*filter.Status) {
			continue
		}
		items = append(items, row)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, int64(len(items)), nil
}

func (r *memorySubmissionRepo) ListFingerprints(ctx context.Context, exerciseID, excludeStudentID uint) ([]datatypes.JSON, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fingerprints []datatypes.JSON
	for _, row := range r.rows {
		if row.ExerciseID == exerciseID && row.StudentID != excludeStudentID && len(row.Fingerprint) > 0 {
			fingerprints = append(fingerprints, row.Fingerprint)
		}
	}
	return fingerprints, nil
}

func (r *memorySubmissionRepo) UpdateResult(ctx context.Context, submission *models.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[submission.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	row.Grade = submission.Grade
	row.Feedback = submission.Feedback
	row.Status = submission.Status
	row.Details = submission.Details
	row.UpdatedAt = submission.UpdatedAt
	r.rows[submission.ID] = row
	return nil
}

func (r *memorySubmissionRepo) Stats(ctx context.Context, exerciseID uint) (repository.SubmissionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		stats  repository.SubmissionStats
		total  float64
		graded int
	)
	for _, row := range r.rows {
		if row.ExerciseID != exerciseID {
			continue
		}
		stats.Count++
		if row.Grade != nil {
			total += *row.Grade
			graded++
		}
	}
	if graded > 0 {
		average := total / float64(graded)
		stats.AverageGrade = &average
	}
	return stats, nil
}

func (r *memorySubmissionRepo) Delete(ctx context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *memorySubmissionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type stubExerciseRepo struct {
	exercises map[uint]models.Exercise
}

func (s stubExerciseRepo) GetByID(ctx context.Context, id uint) (models.Exercise, error) {
	exercise, ok := s.exercises[id]
	if !ok {
		return models.Exercise{}, gorm.ErrRecordNotFound
	}
	return exercise, nil
}

type memoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{objects: make(map[string][]byte)}
}

func (m *memoryBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.putErr != nil {
		return storage.Object{}, m.putErr
	}
	m.objects[key] = append([]byte(nil), data...)
	return storage.Object{Key: key, URL: "https://blobs.test/grading/" + key}, nil
}

func (m *memoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (m *memoryBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryBlobStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// headerExtractor treats test "PDFs" as a header followed by plain text.
type headerExtractor struct{}

func (headerExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	text := strings.TrimSpace(strings.TrimPrefix(string(data), pdfHeader))
	if text == "" {
		return "", errors.New("no extractable text in document")
	}
	return text, nil
}

type recordingScheduler struct {
	mu   sync.Mutex
	ids  []uint
	full bool
}

func (s *recordingScheduler) Enqueue(submissionID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.ids = append(s.ids, submissionID)
	return true
}

func (s *recordingScheduler) Scheduled(submissionID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, queued := range s.ids {
		if queued == submissionID {
			return true
		}
	}
	return false
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []SubmissionEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event SubmissionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	statuses := make([]string, 0, len(p.events))
	for _, event := range p.events {
		statuses = append(statuses, event.Status)
	}
	return statuses
}

type stubCorrectionRepo struct {
	mu          sync.Mutex
	model       string
	corrections map[uint]models.Correction
	nextID      uint
}

func (s *stubCorrectionRepo) Create(ctx context.Context, correction *models.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.corrections == nil {
		s.corrections = make(map[uint]models.Correction)
	}
	s.nextID++
	correction.ID = s.nextID
	for i := range correction.Files {
		correction.Files[i].ID = uint(i + 1)
		correction.Files[i].CorrectionID = correction.ID
	}
	s.corrections[correction.ID] = *correction
	return nil
}

func (s *stubCorrectionRepo) GetByID(ctx context.Context, id uint) (models.Correction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	correction, ok := s.corrections[id]
	if !ok {
		return models.Correction{}, gorm.ErrRecordNotFound
	}
	return correction, nil
}

func (s *stubCorrectionRepo) UpdateModel(ctx context.Context, id uint, model string, builtAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	correction, ok := s.corrections[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	correction.CorrectionModel = model
	correction.ModelBuiltAt = &builtAt
	s.corrections[id] = correction
	return nil
}

func (s *stubCorrectionRepo) ModelForExercise(ctx context.Context, exerciseID uint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != "" {
		return s.model, nil
	}
	for _, correction := range s.corrections {
		if correction.ExerciseID == exerciseID && correction.CorrectionModel != "" {
			return correction.CorrectionModel, nil
		}
	}
	return "", gorm.ErrRecordNotFound
}

// scriptedScorer answers every prompt with the same reply.
type scriptedScorer struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (s *scriptedScorer) Complete(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *scriptedScorer) Model() string {
	return "test-model"
}

func (s *scriptedScorer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func numberedAnswers(answers ...string) string {
	var builder strings.Builder
	for i, answer := range answers {
		fmt.Fprintf(&builder, "%d\n%s\n", i+1, answer)
	}
	return builder.String()
}
