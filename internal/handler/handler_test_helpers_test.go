package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/internal/router"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/filecrypt"
	"github.com/noah-isme/gema-grading-api/pkg/questions"
	"github.com/noah-isme/gema-grading-api/pkg/similarity"
	"github.com/noah-isme/gema-grading-api/pkg/storage"
)

const pdfHeader = "%PDF-1.4\n"

type testPrincipal struct {
	id   uint
	role string
}

var (
	studentAlice = testPrincipal{id: 3, role: "student"}
	studentBob   = testPrincipal{id: 4, role: "student"}
	professor    = testPrincipal{id: 1, role: "professor"}
	admin        = testPrincipal{id: 2, role: "admin"}
)

type memoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryBlobStore) Put(_ context.Context, key string, data []byte, _ string) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return storage.Object{Key: key, URL: "https://blobs.test/grading/" + key}, nil
}

func (m *memoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (m *memoryBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// plainExtractor treats test documents as a PDF header followed by plain text.
type plainExtractor struct{}

func (plainExtractor) Extract(_ context.Context, data []byte) (string, error) {
	text := strings.TrimSpace(strings.TrimPrefix(string(data), pdfHeader))
	if text == "" {
		return "", errors.New("no extractable text in document")
	}
	return text, nil
}

type pendingScheduler struct {
	mu   sync.Mutex
	ids  []uint
	full bool
}

func (s *pendingScheduler) Enqueue(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

// finish drops id the way a worker does once a grading run returns.
func (s *pendingScheduler) finish(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.ids[:0]
	for _, queued := range s.ids {
		if queued != id {
			kept = append(kept, queued)
		}
	}
	s.ids = kept
}

func (s *pendingScheduler) Scheduled(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, queued := range s.ids {
		if queued == id {
			return true
		}
	}
	return false
}

type fixedScorer struct {
	reply string
}

func (s fixedScorer) Complete(context.Context, string) (string, error) {
	return s.reply, nil
}

func (fixedScorer) Model() string {
	return "test-model"
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, service.SubmissionEvent) {}

type gradingApp struct {
	app       *fiber.App
	db        *gorm.DB
	blobs     *memoryBlobStore
	scheduler *pendingScheduler
	grader    service.SubmissionGrader
	exercise  models.Exercise
}

func setupGradingApp(t *testing.T) *gradingApp {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Exercise{}, &models.Submission{}, &models.Correction{}, &models.CorrectionFile{}))

	exercise := models.Exercise{ProfessorID: professor.id, Title: "Library queries", Content: "Write the SQL for each question."}
	require.NoError(t, db.Create(&exercise).Error)

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.Nop()
	blobs := &memoryBlobStore{objects: make(map[string][]byte)}
	scheduler := &pendingScheduler{}
	cipher := filecrypt.New()
	segmenter := questions.NewSegmenter(nil)
	guard := service.NewUploadGuard(1 << 20)

	exerciseRepo := repository.NewExerciseRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	correctionRepo := repository.NewCorrectionRepository(db)

	submissionService := service.NewSubmissionService(service.SubmissionServiceDeps{
		Submissions: submissionRepo,
		Exercises:   exerciseRepo,
		Blobs:       blobs,
		Cipher:      cipher,
		Extractor:   plainExtractor{},
		Screener:    similarity.NewScreener(similarity.DefaultThreshold),
		Scheduler:   scheduler,
		Events:      noopPublisher{},
		Guard:       guard,
		TempDir:     t.TempDir(),
	}, validate, logger)
	correctionService := service.NewCorrectionService(
		correctionRepo,
		exerciseRepo,
		blobs,
		questions.NewBuilder(plainExtractor{}, segmenter, nil),
		guard,
		validate,
		logger,
	)
	grader := service.NewGradingService(
		submissionRepo,
		correctionRepo,
		blobs,
		cipher,
		plainExtractor{},
		segmenter,
		ai.NewOrchestrator(fixedScorer{reply: `{"grade": 15.5, "feedback": "Good use of aggregates."}`}, logger),
		noopPublisher{},
		service.GradingConfig{},
		logger,
	)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", AppEnv: "test", JWTSecret: "secret"}, router.Dependencies{
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, nil, logger),
		CorrectionHandler: handler.NewCorrectionHandler(correctionService, logger),
		ExerciseHandler:   handler.NewExerciseHandler(service.NewExerciseService(exerciseRepo, logger), logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			if id := c.Get("X-Test-User"); id != "" {
				parsed, err := strconv.ParseUint(id, 10, 64)
				if err != nil {
					return fiber.ErrUnauthorized
				}
				c.Locals("user_id", uint(parsed))
				c.Locals("user_role", c.Get("X-Test-Role"))
			}
			return c.Next()
		},
	})

	return &gradingApp{app: app, db: db, blobs: blobs, scheduler: scheduler, grader: grader, exercise: exercise}
}

func (a *gradingApp) do(t *testing.T, who *testPrincipal, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if who != nil {
		req.Header.Set("X-Test-User", strconv.FormatUint(uint64(who.id), 10))
		req.Header.Set("X-Test-Role", who.role)
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (a *gradingApp) doJSON(t *testing.T, who *testPrincipal, method, path string, payload interface{}) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return a.do(t, who, method, path, bytes.NewReader(body), fiber.MIMEApplicationJSON)
}

func (a *gradingApp) upload(t *testing.T, who testPrincipal, exerciseID uint, text string) *http.Response {
	t.Helper()

	body, contentType := multipartBody(t, map[string]string{
		"exercise_id": strconv.FormatUint(uint64(exerciseID), 10),
	}, "file", testFile{name: "answers.pdf", content: []byte(pdfHeader + text)})
	return a.do(t, &who, http.MethodPost, "/api/v1/submissions", body, contentType)
}

type testFile struct {
	name    string
	content []byte
}

func multipartBody(t *testing.T, fields map[string]string, fileField string, files ...testFile) (io.Reader, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(fileField, file.name)
		require.NoError(t, err)
		_, err = part.Write(file.content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

func numbered(answers ...string) string {
	var builder strings.Builder
	for i, answer := range answers {
		fmt.Fprintf(&builder, "%d\n%s\n", i+1, answer)
	}
	return builder.String()
}

func idPath(format string, id uint) string {
	return fmt.Sprintf(format, id)
}
