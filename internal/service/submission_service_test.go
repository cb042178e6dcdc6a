package service

import (
	"context"
	"errors"
	"mime/multipart"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/pkg/filecrypt"
)

const testExerciseID uint = 7

type submissionFixture struct {
	repo      *memorySubmissionRepo
	blobs     *memoryBlobStore
	scheduler *recordingScheduler
	events    *recordingPublisher
	tempDir   string
	svc       SubmissionService
}

func newSubmissionFixture(t *testing.T) *submissionFixture {
	t.Helper()

	fixture := &submissionFixture{
		repo:      newMemorySubmissionRepo(),
		blobs:     newMemoryBlobStore(),
		scheduler: &recordingScheduler{},
		events:    &recordingPublisher{},
		tempDir:   t.TempDir(),
	}
	fixture.svc = NewSubmissionService(SubmissionServiceDeps{
		Submissions: fixture.repo,
		Exercises:   stubExerciseRepo{exercises: map[uint]models.Exercise{testExerciseID: {ID: testExerciseID, Title: "SQL joins"}}},
		Blobs:       fixture.blobs,
		Cipher:      filecrypt.New(),
		Extractor:   headerExtractor{},
		Locker:      NewLocalExerciseLocker(),
		Scheduler:   fixture.scheduler,
		Events:      fixture.events,
		Guard:       NewUploadGuard(0),
		TempDir:     fixture.tempDir,
	}, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
	return fixture
}

func (f *submissionFixture) submit(t *testing.T, studentID uint, text string) (dto.SubmissionResponse, error) {
	t.Helper()
	file := newFileHeader(t, "file", "answers.pdf", pdfBytes(text))
	return f.svc.Create(context.Background(), Principal{ID: studentID, Role: RoleStudent}, dto.SubmissionCreateRequest{ExerciseID: testExerciseID}, file)
}

func (f *submissionFixture) seed(submission models.Submission) models.Submission {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	f.repo.nextID++
	submission.ID = f.repo.nextID
	f.repo.rows[submission.ID] = submission
	return submission
}

func gradePtr(value float64) *float64 {
	return &value
}

var (
	professor = Principal{ID: 90, Role: RoleProfessor}
	admin     = Principal{ID: 99, Role: RoleAdmin}
)

func TestSubmissionCreateStoresEncryptedPendingSubmission(t *testing.T) {
	fixture := newSubmissionFixture(t)
	text := numberedAnswers("SELECT name FROM authors;", "SELECT COUNT(*) FROM loans;")

	response, err := fixture.submit(t, 3, text)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, response.Status)
	require.Nil(t, response.Grade)
	require.Equal(t, []uint{response.ID}, fixture.scheduler.ids)
	require.Equal(t, []string{models.SubmissionStatusPending}, fixture.events.statuses())

	stored, err := fixture.repo.GetByID(context.Background(), response.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stored.FileKey, "submissions/7/3/"))
	require.NotEmpty(t, stored.EncryptionKey)
	require.NotEmpty(t, stored.EncryptionIV)
	require.NotEmpty(t, stored.Fingerprint)

	ciphertext, err := fixture.blobs.Get(context.Background(), stored.FileKey)
	require.NoError(t, err)
	require.NotContains(t, string(ciphertext), "SELECT")

	plain, err := fixture.svc.DecryptForReview(context.Background(), Principal{ID: 3, Role: RoleStudent}, response.ID)
	require.NoError(t, err)
	require.Equal(t, pdfBytes(text), plain)

	entries, err := os.ReadDir(fixture.tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSubmissionCreateUnknownExerciseWritesNothing(t *testing.T) {
	fixture := newSubmissionFixture(t)
	file := newFileHeader(t, "file", "answers.pdf", pdfBytes("1\nSELECT 1;"))

	_, err := fixture.svc.Create(context.Background(), Principal{ID: 3, Role: RoleStudent}, dto.SubmissionCreateRequest{ExerciseID: 404}, file)
	require.ErrorIs(t, err, ErrExerciseNotFound)
	require.Zero(t, fixture.repo.count())
	require.Zero(t, fixture.blobs.count())
	require.Empty(t, fixture.scheduler.ids)
}

func TestSubmissionCreateRequiresStudentRole(t *testing.T) {
	fixture := newSubmissionFixture(t)
	file := newFileHeader(t, "file", "answers.pdf", pdfBytes("1\nSELECT 1;"))

	_, err := fixture.svc.Create(context.Background(), professor, dto.SubmissionCreateRequest{ExerciseID: testExerciseID}, file)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestSubmissionCreateRejectsNonPDF(t *testing.T) {
	fixture := newSubmissionFixture(t)
	file := newFileHeader(t, "file", "answers.txt", []byte("1\nSELECT 1;"))

	_, err := fixture.svc.Create(context.Background(), Principal{ID: 3, Role: RoleStudent}, dto.SubmissionCreateRequest{ExerciseID: testExerciseID}, file)
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, ErrUnsupportedFileType)
	require.Zero(t, fixture.blobs.count())
}

func TestSubmissionCreateRejectsPlagiarismSequentially(t *testing.T) {
	fixture := newSubmissionFixture(t)
	original := "1\nselect title author year from books join authors on books author id equals authors id where year above two thousand order by title"
	copied := original + " limit ten rows"

	_, err := fixture.submit(t, 3, original)
	require.NoError(t, err)

	_, err = fixture.submit(t, 4, copied)
	require.ErrorIs(t, err, ErrPlagiarismDetected)
	require.Equal(t, 1, fixture.repo.count())
	require.Equal(t, 1, fixture.blobs.count())

	_, err = fixture.submit(t, 3, original)
	require.NoError(t, err, "a student is never screened against their own submissions")

	_, err = fixture.submit(t, 5, "1\nSELECT id FROM members WHERE active = true;")
	require.NoError(t, err)
}

func TestSubmissionCreateConcurrentUploadsScreenEachOther(t *testing.T) {
	fixture := newSubmissionFixture(t)
	text := numberedAnswers("SELECT name FROM authors ORDER BY name;", "SELECT COUNT(*) FROM loans GROUP BY member_id;")

	uploads := map[uint]*multipart.FileHeader{
		11: newFileHeader(t, "file", "a.pdf", pdfBytes(text)),
		12: newFileHeader(t, "file", "b.pdf", pdfBytes(text)),
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	for student, file := range uploads {
		wg.Add(1)
		go func(studentID uint, file *multipart.FileHeader) {
			defer wg.Done()
			_, err := fixture.svc.Create(context.Background(), Principal{ID: studentID, Role: RoleStudent}, dto.SubmissionCreateRequest{ExerciseID: testExerciseID}, file)
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}(student, file)
	}
	wg.Wait()

	var accepted, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrPlagiarismDetected):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, rejected)
}

func TestSubmissionCreateRemovesBlobWhenInsertFails(t *testing.T) {
	fixture := newSubmissionFixture(t)
	fixture.repo.createErr = errors.New("database unavailable")

	_, err := fixture.submit(t, 3, "1\nSELECT 1;")
	require.Error(t, err)
	require.Zero(t, fixture.blobs.count())
	require.Empty(t, fixture.scheduler.ids)
}

func TestSubmissionUpdateUnchangedGradeIsNoop(t *testing.T) {
	fixture := newSubmissionFixture(t)
	seeded := fixture.seed(models.Submission{StudentID: 3, ExerciseID: testExerciseID, Status: models.SubmissionStatusCompleted, Grade: gradePtr(12.5), Feedback: "Good"})

	response, err := fixture.svc.Update(context.Background(), professor, seeded.ID, dto.SubmissionUpdateRequest{Grade: gradePtr(12.501)})
	require.NoError(t, err)
	require.False(t, response.Modified)
	require.Equal(t, models.SubmissionStatusCompleted, response.Submission.Status)
	require.Empty(t, fixture.events.statuses())
}

func TestSubmissionUpdateChangeForcesAdjusted(t *testing.T) {
	fixture := newSubmissionFixture(t)
	seeded := fixture.seed(models.Submission{StudentID: 3, ExerciseID: testExerciseID, Status: models.SubmissionStatusCompleted, Grade: gradePtr(12.5), Feedback: "Good"})
	failed := models.SubmissionStatusFailed

	response, err := fixture.svc.Update(context.Background(), professor, seeded.ID, dto.SubmissionUpdateRequest{Grade: gradePtr(15), Status: &failed})
	require.NoError(t, err)
	require.True(t, response.Modified)
	require.Equal(t, models.SubmissionStatusAdjusted, response.Submission.Status)

	stored, err := fixture.repo.GetByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.Equal(t, 15.0, *stored.Grade)
	require.Equal(t, "Good", stored.Feedback)
	require.Equal(t, models.SubmissionStatusAdjusted, stored.Status)
	require.Equal(t, []string{models.SubmissionStatusAdjusted}, fixture.events.statuses())
}

func TestSubmissionUpdateExplicitStatusOnly(t *testing.T) {
	fixture := newSubmissionFixture(t)
	seeded := fixture.seed(models.Submission{StudentID: 3, ExerciseID: testExerciseID, Status: models.SubmissionStatusFailed, Grade: gradePtr(0)})
	evaluated := models.SubmissionStatusEvaluated

	response, err := fixture.svc.Update(context.Background(), professor, seeded.ID, dto.SubmissionUpdateRequest{Status: &evaluated})
	require.NoError(t, err)
	require.True(t, response.Modified)
	require.Equal(t, models.SubmissionStatusCompleted, response.Submission.Status)
}

func TestSubmissionUpdateValidation(t *testing.T) {
	fixture := newSubmissionFixture(t)
	seeded := fixture.seed(models.Submission{StudentID: 3, ExerciseID: testExerciseID, Status: models.SubmissionStatusCompleted})

	_, err := fixture.svc.Update(context.Background(), Principal{ID: 3, Role: RoleStudent}, seeded.ID, dto.SubmissionUpdateRequest{Grade: gradePtr(20)})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = fixture.svc.Update(context.Background(), professor, seeded.ID, dto.SubmissionUpdateRequest{Grade: gradePtr(21)})
	require.ErrorIs(t, err, ErrValidation)

	_, err = fixture.svc.Update(context.Background(), professor, 999, dto.SubmissionUpdateRequest{Grade: gradePtr(10)})
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestSubmissionGetStatusOwnership(t *testing.T) {
	fixture := newSubmissionFixture(t)
	seeded := fixture.seed(models.Submission{StudentID: 3, ExerciseID: testExerciseID, Status: models.SubmissionStatusEvaluated, Grade: gradePtr(14)})

	status, err := fixture.svc.GetStatus(context.Background(), Principal{ID: 3, Role: RoleStudent}, seeded.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusCompleted, status.Status)

	_, err = fixture.svc.GetStatus(context.Background(), Principal{ID: 4, Role: RoleStudent}, seeded.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = fixture.svc.GetStatus(context.Background(), professor, seeded.ID)
	require.NoError(t, err)
}

func TestSubmissionRegrade(t *testing.T) {
	fixture := newSubmissionFixture(t)
	failed := fixture.seed(models.Submission{StudentID: 3, ExerciseID: testExerciseID, Status: models.SubmissionStatusFailed, Grade: gradePtr(0), Feedback: "Automatic grading failed"})
	adjusted := fixture.seed(models.Submission{StudentID: 4, ExerciseID: testExerciseID, Status: models.SubmissionStatusAdjusted, Grade: gradePtr(17)})

	response, err := fixture.svc.Regrade(context.Background(), professor, failed.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, response.Status)
	require.Nil(t, response.Grade)
	require.Equal(t, []uint{failed.ID}, fixture.scheduler.ids)

	_, err = fixture.svc.Regrade(context.Background(), professor, adjusted.ID)
	require.ErrorIs(t, err, ErrRegradeNotAllowed)

	_, err = fixture.svc.Regrade(context.Background(), Principal{ID: 3, Role: RoleStudent}, failed.ID)
	require.ErrorIs(t, err, ErrForbidden)

	orphaned := fixture.seed(models.Submission{StudentID: 5, ExerciseID: testExerciseID, Status: models.SubmissionStatusPending})
	fixture.scheduler.full = true
	_, err = fixture.svc.Regrade(context.Background(), professor, orphaned.ID)
	require.ErrorIs(t, err, ErrGradingQueueFull)

	fixture.scheduler.full = false
	response, err = fixture.svc.Regrade(context.Background(), professor, orphaned.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, response.Status)
	require.Equal(t, []uint{failed.ID, orphaned.ID}, fixture.scheduler.ids)
}

func TestSubmissionRegradeRejectsInFlightGrading(t *testing.T) {
	fixture := newSubmissionFixture(t)
	created, err := fixture.submit(t, 3, "1\nSELECT 1;")
	require.NoError(t, err)
	require.Equal(t, []uint{created.ID}, fixture.scheduler.ids)

	_, err = fixture.svc.Regrade(context.Background(), professor, created.ID)
	require.ErrorIs(t, err, ErrRegradeNotAllowed)
	require.Equal(t, []uint{created.ID}, fixture.scheduler.ids)

	stored, err := fixture.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, stored.Status)
}

func TestSubmissionStatsRoundsAverage(t *testing.T) {
	fixture := newSubmissionFixture(t)
	fixture.seed(models.Submission{StudentID: 3, ExerciseID: testExerciseID, Status: models.SubmissionStatusCompleted, Grade: gradePtr(10)})
	fixture.seed(models.Submission{StudentID: 4, ExerciseID: testExerciseID, Status: models.SubmissionStatusCompleted, Grade: gradePtr(12.34)})
	fixture.seed(models.Submission{StudentID: 5, ExerciseID: testExerciseID, Status: models.SubmissionStatusPending})

	stats, err := fixture.svc.Stats(context.Background(), professor, testExerciseID)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.SubmissionCount)
	require.NotNil(t, stats.AverageGrade)
	require.Equal(t, 11.17, *stats.AverageGrade)

	_, err = fixture.svc.Stats(context.Background(), professor, 404)
	require.ErrorIs(t, err, ErrExerciseNotFound)
}

func TestSubmissionDeleteRemovesRowAndBlob(t *testing.T) {
	fixture := newSubmissionFixture(t)
	response, err := fixture.submit(t, 3, "1\nSELECT 1;")
	require.NoError(t, err)
	require.Equal(t, 1, fixture.blobs.count())

	require.ErrorIs(t, fixture.svc.Delete(context.Background(), professor, response.ID), ErrForbidden)
	require.NoError(t, fixture.svc.Delete(context.Background(), admin, response.ID))
	require.Zero(t, fixture.repo.count())
	require.Zero(t, fixture.blobs.count())

	require.ErrorIs(t, fixture.svc.Delete(context.Background(), admin, response.ID), ErrSubmissionNotFound)
}

func TestSubmissionListing(t *testing.T) {
	fixture := newSubmissionFixture(t)
	fixture.seed(models.Submission{StudentID: 3, ExerciseID: testExerciseID, Status: models.SubmissionStatusCompleted, Grade: gradePtr(10)})
	fixture.seed(models.Submission{StudentID: 4, ExerciseID: testExerciseID, Status: models.SubmissionStatusFailed, Grade: gradePtr(0)})

	page, err := fixture.svc.ListForExercise(context.Background(), professor, testExerciseID, dto.SubmissionListQuery{Status: "failed"})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	require.Equal(t, 20, page.Limit)
	require.Equal(t, uint(4), page.Items[0].StudentID)

	_, err = fixture.svc.ListForExercise(context.Background(), professor, testExerciseID, dto.SubmissionListQuery{Status: "archived"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = fixture.svc.ListForExercise(context.Background(), Principal{ID: 3, Role: RoleStudent}, testExerciseID, dto.SubmissionListQuery{})
	require.ErrorIs(t, err, ErrForbidden)

	mine, err := fixture.svc.ListForStudent(context.Background(), Principal{ID: 3, Role: RoleStudent}, dto.SubmissionListQuery{})
	require.NoError(t, err)
	require.Len(t, mine.Items, 1)
	require.Equal(t, uint(3), mine.Items[0].StudentID)
}
