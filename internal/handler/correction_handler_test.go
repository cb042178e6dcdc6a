package handler_test

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/dto"
)

func (a *gradingApp) postCorrection(t *testing.T, who testPrincipal, files ...testFile) *http.Response {
	t.Helper()

	body, contentType := multipartBody(t, map[string]string{
		"exercise_id": strconv.FormatUint(uint64(a.exercise.ID), 10),
		"title":       "Reference answers",
		"config":      `{"language": "sql"}`,
	}, "files", files...)
	return a.do(t, &who, http.MethodPost, "/api/v1/corrections", body, contentType)
}

func TestCorrectionUploadFeedsGrading(t *testing.T) {
	a := setupGradingApp(t)

	resp := a.postCorrection(t, professor,
		testFile{name: "part1.pdf", content: []byte(pdfHeader + "1\nList every author\nSELECT name FROM authors;")},
		testFile{name: "part2.pdf", content: []byte(pdfHeader + "1\nCount the loans\nSELECT COUNT(*) FROM loans;")},
	)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created envelope[dto.CorrectionResponse]
	decodeResponse(t, resp, &created)
	require.Equal(t, 2, created.Data.QuestionCount)
	require.Len(t, created.Data.Files, 2)
	require.Equal(t, "sql", created.Data.Files[0].Config["language"])
	require.Contains(t, created.Data.CorrectionModel, "2. Count the loans")

	resp = a.do(t, &professor, http.MethodPost, idPath("/api/v1/corrections/%d/rebuild", created.Data.ID), nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var rebuilt envelope[dto.CorrectionResponse]
	decodeResponse(t, resp, &rebuilt)
	require.Equal(t, created.Data.CorrectionModel, rebuilt.Data.CorrectionModel)
}

func TestCorrectionUploadErrors(t *testing.T) {
	a := setupGradingApp(t)
	file := testFile{name: "part1.pdf", content: []byte(pdfHeader + "1\nQ\nSELECT 1;")}

	resp := a.postCorrection(t, studentAlice, file)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = a.postCorrection(t, professor)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = a.postCorrection(t, admin, testFile{name: "notes.txt", content: []byte("plain notes")})
	require.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)

	resp = a.do(t, &professor, http.MethodPost, "/api/v1/corrections/404/rebuild", nil, "")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Empty(t, a.blobs.objects)
}
