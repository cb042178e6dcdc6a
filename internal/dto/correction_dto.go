package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// CorrectionCreateRequest describes the multipart payload for uploading reference corrections.
type CorrectionCreateRequest struct {
	ExerciseID   uint   `form:"exercise_id" validate:"required,gt=0"`
	Title        string `form:"title" validate:"required,max=255"`
	Description  string `form:"description" validate:"omitempty,max=5000"`
	ScoringModel string `form:"scoring_model" validate:"omitempty,max=128"`
	Config       string `form:"config" validate:"omitempty,json"`
}

// CorrectionFileResponse describes one reference file.
type CorrectionFileResponse struct {
	ID           uint                   `json:"id"`
	FileURL      string                 `json:"file_url"`
	ScoringModel string                 `json:"scoring_model,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`
}

// CorrectionResponse is returned after creating or rebuilding a correction.
type CorrectionResponse struct {
	ID              uint                     `json:"id"`
	ExerciseID      uint                     `json:"exercise_id"`
	Title           string                   `json:"title"`
	Description     string                   `json:"description"`
	CorrectionModel string                   `json:"correction_model"`
	QuestionCount   int                      `json:"question_count"`
	ModelBuiltAt    *time.Time               `json:"model_built_at"`
	Files           []CorrectionFileResponse `json:"files"`
}

// NewCorrectionResponse converts a Correction model into a DTO.
func NewCorrectionResponse(model models.Correction, questionCount int) CorrectionResponse {
	files := make([]CorrectionFileResponse, 0, len(model.Files))
	for _, file := range model.Files {
		files = append(files, CorrectionFileResponse{
			ID:           file.ID,
			FileURL:      file.FileURL,
			ScoringModel: file.ScoringModel,
			Config:       file.Config,
		})
	}

	return CorrectionResponse{
		ID:              model.ID,
		ExerciseID:      model.ExerciseID,
		Title:           model.Title,
		Description:     model.Description,
		CorrectionModel: model.CorrectionModel,
		QuestionCount:   questionCount,
		ModelBuiltAt:    model.ModelBuiltAt,
		Files:           files,
	}
}
