package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// SubmissionCreateRequest describes the multipart payload for a submission upload.
type SubmissionCreateRequest struct {
	ExerciseID uint `form:"exercise_id" validate:"required,gt=0"`
}

// SubmissionUpdateRequest is a professor override of grade, feedback or status.
type SubmissionUpdateRequest struct {
	Status   *string  `json:"status" validate:"omitempty,oneof=completed evaluated failed adjusted"`
	Grade    *float64 `json:"grade" validate:"omitempty,gte=0,lte=20"`
	Feedback *string  `json:"feedback" validate:"omitempty,max=20000"`
}

// SubmissionListQuery describes query string filters for listing submissions.
type SubmissionListQuery struct {
	Status      string `query:"status" validate:"omitempty,oneof=pending completed evaluated adjusted failed"`
	SubmittedAt string `query:"submitted_at" validate:"omitempty,datetime=2006-01-02"`
	Limit       int    `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset      int    `query:"offset" validate:"omitempty,min=0"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID          uint            `json:"id"`
	StudentID   uint            `json:"student_id"`
	ExerciseID  uint            `json:"exercise_id"`
	FileURL     string          `json:"file_url"`
	Status      string          `json:"status"`
	Grade       *float64        `json:"grade"`
	Feedback    string          `json:"feedback"`
	Details     json.RawMessage `json:"details,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SubmissionStatusResponse is the lightweight polling view of a submission.
type SubmissionStatusResponse struct {
	ID        uint      `json:"id"`
	Status    string    `json:"status"`
	Grade     *float64  `json:"grade"`
	Feedback  string    `json:"feedback"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubmissionListResponse is a page of submissions.
type SubmissionListResponse struct {
	Items  []SubmissionResponse `json:"items"`
	Total  int64                `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// SubmissionUpdateResponse reports the submission after an override and whether anything changed.
type SubmissionUpdateResponse struct {
	Submission SubmissionResponse `json:"submission"`
	Modified   bool               `json:"modified"`
}

// SubmissionStatsResponse aggregates grades for one exercise.
type SubmissionStatsResponse struct {
	ExerciseID      uint     `json:"exercise_id"`
	AverageGrade    *float64 `json:"average_grade"`
	SubmissionCount int64    `json:"submission_count"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	response := SubmissionResponse{
		ID:          model.ID,
		StudentID:   model.StudentID,
		ExerciseID:  model.ExerciseID,
		FileURL:     model.FileURL,
		Status:      models.NormalizeSubmissionStatus(model.Status),
		Grade:       model.Grade,
		Feedback:    model.Feedback,
		SubmittedAt: model.SubmittedAt,
		UpdatedAt:   model.UpdatedAt,
	}
	if len(model.Details) > 0 {
		response.Details = json.RawMessage(model.Details)
	}
	return response
}

// NewSubmissionResponseSlice converts submission models into DTOs.
func NewSubmissionResponseSlice(items []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(items))
	for _, submission := range items {
		responses = append(responses, NewSubmissionResponse(submission))
	}
	return responses
}

// NewSubmissionStatusResponse converts a Submission model into its polling view.
func NewSubmissionStatusResponse(model models.Submission) SubmissionStatusResponse {
	return SubmissionStatusResponse{
		ID:        model.ID,
		Status:    models.NormalizeSubmissionStatus(model.Status),
		Grade:     model.Grade,
		Feedback:  model.Feedback,
		UpdatedAt: model.UpdatedAt,
	}
}
