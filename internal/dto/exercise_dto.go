package dto

import "github.com/noah-isme/gema-grading-api/internal/models"

// ExerciseResponse exposes an exercise with its resolved content.
type ExerciseResponse struct {
	ID          uint                   `json:"id"`
	ProfessorID uint                   `json:"professor_id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Content     models.ExerciseContent `json:"content"`
}

// NewExerciseResponse converts an Exercise model into a DTO.
func NewExerciseResponse(model models.Exercise) ExerciseResponse {
	return ExerciseResponse{
		ID:          model.ID,
		ProfessorID: model.ProfessorID,
		Title:       model.Title,
		Description: model.Description,
		Content:     model.ResolveContent(),
	}
}
