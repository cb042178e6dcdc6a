package models

import (
	"time"

	"gorm.io/datatypes"
)

// Correction groups a professor's reference files for one exercise together
// with the derived correction model.
type Correction struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	ExerciseID      uint             `gorm:"not null;index" json:"exercise_id"`
	Title           string           `gorm:"size:255" json:"title"`
	Description     string           `gorm:"type:text" json:"description"`
	CorrectionModel string           `gorm:"type:text" json:"correction_model"`
	ModelBuiltAt    *time.Time       `json:"model_built_at"`
	Files           []CorrectionFile `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"files"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// CorrectionFile is one uploaded reference file of a Correction.
type CorrectionFile struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	CorrectionID uint              `gorm:"not null;index" json:"correction_id"`
	FileKey      string            `gorm:"size:512;not null" json:"file_key"`
	FileURL      string            `gorm:"size:1024" json:"file_url"`
	ScoringModel string            `gorm:"size:128" json:"scoring_model,omitempty"`
	Config       datatypes.JSONMap `json:"config,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}
