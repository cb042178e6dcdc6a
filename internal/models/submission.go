package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Submission is a student's encrypted answer file for one exercise plus its grading state.
type Submission struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	StudentID     uint           `gorm:"not null;index" json:"student_id"`
	ExerciseID    uint           `gorm:"not null;index" json:"exercise_id"`
	FileKey       string         `gorm:"size:512" json:"file_key"`
	FileURL       string         `gorm:"size:1024" json:"file_url"`
	EncryptionKey string         `gorm:"size:64;not null" json:"-"`
	EncryptionIV  string         `gorm:"size:32;not null" json:"-"`
	Grade         *float64       `json:"grade"`
	Feedback      string         `gorm:"type:text" json:"feedback"`
	Details       datatypes.JSON `json:"details"`
	Fingerprint   datatypes.JSON `json:"-"`
	Status        string         `gorm:"size:32;not null;index" json:"status"`
	SubmittedAt   time.Time      `gorm:"autoCreateTime;index" json:"submitted_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

const (
	// SubmissionStatusPending marks a submission waiting for or undergoing automated grading.
	SubmissionStatusPending = "pending"
	// SubmissionStatusCompleted marks a submission graded by the automated pipeline.
	SubmissionStatusCompleted = "completed"
	// SubmissionStatusEvaluated is the legacy spelling of SubmissionStatusCompleted.
	SubmissionStatusEvaluated = "evaluated"
	// SubmissionStatusFailed marks a submission whose automated grading failed.
	SubmissionStatusFailed = "failed"
	// SubmissionStatusAdjusted marks a submission whose grade or feedback a professor overrode.
	SubmissionStatusAdjusted = "adjusted"
)

// NormalizeSubmissionStatus lowercases a status and folds the legacy alias.
func NormalizeSubmissionStatus(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == SubmissionStatusEvaluated {
		return SubmissionStatusCompleted
	}
	return status
}

// IsTerminal reports whether automated grading has finished for the submission.
func (s Submission) IsTerminal() bool {
	switch NormalizeSubmissionStatus(s.Status) {
	case SubmissionStatusCompleted, SubmissionStatusFailed, SubmissionStatusAdjusted:
		return true
	default:
		return false
	}
}
