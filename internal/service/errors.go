package service

import (
	"errors"
	"strings"
)

var (
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrExerciseNotFound indicates the exercise could not be found.
	ErrExerciseNotFound = errors.New("exercise not found")
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrCorrectionNotFound indicates a correction could not be found.
	ErrCorrectionNotFound = errors.New("correction not found")
	// ErrCorrectionModelMissing indicates no correction model has been built for the exercise.
	ErrCorrectionModelMissing = errors.New("no correction model available for this exercise")
	// ErrForbidden indicates the caller's role or ownership does not allow the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrPlagiarismDetected indicates the upload is too similar to another student's submission.
	ErrPlagiarismDetected = errors.New("submission rejected: too similar to an existing submission")
	// ErrQuestionCountMismatch indicates student and reference question counts differ under the strict policy.
	ErrQuestionCountMismatch = errors.New("question count does not match the correction model")
	// ErrRegradeNotAllowed indicates the submission is not in a state that can be re-graded.
	ErrRegradeNotAllowed = errors.New("submission cannot be re-graded in its current state")
)

// Roles understood by the pipeline.
const (
	RoleStudent   = "student"
	RoleProfessor = "professor"
	RoleAdmin     = "admin"
)

// Principal is the authenticated caller as supplied by the auth layer.
type Principal struct {
	ID   uint
	Role string
}

func (p Principal) role() string {
	return strings.ToLower(strings.TrimSpace(p.Role))
}

// IsStudent reports whether the caller acts as a student.
func (p Principal) IsStudent() bool {
	return p.role() == RoleStudent
}

// IsStaff reports whether the caller may review and override grading.
func (p Principal) IsStaff() bool {
	role := p.role()
	return role == RoleProfessor || role == RoleAdmin
}

// IsAdmin reports whether the caller may perform administrative cleanup.
func (p Principal) IsAdmin() bool {
	return p.role() == RoleAdmin
}
