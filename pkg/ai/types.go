package ai

import (
	"context"
	"errors"
)

var (
	// ErrInvalidResponse indicates neither JSON parsing nor salvage could read the scorer output.
	ErrInvalidResponse = errors.New("invalid scorer response")
	// ErrIncompleteResponse indicates the scorer reported an unfinished generation.
	ErrIncompleteResponse = errors.New("incomplete scorer response")
	// ErrScorerTimeout indicates the scorer did not answer within the configured timeout.
	ErrScorerTimeout = errors.New("scorer timeout")
	// ErrScorerUnavailable indicates the scorer endpoint could not be reached or refused the request.
	ErrScorerUnavailable = errors.New("scorer unavailable")
)

// StatusUngraded marks a question that was reported but excluded from the overall grade.
const StatusUngraded = "ungraded"

// MaxGrade is the upper bound of the grading scale.
const MaxGrade = 20.0

// Scorer sends a grading prompt to a language model and returns its raw answer.
type Scorer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// QuestionPair is one student answer matched with its reference answer.
type QuestionPair struct {
	Index           int
	Question        string
	StudentAnswer   string
	ReferenceAnswer string
	// Ungraded pairs are listed in the result without calling the scorer.
	Ungraded bool
}

// QuestionResult is the bounded outcome of scoring one question.
type QuestionResult struct {
	Grade    float64 `json:"grade"`
	Feedback string  `json:"feedback"`
	Status   string  `json:"status,omitempty"`
}

// GradingResult aggregates the per-question results of one submission. Error is
// set instead of Questions when grading infrastructure failed.
type GradingResult struct {
	OverallGrade float64                   `json:"overallGrade"`
	Questions    map[string]QuestionResult `json:"detailedResults,omitempty"`
	Error        string                    `json:"error,omitempty"`
}

// Failed reports whether the result carries an infrastructure failure.
func (r GradingResult) Failed() bool {
	return r.Error != ""
}
