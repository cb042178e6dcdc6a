package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultFeedback replaces feedback the scorer omitted or returned in an unusable shape.
const DefaultFeedback = "No detailed evaluation provided by the automated grader."

var (
	salvageGrade    = regexp.MustCompile(`"grade"\s*:\s*"?(-?\d+(?:\.\d+)?)`)
	salvageFeedback = regexp.MustCompile(`"feedback"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// ParseNotes records which defaults ParseResponse had to apply.
type ParseNotes struct {
	Salvaged          bool
	GradeDefaulted    bool
	FeedbackDefaulted bool
	Clamped           bool
}

// ParseResponse turns raw scorer output into a bounded result. It tries a
// JSON decode first and a regex salvage second; the salvaged grade is rounded
// to the nearest 0.5. The returned grade is always within [0, MaxGrade] and the
// feedback is never empty.
func ParseResponse(raw string) (QuestionResult, ParseNotes, error) {
	var notes ParseNotes

	grade, feedback, ok := decodeJSON(raw)
	if !ok {
		var salvaged bool
		grade, feedback, salvaged = salvage(raw)
		if !salvaged {
			return QuestionResult{}, notes, fmt.Errorf("%w: %q", ErrInvalidResponse, truncate(raw, 120))
		}
		notes.Salvaged = true
	}

	result := QuestionResult{Feedback: strings.TrimSpace(feedback)}

	switch {
	case grade == nil || math.IsNaN(*grade) || math.IsInf(*grade, 0):
		notes.GradeDefaulted = true
	default:
		result.Grade = *grade
		if clamped := ClampGrade(*grade); clamped != *grade {
			notes.Clamped = true
			result.Grade = clamped
		}
	}

	if result.Feedback == "" {
		notes.FeedbackDefaulted = true
		result.Feedback = DefaultFeedback
	}

	return result, notes, nil
}

// ClampGrade forces a grade into [0, MaxGrade].
func ClampGrade(grade float64) float64 {
	return math.Min(math.Max(grade, 0), MaxGrade)
}

func decodeJSON(raw string) (*float64, string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, "", false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw[start:end+1]), &fields); err != nil {
		return nil, "", false
	}

	return gradeValue(fields["grade"]), feedbackValue(fields["feedback"]), true
}

func gradeValue(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return &number
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return &parsed
		}
	}
	return nil
}

func feedbackValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err == nil {
		return feedbackFromObject(fields).String()
	}
	return ""
}

func salvage(raw string) (*float64, string, bool) {
	gradeMatch := salvageGrade.FindStringSubmatch(raw)
	feedbackMatch := salvageFeedback.FindStringSubmatch(raw)
	if gradeMatch == nil || feedbackMatch == nil {
		return nil, "", false
	}

	grade, err := strconv.ParseFloat(gradeMatch[1], 64)
	if err != nil {
		grade = 0
	}
	grade = math.Round(grade*2) / 2

	feedback, err := strconv.Unquote(`"` + feedbackMatch[1] + `"`)
	if err != nil {
		feedback = feedbackMatch[1]
	}
	return &grade, feedback, true
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
