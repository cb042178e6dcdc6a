package questions

import (
	"fmt"
	"regexp"
	"strings"
)

// Detector names accepted by NewDetector.
const (
	DetectorAuto   = "auto"
	DetectorMarker = "marker"
	DetectorSQL    = "sql"
)

// AnswerDetector splits the lines of one question block into the question
// wording and the reference answer.
type AnswerDetector interface {
	Split(lines []string) (question string, answer string)
}

// NewDetector resolves a detector by name.
func NewDetector(name string) (AnswerDetector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DetectorAuto:
		return AutoDetector{}, nil
	case DetectorMarker:
		return MarkerDetector{}, nil
	case DetectorSQL:
		return SQLDetector{}, nil
	default:
		return nil, fmt.Errorf("unknown answer detector %q", name)
	}
}

var answerMarker = regexp.MustCompile(`(?i)^(answer|réponse|reponse|correction|solution)\s*:\s*(.*)$`)

// MarkerDetector treats everything after an explicit "Answer:" line as the
// reference answer. Without a marker the block has no answer.
type MarkerDetector struct{}

func (MarkerDetector) Split(lines []string) (string, string) {
	for i, line := range lines {
		match := answerMarker.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			continue
		}

		answer := make([]string, 0, len(lines)-i)
		if rest := strings.TrimSpace(match[2]); rest != "" {
			answer = append(answer, rest)
		}
		for _, tail := range lines[i+1:] {
			if tail = strings.TrimSpace(tail); tail != "" {
				answer = append(answer, tail)
			}
		}
		return joinWords(lines[:i]), strings.Join(answer, "\n")
	}
	return joinWords(lines), ""
}

var sqlKeyword = regexp.MustCompile(`(?i)\b(SELECT|FROM|WHERE|JOIN|GROUP)\b`)

// SQLDetector routes lines containing SQL keywords to the answer and the rest
// to the question.
type SQLDetector struct{}

func (SQLDetector) Split(lines []string) (string, string) {
	var question, answer []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if sqlKeyword.MatchString(line) {
			answer = append(answer, line)
			continue
		}
		question = append(question, line)
	}
	return strings.Join(question, " "), strings.Join(answer, "\n")
}

// AutoDetector prefers an explicit answer marker and falls back to the SQL heuristic.
type AutoDetector struct{}

func (AutoDetector) Split(lines []string) (string, string) {
	for _, line := range lines {
		if answerMarker.MatchString(strings.TrimSpace(line)) {
			return MarkerDetector{}.Split(lines)
		}
	}
	return SQLDetector{}.Split(lines)
}

func joinWords(lines []string) string {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
