package ai

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// NoAnswerFeedback is returned for questions the student left blank.
	NoAnswerFeedback = "No answer provided for this question."
	// UnreadableFeedback is returned when the scorer output could not be parsed.
	UnreadableFeedback = "The automated grader returned an unreadable evaluation for this question; it was scored 0."
	// UngradedFeedback is returned for questions without a reference answer.
	UngradedFeedback = "No reference answer is available for this question; it was not graded."
)

var (
	scoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "score_duration_seconds",
		Help:      "Duration of scorer requests per question",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"model"})

	scoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "score_failures_total",
		Help:      "Number of scorer failures by reason",
	}, []string{"model", "reason"})
)

const systemPrompt = "You are an automated grader for database and programming exercises. " +
	"Always answer with a single JSON object containing \"grade\" and \"feedback\"."

// Orchestrator scores question pairs through a Scorer and aggregates the results.
type Orchestrator struct {
	scorer   Scorer
	tracer   trace.Tracer
	logger   zerolog.Logger
	sanitize *bluemonday.Policy
}

// NewOrchestrator wires an orchestrator around scorer.
func NewOrchestrator(scorer Scorer, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		scorer:   scorer,
		tracer:   otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/ai"),
		logger:   logger.With().Str("component", "grading_orchestrator").Logger(),
		sanitize: bluemonday.StrictPolicy(),
	}
}

// Score grades one pair. Unparseable scorer output is downgraded to a zero
// grade with an explanation; only infrastructure failures are returned as errors.
func (o *Orchestrator) Score(parent context.Context, pair QuestionPair) (QuestionResult, error) {
	if pair.Ungraded {
		return QuestionResult{Grade: 0, Feedback: UngradedFeedback, Status: StatusUngraded}, nil
	}
	if strings.TrimSpace(pair.StudentAnswer) == "" {
		return QuestionResult{Grade: 0, Feedback: NoAnswerFeedback}, nil
	}

	model := o.scorer.Model()
	ctx, span := o.tracer.Start(parent, "ai.score", trace.WithAttributes(
		attribute.String("model", model),
		attribute.Int("question", pair.Index),
	))
	defer span.End()

	start := time.Now()
	raw, err := o.scorer.Complete(ctx, BuildPrompt(pair))
	scoreDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	if err != nil {
		scoreFailures.WithLabelValues(model, failureReason(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrInvalidResponse) {
			return o.unreadable(pair, err), nil
		}
		return QuestionResult{}, err
	}

	result, notes, err := ParseResponse(raw)
	if err != nil {
		scoreFailures.WithLabelValues(model, "invalid_response").Inc()
		span.RecordError(err)
		return o.unreadable(pair, err), nil
	}

	event := o.logger.Debug()
	if notes.GradeDefaulted || notes.FeedbackDefaulted || notes.Clamped {
		event = o.logger.Warn()
	}
	event.
		Int("question", pair.Index).
		Bool("salvaged", notes.Salvaged).
		Bool("grade_defaulted", notes.GradeDefaulted).
		Bool("feedback_defaulted", notes.FeedbackDefaulted).
		Bool("clamped", notes.Clamped).
		Float64("grade", result.Grade).
		Msg("scored question")

	result.Feedback = o.clean(result.Feedback)
	if result.Feedback == "" {
		result.Feedback = DefaultFeedback
	}
	span.SetAttributes(attribute.Float64("grade", result.Grade))
	return result, nil
}

// GradeQuestions scores every pair in order. A failure scoring one question
// never affects the others unless it is an infrastructure failure, in which
// case the whole result degrades to grade 0 with a user-facing explanation.
func (o *Orchestrator) GradeQuestions(ctx context.Context, pairs []QuestionPair) GradingResult {
	results := make(map[string]QuestionResult, len(pairs))
	var (
		total  float64
		scored int
	)

	for _, pair := range pairs {
		result, err := o.Score(ctx, pair)
		if err != nil {
			o.logger.Error().Err(err).Int("question", pair.Index).Msg("grading aborted by scorer failure")
			return GradingResult{OverallGrade: 0, Error: UserMessage(err)}
		}

		results[QuestionKey(pair.Index)] = result
		if result.Status == StatusUngraded {
			continue
		}
		total += result.Grade
		scored++
	}

	overall := 0.0
	if scored > 0 {
		overall = RoundGrade(total / float64(scored))
	}
	return GradingResult{OverallGrade: overall, Questions: results}
}

// QuestionKey names a question in a GradingResult.
func QuestionKey(index int) string {
	return fmt.Sprintf("question%d", index)
}

// RoundGrade rounds to two decimals.
func RoundGrade(value float64) float64 {
	return math.Round(value*100) / 100
}

// UserMessage turns a scorer failure into text suitable for students and professors.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrScorerTimeout):
		return "Automatic grading took too long and was stopped (scorer timeout). Please resubmit or ask your professor to use a faster model."
	case errors.Is(err, ErrScorerUnavailable):
		return "The automatic grading service is unreachable. Please try again later or contact an administrator."
	case errors.Is(err, ErrIncompleteResponse):
		return "The automatic grading service returned an incomplete evaluation. Please try again later or contact an administrator."
	default:
		return fmt.Sprintf("Automatic grading failed: %v. Please try again or contact an administrator.", err)
	}
}

// BuildPrompt renders the grading instructions for one pair.
func BuildPrompt(pair QuestionPair) string {
	var builder strings.Builder
	builder.WriteString("Grade the student's answer against the reference correction and return a JSON object with:\n")
	builder.WriteString("- \"grade\": an integer between 0 and 20 (never above 20). Any error must bring the grade below 20.\n")
	builder.WriteString("- \"feedback\": a text explaining the grade: the specific errors (for example a missing WHERE clause), ")
	builder.WriteString("the impact of those errors and precise suggestions.\n\n")
	if pair.Question != "" {
		builder.WriteString("Question: ")
		builder.WriteString(pair.Question)
		builder.WriteString("\n\n")
	}
	builder.WriteString("Student answer:\n")
	builder.WriteString(pair.StudentAnswer)
	builder.WriteString("\n\nReference correction:\n")
	builder.WriteString(pair.ReferenceAnswer)
	builder.WriteString("\n\nExample:\n{\"grade\": 15, \"feedback\": \"The query is missing a WHERE clause, so it returns every book. Add WHERE author = 'Name'.\"}\n")
	builder.WriteString("Return JSON.")
	return builder.String()
}

func (o *Orchestrator) unreadable(pair QuestionPair, err error) QuestionResult {
	o.logger.Warn().Err(err).Int("question", pair.Index).Msg("unreadable scorer response, scoring 0")
	return QuestionResult{Grade: 0, Feedback: UnreadableFeedback}
}

func (o *Orchestrator) clean(feedback string) string {
	return strings.TrimSpace(html.UnescapeString(o.sanitize.Sanitize(feedback)))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrScorerTimeout):
		return "timeout"
	case errors.Is(err, ErrScorerUnavailable):
		return "unavailable"
	case errors.Is(err, ErrIncompleteResponse):
		return "incomplete"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid_response"
	default:
		return "other"
	}
}
