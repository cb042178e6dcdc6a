package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// SubmissionEvent announces a submission status change.
type SubmissionEvent struct {
	SubmissionID uint      `json:"submission_id"`
	ExerciseID   uint      `json:"exercise_id"`
	StudentID    uint      `json:"student_id"`
	Status       string    `json:"status"`
	Grade        *float64  `json:"grade,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// EventPublisher broadcasts submission events. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event SubmissionEvent)
}

type natsEventPublisher struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

// NewNATSEventPublisher publishes events on "<prefix>.<status>". A nil connection disables publishing.
func NewNATSEventPublisher(conn *nats.Conn, prefix string, logger zerolog.Logger) EventPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "grader.submissions"
	}
	return &natsEventPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger.With().Str("component", "submission_events").Logger(),
	}
}

// Subject returns the subject an event with status is published on.
func (p *natsEventPublisher) Subject(status string) string {
	return p.prefix + "." + strings.ToLower(status)
}

func (p *natsEventPublisher) Publish(_ context.Context, event SubmissionEvent) {
	if p.conn == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Uint("submission_id", event.SubmissionID).Msg("failed to encode submission event")
		return
	}

	if err := p.conn.Publish(p.Subject(event.Status), payload); err != nil {
		p.logger.Warn().Err(err).Uint("submission_id", event.SubmissionID).Msg("failed to publish submission event")
	}
}
