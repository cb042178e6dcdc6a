package models

import (
	"strings"
	"time"
)

// Exercise is a professor-owned assignment students submit answers to.
type Exercise struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ProfessorID uint      `gorm:"not null;index" json:"professor_id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Content     string    `gorm:"type:text" json:"-"`
	ContentKey  string    `gorm:"size:512" json:"-"`
	ContentURL  string    `gorm:"size:1024" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExerciseContent is the resolved prompt of an exercise: inline text or a downloadable file.
type ExerciseContent struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	Key  string `json:"key,omitempty"`
	URL  string `json:"url,omitempty"`
}

const (
	// ExerciseContentText marks inline textual content.
	ExerciseContentText = "text"
	// ExerciseContentFile marks content stored as an uploaded file.
	ExerciseContentFile = "file"
	// ExerciseContentNone marks an exercise without content.
	ExerciseContentNone = "none"
)

// ResolveContent returns the exercise prompt in whichever shape it was stored.
// An uploaded file takes precedence over inline text.
func (e Exercise) ResolveContent() ExerciseContent {
	if e.ContentKey != "" || e.ContentURL != "" {
		return ExerciseContent{Kind: ExerciseContentFile, Key: e.ContentKey, URL: e.ContentURL}
	}
	if text := strings.TrimSpace(e.Content); text != "" {
		return ExerciseContent{Kind: ExerciseContentText, Text: text}
	}
	return ExerciseContent{Kind: ExerciseContentNone}
}
