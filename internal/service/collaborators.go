package service

import (
	"context"

	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/filecrypt"
	"github.com/noah-isme/gema-grading-api/pkg/storage"
)

// BlobStore is the object storage used for submission and correction files.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (storage.Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// FileCipher encrypts files at rest and decrypts them on demand.
type FileCipher interface {
	EncryptFile(path string) (filecrypt.Sealed, error)
	Decrypt(ciphertext []byte, keyHex, ivHex string) ([]byte, error)
}

// TextExtractor converts document bytes to plain text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// QuestionGrader scores question pairs and aggregates the result.
type QuestionGrader interface {
	GradeQuestions(ctx context.Context, pairs []ai.QuestionPair) ai.GradingResult
}

// GradingScheduler accepts submissions for asynchronous grading.
type GradingScheduler interface {
	Enqueue(submissionID uint) bool
	Scheduled(submissionID uint) bool
}
