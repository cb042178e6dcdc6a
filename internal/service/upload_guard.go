package service

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxUploadBytes caps uploaded PDFs at 10 MiB.
const DefaultMaxUploadBytes = 10 << 20

var (
	// ErrFileRequired indicates no file was attached.
	ErrFileRequired = errors.New("file is required")
	// ErrFileTooLarge indicates the upload exceeds the configured limit.
	ErrFileTooLarge = errors.New("file exceeds the maximum upload size")
	// ErrUnsupportedFileType indicates the upload is not a PDF.
	ErrUnsupportedFileType = errors.New("only PDF files are accepted")
)

// UploadGuard reads multipart uploads into memory after checking size and type.
type UploadGuard struct {
	maxBytes int64
}

// NewUploadGuard builds a guard. Non-positive limits select DefaultMaxUploadBytes.
func NewUploadGuard(maxBytes int64) UploadGuard {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return UploadGuard{maxBytes: maxBytes}
}

// Read returns the file content when it is a PDF within the size limit.
// Rejections wrap ErrValidation.
func (g UploadGuard) Read(file *multipart.FileHeader) ([]byte, error) {
	if file == nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrFileRequired)
	}
	if file.Size > g.maxBytes {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrFileTooLarge)
	}

	reader, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, g.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(data)) > g.maxBytes {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrFileTooLarge)
	}

	if detected := mimetype.Detect(data); !detected.Is("application/pdf") {
		return nil, fmt.Errorf("%w: %w (got %s)", ErrValidation, ErrUnsupportedFileType, detected.String())
	}

	return data, nil
}
