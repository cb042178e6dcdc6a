package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrEmptyDocument indicates the PDF has no extractable text layer.
	ErrEmptyDocument = errors.New("no extractable text in document")
	// ErrUnreadableDocument indicates the bytes could not be parsed as a PDF.
	ErrUnreadableDocument = errors.New("unreadable pdf document")
)

// Extractor converts PDF bytes into plain text, one output line per text row.
type Extractor struct{}

// New returns a PDF text extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the concatenated text of every page, top to bottom.
func (e *Extractor) Extract(ctx context.Context, data []byte) (text string, err error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", ErrEmptyDocument
	}

	// the pdf package panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrUnreadableDocument, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}

	var builder strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrUnreadableDocument, i, err)
		}

		for _, row := range rows {
			var line strings.Builder
			for _, word := range row.Content {
				line.WriteString(word.S)
			}
			builder.WriteString(strings.TrimRight(line.String(), " "))
			builder.WriteByte('\n')
		}
	}

	text = strings.TrimSpace(builder.String())
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}
