package questions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// TextExtractor turns a document into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Entry is one question of a correction model with its reference answer.
type Entry struct {
	Question string
	Answer   string
}

// Builder derives a correction model from reference correction files.
type Builder struct {
	extractor TextExtractor
	segmenter *Segmenter
	detector  AnswerDetector
}

// NewBuilder wires a builder. A nil detector selects AutoDetector.
func NewBuilder(extractor TextExtractor, segmenter *Segmenter, detector AnswerDetector) *Builder {
	if detector == nil {
		detector = AutoDetector{}
	}
	return &Builder{extractor: extractor, segmenter: segmenter, detector: detector}
}

// Build extracts every file, splits each block into question and answer and
// returns the deduplicated, renumbered model text. Files are processed in
// order and the first occurrence of a question wins.
func (b *Builder) Build(ctx context.Context, files [][]byte) (string, error) {
	entries, err := b.Entries(ctx, files)
	if err != nil {
		return "", err
	}
	return Render(entries), nil
}

// Entries returns the deduplicated question/answer pairs found in files.
func (b *Builder) Entries(ctx context.Context, files [][]byte) ([]Entry, error) {
	seen := make(map[string]struct{})
	var entries []Entry

	for i, file := range files {
		text, err := b.extractor.Extract(ctx, file)
		if err != nil {
			return nil, fmt.Errorf("extract correction file %d: %w", i+1, err)
		}

		for _, block := range b.segmenter.SegmentReference(text) {
			question, answer := b.detector.Split(block.Lines())
			if question == "" || answer == "" {
				continue
			}

			key := normalize(question)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			entries = append(entries, Entry{Question: question, Answer: answer})
		}
	}

	return entries, nil
}

// Render emits "n. question\nanswer" for every entry, renumbered from 1.
func Render(entries []Entry) string {
	parts := make([]string, 0, len(entries))
	for i, entry := range entries {
		parts = append(parts, strconv.Itoa(i+1)+". "+entry.Question+"\n"+entry.Answer)
	}
	return strings.Join(parts, "\n")
}

// ParseModel reads a rendered correction model back into entries.
func ParseModel(segmenter *Segmenter, model string) []Entry {
	blocks := segmenter.Segment(model)
	entries := make([]Entry, 0, len(blocks))
	for _, block := range blocks {
		entries = append(entries, Entry{Question: block.Title, Answer: strings.Join(block.Body, "\n")})
	}
	return entries
}

func normalize(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}
