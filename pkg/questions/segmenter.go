package questions

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoQuestionsFound signals that a document contained no numbered question blocks.
var ErrNoQuestionsFound = errors.New("no numbered questions found")

// DefaultDenylist holds closing-remark phrases that never belong to a question.
var DefaultDenylist = []string{"n'hésitez pas", "don't hesitate", "do not hesitate"}

var (
	bareOpener   = regexp.MustCompile(`^(\d+)\.?$`)
	inlineOpener = regexp.MustCompile(`^(\d+)\.\s+(.+)$`)
)

// Block is a numbered unit of text extracted from a document.
type Block struct {
	Number int
	Title  string
	Body   []string
}

// Answer returns the block content below its opener, or the inline title when
// the block has no body.
func (b Block) Answer() string {
	if len(b.Body) == 0 {
		return b.Title
	}
	return strings.Join(b.Body, "\n")
}

// Lines returns the title (when present) followed by the body lines.
func (b Block) Lines() []string {
	lines := make([]string, 0, len(b.Body)+1)
	if b.Title != "" {
		lines = append(lines, b.Title)
	}
	return append(lines, b.Body...)
}

// Text renders the block the way it appeared, number first.
func (b Block) Text() string {
	return strconv.Itoa(b.Number) + ". " + strings.Join(b.Lines(), "\n")
}

func (b Block) empty() bool {
	return strings.TrimSpace(b.Title) == "" && len(b.Body) == 0
}

// Segmenter splits plain text into ordered question blocks.
type Segmenter struct {
	denylist []string
}

// NewSegmenter builds a segmenter. A nil denylist selects DefaultDenylist.
func NewSegmenter(denylist []string) *Segmenter {
	if denylist == nil {
		denylist = DefaultDenylist
	}

	normalized := make([]string, 0, len(denylist))
	for _, phrase := range denylist {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase != "" {
			normalized = append(normalized, phrase)
		}
	}
	return &Segmenter{denylist: normalized}
}

// Segment scans text line by line. A line holding only a number (optionally
// followed by a period) or a "n. text" line opens a block; following non-empty
// lines join the open block until the next opener or a blank line.
func (s *Segmenter) Segment(text string) []Block {
	return s.segment(text, parseOpener)
}

// SegmentReference segments a professor's correction file. Only a bare number
// line opens a block there, so numbered lines inside a reference answer stay in
// its body.
func (s *Segmenter) SegmentReference(text string) []Block {
	return s.segment(text, parseBareOpener)
}

func (s *Segmenter) segment(text string, opener func(string) (int, string, bool)) []Block {
	var (
		blocks     []Block
		current    *Block
		collecting bool
	)

	flush := func() {
		if current == nil {
			return
		}
		if !current.empty() && !s.denied(*current) {
			blocks = append(blocks, *current)
		}
		current = nil
	}

	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)

		if number, title, ok := opener(line); ok {
			flush()
			current = &Block{Number: number, Title: title}
			collecting = true
			continue
		}

		if line == "" {
			collecting = false
			continue
		}

		if current != nil && collecting {
			current.Body = append(current.Body, line)
		}
	}
	flush()

	return blocks
}

func (s *Segmenter) denied(block Block) bool {
	content := strings.ToLower(strings.Join(block.Lines(), "\n"))
	for _, phrase := range s.denylist {
		if strings.Contains(content, phrase) {
			return true
		}
	}
	return false
}

func parseBareOpener(line string) (int, string, bool) {
	if match := bareOpener.FindStringSubmatch(line); match != nil {
		number, err := strconv.Atoi(match[1])
		return number, "", err == nil
	}
	return 0, "", false
}

func parseOpener(line string) (int, string, bool) {
	if number, title, ok := parseBareOpener(line); ok {
		return number, title, true
	}
	if match := inlineOpener.FindStringSubmatch(line); match != nil {
		number, err := strconv.Atoi(match[1])
		return number, strings.TrimSpace(match[2]), err == nil
	}
	return 0, "", false
}
