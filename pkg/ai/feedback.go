package ai

import (
	"encoding/json"
	"sort"
	"strings"
)

// Feedback is the canonical structured feedback a scorer may return.
type Feedback struct {
	Errors      string
	Impact      string
	Suggestions string
}

// feedbackAliases maps the key spellings observed in scorer output onto Feedback fields.
var feedbackAliases = map[string]string{
	"errors":          "errors",
	"error":           "errors",
	"erreurs":         "errors",
	"erreur":          "errors",
	"mistakes":        "errors",
	"issues":          "errors",
	"impact":          "impact",
	"impacts":         "impact",
	"consequences":    "impact",
	"conséquences":    "impact",
	"impact_erreurs":  "impact",
	"suggestions":     "suggestions",
	"suggestion":      "suggestions",
	"recommendations": "suggestions",
	"improvements":    "suggestions",
	"améliorations":   "suggestions",
	"ameliorations":   "suggestions",
	"conseils":        "suggestions",
}

// Empty reports whether no section carries text.
func (f Feedback) Empty() bool {
	return f.Errors == "" && f.Impact == "" && f.Suggestions == ""
}

// String renders the feedback as one text, one labelled line per section.
func (f Feedback) String() string {
	var lines []string
	if f.Errors != "" {
		lines = append(lines, "Errors: "+f.Errors)
	}
	if f.Impact != "" {
		lines = append(lines, "Impact: "+f.Impact)
	}
	if f.Suggestions != "" {
		lines = append(lines, "Suggestions: "+f.Suggestions)
	}
	return strings.Join(lines, "\n")
}

// feedbackFromObject maps an object-shaped feedback value through the alias table.
func feedbackFromObject(fields map[string]json.RawMessage) Feedback {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var feedback Feedback
	for _, key := range keys {
		raw := fields[key]
		canonical, ok := feedbackAliases[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}

		text := textValue(raw)
		if text == "" {
			continue
		}

		switch canonical {
		case "errors":
			feedback.Errors = appendSentence(feedback.Errors, text)
		case "impact":
			feedback.Impact = appendSentence(feedback.Impact, text)
		case "suggestions":
			feedback.Suggestions = appendSentence(feedback.Suggestions, text)
		}
	}
	return feedback
}

// textValue accepts a string or a list of strings.
func textValue(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if item = strings.TrimSpace(item); item != "" {
				parts = append(parts, item)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func appendSentence(existing, text string) string {
	if existing == "" {
		return text
	}
	return existing + "; " + text
}
