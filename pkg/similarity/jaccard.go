package similarity

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultThreshold is the Jaccard similarity above which a submission is flagged.
const DefaultThreshold = 0.8

// Fingerprint is the sorted, deduplicated set of token hashes of a text. It is
// persisted with a submission so later screening never needs to decrypt prior files.
type Fingerprint []uint64

// Tokenize splits text on whitespace and lowercases every token.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// FingerprintOf hashes the token set of text.
func FingerprintOf(text string) Fingerprint {
	set := make(map[uint64]struct{})
	for _, token := range Tokenize(text) {
		set[xxhash.Sum64String(token)] = struct{}{}
	}

	fp := make(Fingerprint, 0, len(set))
	for hash := range set {
		fp = append(fp, hash)
	}
	sort.Slice(fp, func(i, j int) bool { return fp[i] < fp[j] })
	return fp
}

// Jaccard returns |a ∩ b| / |a ∪ b| over the token sets of two texts.
func Jaccard(a, b string) float64 {
	return FingerprintOf(a).Jaccard(FingerprintOf(b))
}

// Jaccard compares two fingerprints. Two empty sets have similarity 0.
func (f Fingerprint) Jaccard(other Fingerprint) float64 {
	if len(f) == 0 && len(other) == 0 {
		return 0
	}

	var i, j, shared int
	for i < len(f) && j < len(other) {
		switch {
		case f[i] == other[j]:
			shared++
			i++
			j++
		case f[i] < other[j]:
			i++
		default:
			j++
		}
	}

	union := len(f) + len(other) - shared
	return float64(shared) / float64(union)
}

// Screener flags candidates whose similarity to any prior text exceeds a threshold.
type Screener struct {
	threshold float64
}

// NewScreener builds a screener. Non-positive thresholds select DefaultThreshold.
func NewScreener(threshold float64) *Screener {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Screener{threshold: threshold}
}

// Threshold reports the configured cut-off.
func (s *Screener) Threshold() float64 {
	return s.threshold
}

// IsPlagiarized reports whether candidate is too similar to one of priors.
func (s *Screener) IsPlagiarized(candidate string, priors []string) bool {
	fingerprints := make([]Fingerprint, 0, len(priors))
	for _, prior := range priors {
		fingerprints = append(fingerprints, FingerprintOf(prior))
	}
	flagged, _ := s.Check(FingerprintOf(candidate), fingerprints)
	return flagged
}

// Check compares a candidate fingerprint against prior fingerprints and returns
// whether it is flagged together with the highest similarity seen.
func (s *Screener) Check(candidate Fingerprint, priors []Fingerprint) (bool, float64) {
	highest := MaxSimilarity(candidate, priors)
	return highest > s.threshold, highest
}

// MaxSimilarity returns the highest Jaccard similarity between candidate and priors.
func MaxSimilarity(candidate Fingerprint, priors []Fingerprint) float64 {
	var highest float64
	for _, prior := range priors {
		if score := candidate.Jaccard(prior); score > highest {
			highest = score
		}
	}
	return highest
}
