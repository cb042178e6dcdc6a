package storage

import "fmt"

// SubmissionKey names the encrypted answer file of one submission attempt.
func SubmissionKey(exerciseID, studentID uint, id string) string {
	return fmt.Sprintf("%s%d/%d/%s.pdf.enc", PrefixSubmissions, exerciseID, studentID, id)
}

// CorrectionKey names one reference file of an exercise correction.
func CorrectionKey(exerciseID uint, id string) string {
	return fmt.Sprintf("%s%d/%s.pdf", PrefixCorrections, exerciseID, id)
}
