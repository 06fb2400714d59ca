package domain

import (
	"fmt"
	"strings"
)

// ValidateQuestion rejects empty or whitespace-only questions.
func ValidateQuestion(q string) error {
	if strings.TrimSpace(q) == "" {
		return NewValidationError("question", q, ErrEmptyQuestion)
	}
	return nil
}

// ValidateEntry checks a corpus entry before ingestion.
func ValidateEntry(e CorpusEntry) error {
	if strings.TrimSpace(string(e.ID)) == "" {
		return NewValidationError("id", string(e.ID), ErrDataIntegrity)
	}
	for _, lang := range Languages {
		if strings.TrimSpace(e.Question.For(lang)) != "" {
			return nil
		}
	}
	return NewValidationError("question", fmt.Sprintf("entry %s", e.ID), ErrDataIntegrity)
}
