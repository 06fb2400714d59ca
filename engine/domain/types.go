// Package domain defines the data model shared by the QA engine, the corpus
// loader and the similarity index, plus the error taxonomy surfaced to the
// transport layer.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Language is the closed set of corpus language variants.
type Language string

const (
	English  Language = "english"
	Hinglish Language = "hinglish"
	Hindi    Language = "hindi"
)

// Languages lists every variant in indexing order.
var Languages = []Language{English, Hinglish, Hindi}

// ParseLanguage maps a stored language tag to a Language.
func ParseLanguage(tag string) (Language, bool) {
	switch Language(tag) {
	case English, Hinglish, Hindi:
		return Language(tag), true
	default:
		return "", false
	}
}

// Variants holds one text per language.
type Variants struct {
	English  string `json:"english"`
	Hinglish string `json:"hinglish"`
	Hindi    string `json:"hindi"`
}

// For returns the variant for lang.
func (v Variants) For(lang Language) string {
	switch lang {
	case English:
		return v.English
	case Hinglish:
		return v.Hinglish
	case Hindi:
		return v.Hindi
	default:
		return ""
	}
}

// EntryID is a corpus identifier. Corpus files carry it either as a JSON
// string or a JSON number; both decode to the same textual form.
type EntryID string

// UnmarshalJSON accepts a JSON string or number.
func (id *EntryID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = EntryID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("domain: entry id must be a string or number: %w", err)
	}
	*id = EntryID(n.String())
	return nil
}

// CorpusEntry is one pre-authored question/answer pair in three languages.
type CorpusEntry struct {
	ID       EntryID  `json:"id"`
	Question Variants `json:"question"`
	Answer   Variants `json:"answer"`
}

// Key returns the index key for one language variant of the entry.
func (e CorpusEntry) Key(lang Language) string {
	return string(e.ID) + "_" + string(lang)
}

// Metadata payload keys stored alongside each indexed question.
const (
	MetaAnswerEnglish  = "answer_english"
	MetaAnswerHinglish = "answer_hinglish"
	MetaAnswerHindi    = "answer_hindi"
	MetaLanguage       = "language"
)

// IndexedVector is a single (entry, language) question stored in the index.
type IndexedVector struct {
	Key      string
	Vector   []float32
	Document string
	Metadata map[string]string
}

// NewIndexedVector builds the vector record for the given language variant of e.
func NewIndexedVector(e CorpusEntry, lang Language, vector []float32) IndexedVector {
	return IndexedVector{
		Key:      e.Key(lang),
		Vector:   vector,
		Document: e.Question.For(lang),
		Metadata: map[string]string{
			MetaAnswerEnglish:  e.Answer.English,
			MetaAnswerHinglish: e.Answer.Hinglish,
			MetaAnswerHindi:    e.Answer.Hindi,
			MetaLanguage:       string(lang),
		},
	}
}

// Match is one nearest-neighbour hit. Distance is cosine distance
// (0 = identical).
type Match struct {
	Document string
	Distance float64
	Metadata map[string]string
}

// Language returns the language of the indexed question variant.
func (m Match) Language() (Language, bool) {
	return ParseLanguage(m.Metadata[MetaLanguage])
}

// Answer returns the stored answer variant for lang.
func (m Match) Answer(lang Language) string {
	switch lang {
	case English:
		return m.Metadata[MetaAnswerEnglish]
	case Hinglish:
		return m.Metadata[MetaAnswerHinglish]
	case Hindi:
		return m.Metadata[MetaAnswerHindi]
	default:
		return ""
	}
}

// Outcome records which terminal branch produced an answer.
type Outcome string

const (
	OutcomeGuardRefused  Outcome = "guard_refused"
	OutcomeNoResults     Outcome = "no_results"
	OutcomeMatched       Outcome = "matched"
	OutcomeDomainRefused Outcome = "domain_refused"
	OutcomeGenerated     Outcome = "generated"
)

// Answer is the result of one QA call.
type Answer struct {
	Text     string   `json:"text"`
	Score    float64  `json:"similarity_score"`
	Outcome  Outcome  `json:"outcome"`
	Language Language `json:"language,omitempty"`
}

// Refused reports whether the answer is a fixed refusal rather than content.
func (a Answer) Refused() bool {
	return a.Outcome == OutcomeGuardRefused || a.Outcome == OutcomeDomainRefused
}
