package qa

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// folioKeywords are matched case-insensitively as substrings.
var folioKeywords = []string{"folio", "folio number", "फोलियो", "फोलियो नंबर"}

// digitRun matches maximal runs of decimal digits in any script, so
// Devanagari numerals count the same as ASCII ones.
var digitRun = regexp.MustCompile(`\p{Nd}+`)

// maxSafeDigits is the longest digit run allowed next to a folio keyword.
const maxSafeDigits = 7

// containsFolioNumber reports whether question mentions a folio together with
// a digit run long enough to be an account identifier.
func containsFolioNumber(question string) bool {
	if !mentionsFolio(question) {
		return false
	}
	for _, run := range digitRun.FindAllString(question, -1) {
		if utf8.RuneCountInString(run) > maxSafeDigits {
			return true
		}
	}
	return false
}

func mentionsFolio(question string) bool {
	lower := strings.ToLower(question)
	for _, kw := range folioKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
