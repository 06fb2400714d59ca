// Package corpus reads the question/answer corpus and populates the
// similarity index from it, once.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/WessleyAI/finqa/engine/domain"
)

// ReadFile parses the JSON corpus at path.
func ReadFile(path string) ([]domain.CorpusEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: open %s: %w", path, err)
	}
	defer f.Close()
	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("corpus: %s: %w", path, err)
	}
	return entries, nil
}

// Parse decodes a JSON array of corpus entries.
func Parse(r io.Reader) ([]domain.CorpusEntry, error) {
	var entries []domain.CorpusEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return entries, nil
}

// Hash returns the SHA-256 of the corpus in its canonical JSON encoding.
// Entry order is significant.
func Hash(entries []domain.CorpusEntry) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, e := range entries {
		// CorpusEntry holds only strings; encoding cannot fail.
		_ = enc.Encode(e)
	}
	return hex.EncodeToString(h.Sum(nil))
}
