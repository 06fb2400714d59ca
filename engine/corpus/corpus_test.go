package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WessleyAI/finqa/engine/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `[
  {
    "id": 1,
    "question": {"english": "What is NAV?", "hinglish": "NAV kya hota hai?", "hindi": "एनएवी क्या है?"},
    "answer": {"english": "Net Asset Value.", "hinglish": "Net Asset Value hota hai.", "hindi": "शुद्ध संपत्ति मूल्य।"}
  },
  {
    "id": "fd-2",
    "question": {"english": "What is a fixed deposit?", "hinglish": "", "hindi": ""},
    "answer": {"english": "A term deposit.", "hinglish": "", "hindi": ""}
  }
]`

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(sampleJSON))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, domain.EntryID("1"), entries[0].ID)
	assert.Equal(t, "NAV kya hota hai?", entries[0].Question.Hinglish)
	assert.Equal(t, "शुद्ध संपत्ति मूल्य।", entries[0].Answer.Hindi)
	assert.Equal(t, domain.EntryID("fd-2"), entries[1].ID)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"id": 1}`))
	assert.Error(t, err)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "json_data.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o644))

	entries, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestHash(t *testing.T) {
	a, err := Parse(strings.NewReader(sampleJSON))
	require.NoError(t, err)
	b, err := Parse(strings.NewReader(sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, Hash(a), Hash(b))
	assert.Len(t, Hash(a), 64)

	b[1].Answer.English = "A bank term deposit."
	assert.NotEqual(t, Hash(a), Hash(b))

	assert.NotEqual(t, Hash(a), Hash([]domain.CorpusEntry{a[1], a[0]}))
}
