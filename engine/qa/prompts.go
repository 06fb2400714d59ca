package qa

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/finqa/engine/domain"
)

// Fixed user-facing messages.
const (
	MsgFolioRefusal  = "Sorry, I can't provide information about folio numbers."
	MsgNoSimilar     = "No similar question found in the dataset."
	MsgDomainRefusal = "I'm sorry, I can only answer questions related to finance, stock market, and investments. Please ask a finance-related question."
)

const classifierTemplate = `
You are a financial domain classifier. Determine if the following question is related to finance, stock market, investments, mutual funds, trading, banking, or financial services.

Question: %s

Answer with ONLY "YES" if it's finance-related, or "NO" if it's not finance-related. No explanation needed.
`

const generatorTemplate = `
You are a helpful financial assistant. Use the following context to answer the user query about finance.

Context:
%s

User Query: %s

Answer in a clear and natural way. Focus only on financial information.
`

func classifierPrompt(question string) string {
	return fmt.Sprintf(classifierTemplate, question)
}

func generatorPrompt(question string, matches []domain.Match) string {
	return fmt.Sprintf(generatorTemplate, buildContext(matches), question)
}

// buildContext renders every retrieved neighbour with its English and Hindi
// answers.
func buildContext(matches []domain.Match) string {
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, fmt.Sprintf("Q: %s\nA (English): %s\nA (Hindi): %s",
			m.Document, m.Answer(domain.English), m.Answer(domain.Hindi)))
	}
	return strings.Join(parts, "\n\n")
}

// isAffirmative reports whether the classifier said YES. Anything else,
// including empty or chatty output, is a NO.
func isAffirmative(reply string) bool {
	return strings.ToUpper(strings.TrimSpace(reply)) == "YES"
}
