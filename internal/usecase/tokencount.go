package usecase

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"presenter-ai/internal/domain"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// estimateTokens approximates the token count of a transcript with the
// cl100k_base encoding. Used only when a backend omits usage from its
// responses; the budget governor needs a number either way. Falls back to a
// bytes/4 heuristic when the encoding cannot be loaded (e.g. offline).
func estimateTokens(messages []domain.Message) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})

	total := 0
	for _, m := range messages {
		text := m.Text()
		if encoding != nil {
			total += len(encoding.Encode(text, nil, nil))
		} else {
			total += len(text) / 4
		}
		// Per-message protocol overhead.
		total += 4
	}
	return total
}
