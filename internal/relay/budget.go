package relay

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Budget caps the size of a question in tokens.
type Budget struct {
	tokenizer *tiktoken.Tiktoken
	max       int
}

// NewBudget loads the named encoding (cl100k_base when empty).
func NewBudget(encoding string, maxTokens int) (*Budget, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("get tokenizer: %w", err)
	}
	return &Budget{tokenizer: enc, max: maxTokens}, nil
}

// Count returns the token count for text.
func (b *Budget) Count(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Exceeds reports whether text is over the budget. A non-positive budget
// never trips.
func (b *Budget) Exceeds(text string) bool {
	if b.max <= 0 {
		return false
	}
	return b.Count(text) > b.max
}
