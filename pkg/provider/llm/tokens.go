package llm

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// messageOverhead is the per-message framing cost (role and separators) in
// the OpenAI chat format.
const messageOverhead = 4

// fallbackEncoding is used for models tiktoken does not know.
const fallbackEncoding = "cl100k_base"

var encodings sync.Map // model -> *tiktoken.Tiktoken

// Tokenizer counts tokens for one model.
//
// The BPE tables are fetched lazily by tiktoken-go. When they cannot be
// loaded (offline hosts) the tokenizer falls back to a four-characters-per
// token estimate, which overcounts slightly for English text.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer returns a tokenizer for model. It never fails.
func NewTokenizer(model string) *Tokenizer {
	if v, ok := encodings.Load(model); ok {
		return &Tokenizer{enc: v.(*tiktoken.Tiktoken)}
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		slog.Warn("tokenizer unavailable, estimating token counts", "model", model, "err", err)
		return &Tokenizer{}
	}
	encodings.Store(model, enc)
	return &Tokenizer{enc: enc}
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	if t.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessages returns the token cost of msgs including framing.
func (t *Tokenizer) CountMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += t.Count(m.Content) + messageOverhead
	}
	return total
}

// Budget trims conversation history so that a prompt fits a token limit.
type Budget struct {
	tok       *Tokenizer
	maxTokens int
}

// NewBudget returns a Budget that allows maxTokens of prompt for model.
// maxTokens <= 0 disables trimming.
func NewBudget(model string, maxTokens int) *Budget {
	return &Budget{tok: NewTokenizer(model), maxTokens: maxTokens}
}

// Fit returns the longest suffix of history that, together with system,
// fits the budget. The most recent message is always kept even if it alone
// exceeds the limit. The input slice is not modified.
func (b *Budget) Fit(system string, history []Message) []Message {
	if b.maxTokens <= 0 || len(history) == 0 {
		return history
	}
	used := b.tok.Count(system)
	if system != "" {
		used += messageOverhead
	}

	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := b.tok.Count(history[i].Content) + messageOverhead
		if used+cost > b.maxTokens && i < len(history)-1 {
			break
		}
		used += cost
		start = i
	}
	return history[start:]
}

// Tokenizer exposes the budget's tokenizer.
func (b *Budget) Tokenizer() *Tokenizer { return b.tok }
