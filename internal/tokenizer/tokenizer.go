// Package tokenizer wraps HuggingFace tokenizer.json files and renders chat
// prompts for instruction-tuned generators.
package tokenizer

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	// Encode returns token ids, optionally wrapped in the model's special tokens.
	Encode(text string, addSpecial bool) ([]int, error)
	// Decode turns ids back into text, optionally dropping special tokens.
	Decode(ids []int, skipSpecial bool) string
	// TokenID looks up a single token.
	TokenID(token string) (int, bool)
	// EOS is the end-of-sequence id.
	EOS() int
	// PAD is the padding id. Tokenizers without one report EOS.
	PAD() int
}

// TruncateHead keeps the first max ids. With keepLast the final id (usually a
// closing special token) is preserved in the last position.
func TruncateHead(ids []int, max int, keepLast bool) []int {
	if max <= 0 || len(ids) <= max {
		return ids
	}
	out := append([]int(nil), ids[:max]...)
	if keepLast {
		out[max-1] = ids[len(ids)-1]
	}
	return out
}

// TruncateTail keeps the last max ids. Prompts are cut this way so the
// generation header at the end survives.
func TruncateTail(ids []int, max int) []int {
	if max <= 0 || len(ids) <= max {
		return ids
	}
	return append([]int(nil), ids[len(ids)-max:]...)
}
