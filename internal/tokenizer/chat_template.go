package tokenizer

import "strings"

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatTemplate formats messages into a prompt that ends with the assistant
// header, ready for generation.
type ChatTemplate interface {
	Apply(messages []ChatMessage) string
	Name() string
}

// Llama3Template implements the Llama 3 instruct format.
//
// Format: <|start_header_id|>role<|end_header_id|>\n\ncontent<|eot_id|>.
type Llama3Template struct {
	bos string
}

// NewLlama3Template creates a Llama 3 template. Set bos to "" when the
// tokenizer adds <|begin_of_text|> itself.
func NewLlama3Template(bos string) *Llama3Template { return &Llama3Template{bos: bos} }

// Llama3EOT terminates every turn and is the generator's stop token.
const Llama3EOT = "<|eot_id|>"

func (t *Llama3Template) Apply(messages []ChatMessage) string {
	var sb strings.Builder
	sb.WriteString(t.bos)
	for _, msg := range messages {
		writeHeader(&sb, msg.Role)
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString(Llama3EOT)
	}
	writeHeader(&sb, "assistant")
	return sb.String()
}

func writeHeader(sb *strings.Builder, role string) {
	sb.WriteString("<|start_header_id|>")
	sb.WriteString(role)
	sb.WriteString("<|end_header_id|>\n\n")
}

func (t *Llama3Template) Name() string { return "Llama3" }
