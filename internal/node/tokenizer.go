package node

import (
	"strings"
	"sync"
)

// ChatTokenizer formats chat prompts and maps streamed text pieces to token
// ids. The node's streaming API returns text chunks, not vocabulary ids, so
// the tokenizer interns each chunk: Encode assigns a stable id per distinct
// piece and Decode reverses the mapping.
type ChatTokenizer struct {
	mutex  sync.Mutex
	pieces []string
	ids    map[string]int
}

// NewChatTokenizer creates an empty tokenizer.
func NewChatTokenizer() *ChatTokenizer {
	return &ChatTokenizer{ids: make(map[string]int)}
}

// ApplyChatTemplate renders messages into a single prompt string with a
// trailing generation prompt for the assistant turn.
func (t *ChatTokenizer) ApplyChatTemplate(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|")
		b.WriteString(m.Role)
		b.WriteString("|>\n")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}

// Encode interns a streamed piece and returns its id.
func (t *ChatTokenizer) Encode(piece string) int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if id, ok := t.ids[piece]; ok {
		return id
	}
	id := len(t.pieces)
	t.pieces = append(t.pieces, piece)
	t.ids[piece] = id
	return id
}

// Decode joins the pieces behind a token sequence. Unknown ids render as
// nothing rather than failing.
func (t *ChatTokenizer) Decode(tokens []int) string {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var b strings.Builder
	for _, id := range tokens {
		if id >= 0 && id < len(t.pieces) {
			b.WriteString(t.pieces[id])
		}
	}
	return b.String()
}
