package agent

import (
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func tokenEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Offline or first-run without cache; fall back to the
			// character heuristic in TruncateToTokens.
			slog.Debug("Token encoding unavailable, using character estimate", "error", err)
			return
		}
		encoding = enc
	})
	return encoding
}

// TruncateToTokens trims text to at most maxTokens, cutting on a word
// boundary. Used to keep retrieved context inside the prompt budget.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}

	if enc := tokenEncoding(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		decoded := enc.Decode(tokens[:maxTokens])
		// A token cut can land mid-rune; drop the partial sequence.
		if !utf8.ValidString(decoded) {
			decoded = strings.ToValidUTF8(decoded, "")
		}
		return decoded
	}

	// Rough estimate: 4 characters per token for English prose.
	limit := maxTokens * 4
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	truncated := text[:limit]
	if idx := strings.LastIndexByte(truncated, ' '); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated
}
