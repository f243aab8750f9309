// Package budget estimates prompt token counts and trims chat history to fit
// a context window. Counting uses the cl100k_base BPE via tiktoken-go when its
// ranks can be loaded and falls back to a 4-characters-per-token heuristic
// otherwise, so estimates are never zero for non-empty text.
package budget

import (
	"log/slog"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// charsPerToken is the fallback character-to-token ratio.
	charsPerToken = 4

	// messageOverhead is the per-message framing cost most chat APIs add.
	messageOverhead = 4

	// DefaultMaxContextTokens is the input budget when none is configured.
	// Fits 8k-context local models with room left for the answer.
	DefaultMaxContextTokens = 6000
)

// Counter returns the token count of s.
type Counter func(s string) int

// Heuristic estimates tokens as len(s)/4, with a floor of 1 for non-empty s.
func Heuristic(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

var (
	tiktokenOnce    sync.Once
	tiktokenCounter Counter
)

// Tiktoken returns a cl100k_base counter. The encoding is loaded once per
// process; when loading fails (the ranks file is fetched on first use) the
// failure is logged and Heuristic is returned from then on.
func Tiktoken(log *slog.Logger) Counter {
	tiktokenOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			log.Warn("budget: tiktoken unavailable, using character heuristic", slog.Any("error", err))
			tiktokenCounter = Heuristic
			return
		}
		tiktokenCounter = func(s string) int {
			return len(enc.Encode(s, nil, nil))
		}
	})
	return tiktokenCounter
}

// EstimateMessages sums role, content, and framing overhead over msgs.
func EstimateMessages(count Counter, msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += count(string(m.Role))
		total += count(m.Content)
	}
	return total
}

// TrimHistory drops the oldest history messages until fixed plus history fit
// within maxTokens. fixed is never trimmed; if it alone exceeds the budget the
// returned history is empty.
func TrimHistory(count Counter, fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(count, fixed)
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(count, history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}

// TruncateToTokens cuts s so count(s) stays within max tokens, preferring to
// cut at a paragraph boundary. Used to bound the retrieved context block.
func TruncateToTokens(count Counter, s string, max int) string {
	if max <= 0 || count(s) <= max {
		return s
	}
	lo, hi := 0, len(s)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if count(s[:mid]) <= max {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	cut := s[:lo]
	for i := len(cut) - 1; i > len(cut)/2; i-- {
		if i > 0 && cut[i] == '\n' && cut[i-1] == '\n' {
			return cut[:i-1]
		}
	}
	// Step back to a rune boundary.
	for lo > 0 && lo < len(s) && s[lo]&0xC0 == 0x80 {
		lo--
	}
	return s[:lo]
}
