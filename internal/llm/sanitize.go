package llm

import "strings"

// Tag pairs used by models that leak chain-of-thought into the completion
// body (qwen3, deepseek-r1 distills).
var reasoningTags = [][2]string{
	{"<think>", "</think>"},
	{"<thinking>", "</thinking>"},
}

// SanitizeAnswer strips reasoning blocks from a completion so only the
// answer text reaches the caller. An unterminated block swallows the rest
// of the completion, since the model never returned to answering.
func SanitizeAnswer(s string) string {
	for _, tag := range reasoningTags {
		s = stripBlocks(s, tag[0], tag[1])
	}
	return strings.TrimSpace(s)
}

func stripBlocks(s, open, close string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, open)
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:start])
		rest := s[start+len(open):]
		end := strings.Index(rest, close)
		if end < 0 {
			return b.String()
		}
		s = rest[end+len(close):]
	}
}
