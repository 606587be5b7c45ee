package channels

import "strings"

// SplitMessage breaks text into chunks of at most limit bytes, preferring
// paragraph then line then space boundaries so platform limits never cut a
// word mid-way.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := splitPoint(text, limit)
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n "))
		text = strings.TrimLeft(text[cut:], "\n ")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func splitPoint(text string, limit int) int {
	window := text[:limit]
	for _, sep := range []string{"\n\n", "\n", " "} {
		// Only accept a boundary in the back half, otherwise chunks degenerate.
		if i := strings.LastIndex(window, sep); i > limit/2 {
			return i + len(sep)
		}
	}
	return limit
}
