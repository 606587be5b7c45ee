package tools

import "fmt"

// Result is the unified return type from tool execution, folded back into the
// conversation as a tool-result message.
type Result struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error"`
}

func NewResult(text string) *Result {
	return &Result{Text: text}
}

func ErrorResult(format string, args ...interface{}) *Result {
	return &Result{Text: fmt.Sprintf(format, args...), IsError: true}
}

// maxResultChars bounds tool output fed back to the model.
const maxResultChars = 50_000

// Truncate caps s at maxResultChars with a trailing notice.
func Truncate(s string) string {
	if len(s) <= maxResultChars {
		return s
	}
	return s[:maxResultChars] + fmt.Sprintf("\n\n[... truncated, %d chars total]", len(s))
}
