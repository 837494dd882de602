// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// fencedObjectRegex extracts a JSON object wrapped in a markdown fence. \x60 is
// a backtick, which raw strings cannot contain.
var fencedObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*({.*})\\s*\x60\x60\x60")

// ExtractJSONObject isolates the JSON object in a model reply. Replies are
// accepted bare, wrapped in a markdown fence, or surrounded by prose; in the
// last case the text between the first '{' and the last '}' is used.
func ExtractJSONObject(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "{") && strings.HasSuffix(response, "}") {
		return response
	}
	if m := fencedObjectRegex.FindStringSubmatch(response); len(m) > 1 {
		return m[1]
	}
	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first != -1 && last > first {
		return response[first : last+1]
	}
	return response
}

// ParseJSONObject decodes the JSON object found in a model reply into T.
func ParseJSONObject[T any](response string) (*T, error) {
	raw := ExtractJSONObject(response)
	var result T
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model JSON reply: %w. Extracted JSON (truncated): %s", err, Truncate(raw, 500))
	}
	return &result, nil
}

// Truncate shortens s to at most maxLen bytes plus an ellipsis. Used for
// error messages and logs only, so rune boundaries are not respected.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
