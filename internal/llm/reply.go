package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSONObject is returned when a reply holds no JSON object.
var ErrNoJSONObject = errors.New("model reply contains no JSON object")

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ExtractJSON returns the outermost JSON object in reply, ignoring reasoning
// blocks, code fences and surrounding prose.
func ExtractJSON(reply string) (string, error) {
	s := thinkBlock.ReplaceAllString(reply, "")
	// An unterminated reasoning block hides everything after it.
	if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i]
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSONObject
	}
	return s[start : end+1], nil
}

// DecodeReply parses reply into a field map. Anything that is not a JSON
// object is an error; the caller treats it as a failed run.
func DecodeReply(reply string) (map[string]any, error) {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	return fields, nil
}
