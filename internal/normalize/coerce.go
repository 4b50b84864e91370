// Package normalize turns loosely typed model output into fixed-shape candidate
// fields. Every function here is total: it returns a defined value for any input
// and never returns an error or panics.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// String coerces v to a trimmed string. nil, lists and objects collapse to "".
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []any, map[string]any, []string:
		return ""
	case string:
		return strings.TrimSpace(x)
	default:
		return strings.TrimSpace(scalarString(x))
	}
}

// Int coerces v to an integer, truncating decimals toward zero. nil, "", lists,
// objects and anything that does not parse as a finite number yield 0. Values
// beyond the int range saturate.
func Int(v any) int {
	switch x := v.(type) {
	case nil, []any, map[string]any, []string, bool:
		return 0
	case int:
		return x
	case int64:
		if x > math.MaxInt {
			return math.MaxInt
		}
		if x < math.MinInt {
			return math.MinInt
		}
		return int(x)
	case float64:
		return clampInt(x)
	case json.Number:
		return Int(x.String())
	}

	s := String(v)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return clampInt(f)
}

// clampInt truncates toward zero and saturates at the int range.
func clampInt(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	t := math.Trunc(f)
	switch {
	case t >= float64(math.MaxInt):
		return math.MaxInt
	case t <= float64(math.MinInt):
		return math.MinInt
	}
	return int(t)
}

// List coerces v to a list. A list passes through unchanged; a string is first
// decoded as a JSON array and otherwise split on commas; an object becomes a
// one-element list holding it; any other scalar becomes a one-element list of
// its string form. The result is never nil.
func List(v any) []any {
	switch x := v.(type) {
	case nil:
		return []any{}
	case []any:
		if x == nil {
			return []any{}
		}
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case map[string]any:
		return []any{x}
	case string:
		var decoded []any
		if err := json.Unmarshal([]byte(x), &decoded); err == nil && decoded != nil {
			return decoded
		}
		out := []any{}
		for _, tok := range strings.Split(x, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				out = append(out, tok)
			}
		}
		return out
	default:
		return []any{scalarString(x)}
	}
}

// Strings coerces v with List and renders every element as a string. Objects
// and nested lists are rendered as compact JSON. Empty elements are dropped.
func Strings(v any) []string {
	items := List(v)
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		switch x := item.(type) {
		case []any, map[string]any:
			s = JSON(x)
		default:
			s = String(x)
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// JSON encodes v for storage. When v cannot be encoded its string form is
// encoded instead, so the result is always valid JSON.
func JSON(v any) string {
	if s, err := encode(v); err == nil {
		return s
	}
	fallback := ""
	if v != nil {
		fallback = fmt.Sprint(v)
	}
	s, err := encode(fallback)
	if err != nil {
		return `""`
	}
	return s
}

func encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// truthy mirrors the "first non-empty source wins" rule of the fallback chains.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case json.Number:
		return x.String() != "0"
	case []any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}
