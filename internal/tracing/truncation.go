package tracing

import (
	"strings"
)

const (
	DefaultMaxLength = 200
	MaxRedisLength   = 100
	MaxTextLength    = 150
)

// piiKeys are attribute names whose values are masked instead of truncated.
var piiKeys = []string{
	"email",
	"phone",
	"mobile",
	"name",
	"password",
	"secret",
	"token",
	"api_key",
	"linkedin",
}

// SafeAttributeValue masks value when name looks like personal data and
// otherwise truncates it to maxLength runes.
func SafeAttributeValue(name string, value string, maxLength int) string {
	lower := strings.ToLower(name)
	for _, key := range piiKeys {
		if strings.Contains(lower, key) {
			return MaskPII(value)
		}
	}
	return TruncateString(value, maxLength)
}

// MaskPII keeps the edges of value and stars out the middle.
//
//	"Ada" -> "A*a", "ada@example.com" -> "ad***********om"
func MaskPII(value string) string {
	if value == "" {
		return ""
	}

	runes := []rune(value)
	n := len(runes)
	switch {
	case n == 1:
		return "*"
	case n == 2:
		return string(runes[0]) + "*"
	case n <= 4:
		return string(runes[0]) + strings.Repeat("*", n-2) + string(runes[n-1])
	}
	return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
}

// TruncateString shortens s to maxLength runes, keeping head and tail joined
// by "...".
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}

	half := (maxLength - 3) / 2
	if half < 1 {
		half = 1
	}
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

// SafeText truncates document or reply text for span attributes and logs.
func SafeText(s string) string {
	return TruncateString(s, MaxTextLength)
}
