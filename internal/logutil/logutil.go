// Package logutil keeps credentials and user text out of logs.
package logutil

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	redacted       = "[REDACTED]"
	truncateSuffix = "... [truncated]"
)

// sensitiveFragments match header and JSON keys after lowercasing and
// dropping '-' and '_'.
var sensitiveFragments = []string{"authorization", "signature", "token", "secret", "apikey", "cookie", "session"}

// userTextKeys hold note or chat text. Their values are shortened, not dropped.
var userTextKeys = []string{"content", "prompt", "command", "text", "title"}

func normalizeKey(key string) string {
	return strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(key)))
}

// IsSensitiveLogField reports whether key likely names a credential.
func IsSensitiveLogField(key string) bool {
	k := normalizeKey(key)
	return slices.ContainsFunc(sensitiveFragments, func(frag string) bool {
		return strings.Contains(k, frag)
	})
}

// IsUserTextField reports whether a JSON key carries user-authored text.
func IsUserTextField(key string) bool {
	return slices.Contains(userTextKeys, strings.ToLower(strings.TrimSpace(key)))
}

// FormatHeadersForLog renders headers as sorted `name="v1, v2"` pairs with
// credential values replaced.
func FormatHeadersForLog(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, strings.ToLower(name))
	}
	slices.Sort(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		value := redacted
		if !IsSensitiveLogField(name) {
			value = strings.Join(headers.Values(name), ", ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(value))
	}
	return b.String()
}

// RedactBodyForLog masks credential fields and shortens user text in a JSON
// body. Anything else is only truncated.
func RedactBodyForLog(contentType string, body []byte, maxTextChars int) string {
	var payload any
	if !strings.Contains(strings.ToLower(contentType), "json") || json.Unmarshal(body, &payload) != nil {
		return TruncateForLog(string(body), maxTextChars)
	}
	out, err := json.Marshal(scrub(payload, maxTextChars))
	if err != nil {
		return TruncateForLog(string(body), maxTextChars)
	}
	return string(out)
}

func scrub(v any, maxTextChars int) any {
	switch typed := v.(type) {
	case map[string]any:
		for k, child := range typed {
			switch s, isString := child.(string); {
			case IsSensitiveLogField(k):
				typed[k] = redacted
			case isString && IsUserTextField(k):
				typed[k] = TruncateForLog(s, maxTextChars)
			default:
				typed[k] = scrub(child, maxTextChars)
			}
		}
	case []any:
		for i, child := range typed {
			typed[i] = scrub(child, maxTextChars)
		}
	}
	return v
}

// TruncateForLog returns a one-line preview of at most maxChars bytes (plus
// a marker) that never splits a rune. maxChars <= 0 disables the cut.
func TruncateForLog(value string, maxChars int) string {
	oneLine := strings.ReplaceAll(strings.TrimSpace(value), "\n", `\n`)
	if maxChars <= 0 || len(oneLine) <= maxChars {
		return oneLine
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(oneLine[cut]) {
		cut--
	}
	return oneLine[:cut] + truncateSuffix
}
