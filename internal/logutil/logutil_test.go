package logutil

import (
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestIsSensitiveLogField(t *testing.T) {
	t.Parallel()
	for _, key := range []string{"Authorization", "Stripe-Signature", "api_key", "X-Session-Token", "Cookie", "__session", "webhook_secret"} {
		if !IsSensitiveLogField(key) {
			t.Fatalf("expected %q to be sensitive", key)
		}
	}
	for _, key := range []string{"Content-Type", "X-Request-Id", "option"} {
		if IsSensitiveLogField(key) {
			t.Fatalf("expected %q to be loggable", key)
		}
	}
}

func TestFormatHeadersForLog_RedactsAndSorts(t *testing.T) {
	t.Parallel()
	h := http.Header{}
	h.Set("X-Request-Id", "req-1")
	h.Set("Authorization", "Bearer abc")
	got := FormatHeadersForLog(h)
	if strings.Contains(got, "abc") {
		t.Fatalf("bearer token leaked: %s", got)
	}
	if !strings.HasPrefix(got, "authorization=") {
		t.Fatalf("headers not sorted: %s", got)
	}
}

func TestRedactBodyForLog_ShortensUserText(t *testing.T) {
	t.Parallel()
	body := []byte(`{"messages":[{"role":"user","content":"` + strings.Repeat("x", 500) + `"}],"token":"t"}`)
	got := RedactBodyForLog("application/json", body, 20)
	if strings.Contains(got, strings.Repeat("x", 21)) {
		t.Fatalf("content not truncated: %s", got)
	}
	if !strings.Contains(got, `"token":"[REDACTED]"`) {
		t.Fatalf("token not redacted: %s", got)
	}
}

func testTruncateForLog_BoundedAndValidUTF8(t *rapid.T) {
	value := rapid.String().Draw(t, "value")
	maxChars := rapid.IntRange(1, 64).Draw(t, "max")

	got := TruncateForLog(value, maxChars)
	if strings.Contains(got, "\n") {
		t.Fatalf("preview contains newline: %q", got)
	}
	if len(got) > maxChars+len("... [truncated]") {
		t.Fatalf("preview too long: len=%d max=%d", len(got), maxChars)
	}
	if utf8.ValidString(value) && !utf8.ValidString(got) {
		t.Fatalf("preview split a rune: %q", got)
	}
}

func TestTruncateForLog_BoundedAndValidUTF8(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testTruncateForLog_BoundedAndValidUTF8)
}

func TestRedactBodyForLog_NonJSONTruncatedOnly(t *testing.T) {
	t.Parallel()
	got := RedactBodyForLog("text/plain", []byte("token=abc\nline two"), 0)
	if got != `token=abc\nline two` {
		t.Fatalf("unexpected preview: %q", got)
	}
	got = RedactBodyForLog("application/json", []byte("{not json"), 4)
	if got != "{not"+truncateSuffix {
		t.Fatalf("malformed json preview: %q", got)
	}
}
