package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var clientVisibleCodes = []Code{
	InvalidArgument,
	Unauthenticated,
	NotFound,
	PermissionDenied,
	QuotaExceeded,
	ResourceExhausted,
	Unavailable,
}

func testCodedErrorSurvivesWrapping(t *rapid.T) {
	code := rapid.SampledFrom(clientVisibleCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))
	depth := rapid.IntRange(0, 3).Draw(t, "depth")

	err := Wrap(code, message, cause)
	for i := 0; i < depth; i++ {
		err = fmt.Errorf("layer %d: %w", i, err)
	}

	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf = %q, want %q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf = %q, want %q", got, message)
	}
	if !Is(err, code) {
		t.Fatalf("Is(err, %q) = false", code)
	}
	if !errors.Is(err, cause) {
		t.Fatal("lost the cause")
	}
	if got, want := Status(err), HTTPStatus(code); got != want {
		t.Fatalf("Status = %d, want %d", got, want)
	}
}

func TestCodedErrorSurvivesWrapping(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodedErrorSurvivesWrapping)
}

func testUntypedAndInternalNeverLeak(t *rapid.T) {
	raw := rapid.StringMatching(`[a-zA-Z0-9 _:\-./]{1,80}`).Draw(t, "raw")
	untyped := errors.New(raw)

	if got := CodeOf(untyped); got != Internal {
		t.Fatalf("CodeOf(untyped) = %q", got)
	}
	if got := MessageOf(untyped); got != GenericMessage {
		t.Fatalf("MessageOf(untyped) leaked %q", got)
	}
	if got := MessageOf(Wrap(Internal, raw, untyped)); got != GenericMessage {
		t.Fatalf("MessageOf(internal) leaked %q", got)
	}
}

func TestUntypedAndInternalNeverLeak(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testUntypedAndInternalNeverLeak)
}

func TestNilAndEmpty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Internal, CodeOf(nil))
	assert.Equal(t, GenericMessage, MessageOf(nil))
	assert.False(t, Is(nil, NotFound))
	assert.Equal(t, GenericMessage, MessageOf(&Error{Code: NotFound}))
	assert.Equal(t, Internal, CodeOf(&Error{Message: "no code"}))
}

func TestError_Text(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Note not found", New(NotFound, "Note not found").Error())
	assert.Equal(t, "Invalid JSON: unexpected EOF", Wrap(InvalidArgument, "Invalid JSON", errors.New("unexpected EOF")).Error())
	assert.Equal(t, "title is 201 characters", Newf(InvalidArgument, "title is %d characters", 201).Error())
	assert.Equal(t, "not_found", (&Error{Code: NotFound}).Error())
}

func TestHTTPStatus_Mapping(t *testing.T) {
	t.Parallel()
	cases := map[Code]int{
		InvalidArgument:      http.StatusBadRequest,
		Unauthenticated:      http.StatusUnauthorized,
		PermissionDenied:     http.StatusForbidden,
		QuotaExceeded:        http.StatusForbidden,
		NotFound:             http.StatusNotFound,
		ResourceExhausted:    http.StatusTooManyRequests,
		Unavailable:          http.StatusServiceUnavailable,
		Internal:             http.StatusInternalServerError,
		Code("unknown_code"): http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), "code %q", code)
	}
}
