package notes

import (
	"strings"
	"unicode/utf8"

	"github.com/jacobjmc/lightpad/internal/errs"
)

const (
	// MaxTitleRunes caps the title length.
	MaxTitleRunes = 200

	// MaxContentBytes caps the stored HTML of one note (1MB).
	MaxContentBytes = 1 << 20
)

func validate(title, content string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errs.New(errs.InvalidArgument, "Title is required")
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleRunes {
		return "", errs.Newf(errs.InvalidArgument, "Title is too long (%d characters, limit %d)", n, MaxTitleRunes)
	}
	if len(content) > MaxContentBytes {
		return "", errs.Newf(errs.InvalidArgument, "Content is too large (%d bytes, limit %d)", len(content), MaxContentBytes)
	}
	return title, nil
}
