package notes

import (
	"html"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

var (
	ugcPolicy    = bluemonday.UGCPolicy()
	strictPolicy = bluemonday.StrictPolicy()
)

// SanitizeHTML strips anything outside the user-generated-content policy
// from editor HTML.
func SanitizeHTML(s string) string {
	return ugcPolicy.Sanitize(s)
}

// PlainText removes all markup and decodes entities.
func PlainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// RenderMarkdown converts markdown (model output, chat turns) to sanitized
// HTML.
func RenderMarkdown(s string) string {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(s))

	opts := mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	}
	renderer := mdhtml.NewRenderer(opts)

	return string(ugcPolicy.SanitizeBytes(markdown.Render(doc, renderer)))
}
