// Package render converts plain-text drafts into HTML email bodies.
package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
)

// md treats single newlines as line breaks, which is how email text reads.
// Raw HTML in a draft is escaped.
var md = goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))

// HTML renders a draft as Markdown.
func HTML(draft string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(draft), &buf); err != nil {
		return "", fmt.Errorf("rendering draft: %w", err)
	}
	return buf.String(), nil
}
