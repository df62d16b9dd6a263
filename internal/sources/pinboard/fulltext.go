package pinboard

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractText pulls the visible text out of a frozen page so the archive
// stays searchable by page content. Script and style bodies are stripped
// and whitespace is collapsed.
func extractText(frozen []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(frozen))
	if err != nil {
		return "", fmt.Errorf("parse frozen page: %w", err)
	}

	body := doc.Find("body").First()
	if body.Length() == 0 {
		return "", nil
	}
	body.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(body.Text()), " "), nil
}
