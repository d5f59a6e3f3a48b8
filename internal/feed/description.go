package feed

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const unparsableDescription = "Description could not be parsed"

// HTMLToText converts an item's HTML description to plain text with
// collapsed whitespace. Feed descriptions are frequently malformed, so
// a parse failure yields a placeholder rather than an error.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return unparsableDescription
	}

	text := strings.Join(strings.Fields(doc.Text()), " ")
	if text == "" {
		return fallbackDescription
	}
	return text
}
