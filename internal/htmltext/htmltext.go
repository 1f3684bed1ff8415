// Package htmltext converts newsletter and note HTML into readable plain
// text for storage and classification.
package htmltext

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blankRunRegex = regexp.MustCompile(`\n{3,}`)

// ToPlainText strips script/style blocks, converts block-level elements to
// newline-separated text, decodes HTML entities and collapses runs of
// blank lines. Returns "" when nothing readable remains.
func ToPlainText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fallbackStrip(html)
	}

	doc.Find("script, style, noscript, head, iframe").Remove()

	var b strings.Builder
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	blocks := body.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre, td, tr, div, br")
	if blocks.Length() == 0 {
		// No block structure at all; take the text wholesale.
		b.WriteString(body.Text())
	} else {
		blocks.Each(func(_ int, sel *goquery.Selection) {
			// Only leaf-ish blocks contribute text, otherwise nested divs
			// duplicate every paragraph.
			if sel.Children().Filter("p, div, table, ul, ol").Length() > 0 {
				return
			}
			text := strings.TrimSpace(sel.Text())
			if text == "" {
				return
			}
			b.WriteString(text)
			b.WriteString("\n\n")
		})
		if b.Len() == 0 {
			b.WriteString(body.Text())
		}
	}

	return Normalize(b.String())
}

// Normalize trims trailing space per line and collapses runs of more than
// two newlines.
func Normalize(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	joined := strings.Join(lines, "\n")
	joined = blankRunRegex.ReplaceAllString(joined, "\n\n")
	return strings.TrimSpace(joined)
}

// fallbackStrip removes tags character-by-character for HTML too broken
// for the parser.
func fallbackStrip(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return Normalize(b.String())
}
