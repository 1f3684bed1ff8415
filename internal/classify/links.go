package classify

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"mailbrief/internal/core"
)

// URL path/host fragments that mark a link as newsletter plumbing rather
// than an article. Matched case-insensitively against the whole URL.
var nonArticleURLPatterns = []string{
	"unsubscribe",
	"manage-preferences",
	"manage_preferences",
	"email-preferences",
	"email_preferences",
	"preferences-center",
	"view-in-browser",
	"view_in_browser",
	"web-version",
	"webview",
	"/browser",
	"mailto:",
	"facebook.com/sharer",
	"twitter.com/intent",
	"x.com/intent",
	"linkedin.com/sharearticle",
	"linkedin.com/share?",
	"t.me/share",
	"wa.me/",
	"reddit.com/submit",
	"pinterest.com/pin/create",
	"/login",
	"/signin",
	"/sign-in",
	"/signup",
	"/sign-up",
	"/subscribe?",
	"/account/",
	"privacy-policy",
	"terms-of-service",
	"app-store",
	"play.google.com/store",
	"apps.apple.com",
}

// Anchor texts that never label an article, regardless of destination.
// Checked as whole phrases after trimming and lowercasing; the list is
// language-agnostic enough for the newsletters we ingest.
var nonArticleTexts = map[string]bool{
	"unsubscribe":          true,
	"view in browser":      true,
	"view online":          true,
	"read online":          true,
	"open in browser":      true,
	"open in app":          true,
	"share":                true,
	"tweet":                true,
	"forward":              true,
	"forward to a friend":  true,
	"manage preferences":   true,
	"update preferences":   true,
	"update your profile":  true,
	"email preferences":    true,
	"privacy policy":       true,
	"terms":                true,
	"terms of service":     true,
	"sign up":              true,
	"sign in":              true,
	"log in":               true,
	"login":                true,
	"subscribe":            true,
	"advertise":            true,
	"advertise with us":    true,
	"sponsor":              true,
	"follow us":            true,
	"contact us":           true,
	"about us":             true,
	"here":                 true,
	"click here":           true,
	"read more":            false, // often the only label on a real article teaser
}

// Substrings that, anywhere in the anchor text, mark it as plumbing.
var nonArticleTextPatterns = []string{
	"unsubscribe",
	"view this email",
	"view in your browser",
	"manage your subscription",
	"update your preferences",
}

// Hosts used purely for click-tracking; a link to one of these with no
// meaningful path cannot resolve to an article.
var trackingHostPrefixes = []string{
	"click.",
	"clicks.",
	"link.",
	"links.",
	"email.",
	"mail.",
	"track.",
	"go.",
	"url.",
}

var trackingPixelSuffixes = []string{".gif", ".png", ".jpg", ".jpeg", ".webp"}

// IsLikelyArticleURL reports whether a URL could plausibly point at an
// article. It runs on the raw extracted URL and again on the resolved
// final URL after redirect following, because a tracking link can resolve
// to a login wall or profile page invisible at the raw-URL stage.
func IsLikelyArticleURL(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return false
	}

	parsed, err := url.Parse(lower)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	for _, pattern := range nonArticleURLPatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}

	// Tracking pixels masquerade as links in some templates.
	for _, suffix := range trackingPixelSuffixes {
		if strings.HasSuffix(parsed.Path, suffix) {
			return false
		}
	}

	// A bare tracking host with no path has nowhere to redirect worth
	// keeping; with a path it may still resolve to an article, so it is
	// allowed through and re-checked after resolution.
	if parsed.Path == "" || parsed.Path == "/" {
		for _, prefix := range trackingHostPrefixes {
			if strings.HasPrefix(parsed.Host, prefix) {
				return false
			}
		}
		// Homepage links are navigation, not articles.
		if parsed.RawQuery == "" {
			return false
		}
	}

	return true
}

// IsNonArticleLinkText reports whether anchor text labels newsletter
// plumbing (unsubscribe, sharing, preferences) rather than an article.
func IsNonArticleLinkText(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return false
	}
	if nonArticleTexts[normalized] {
		return true
	}
	for _, pattern := range nonArticleTextPatterns {
		if strings.Contains(normalized, pattern) {
			return true
		}
	}
	return false
}

// ExtractArticleLinks parses newsletter HTML and returns the links that
// pass both the URL and the anchor-text filters, deduplicated by URL in
// document order.
func ExtractArticleLinks(html string, subject, sender string) ([]core.ArticleLinkCandidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var candidates []core.ArticleLinkCandidate

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		text := strings.TrimSpace(sel.Text())

		if seen[href] {
			return
		}
		if !IsLikelyArticleURL(href) || IsNonArticleLinkText(text) {
			return
		}

		seen[href] = true
		candidates = append(candidates, core.ArticleLinkCandidate{
			URL:           href,
			Text:          text,
			SourceSubject: subject,
			SourceEmail:   sender,
		})
	})

	return candidates, nil
}

// CountRawArticleLinks returns the number of article-shaped links in the
// HTML before text filtering, which feeds the full-content heuristic.
func CountRawArticleLinks(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0
	}
	seen := make(map[string]bool)
	count := 0
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if seen[href] || !IsLikelyArticleURL(href) {
			return
		}
		seen[href] = true
		count++
	})
	return count
}
