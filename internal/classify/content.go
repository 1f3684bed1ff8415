package classify

import "strings"

// Sender patterns that always indicate a curated digest. Messages from
// these senders never count as full content, so link extraction is always
// attempted for them.
var knownDigestSenders = []string{
	"morningbrew",
	"axios.com",
	"thehustle",
	"tldrnewsletter",
	"tldr.tech",
	"theskimm",
	"1440.com",
	"join1440",
	"nytimes.com",
	"washingtonpost.com",
	"bloomberg.com",
	"quartz.com",
	"techmeme",
	"futurecrunch",
	"dense discovery",
}

// Personal-publishing platforms whose messages often carry the whole
// article in the body.
var personalPlatformSenders = []string{
	"substack.com",
	"medium.com",
	"ghost.io",
	"beehiiv.com",
	"buttondown.email",
	"convertkit",
}

const (
	minFullContentLength      = 2000
	definiteFullContentLength = 10000
	platformFullContentLength = 5000
	digestLinkThreshold       = 3
)

// contentRule is one step of the full-content heuristic ladder. Rules are
// evaluated in order and the first match wins.
type contentRule struct {
	name  string
	match func(textLen, linkCount int, sender string) bool
	full  bool
}

var contentRules = []contentRule{
	{
		// Known digest senders always get link extraction, no matter how
		// long their body text is.
		name: "known-digest-sender",
		match: func(_, _ int, sender string) bool {
			return matchesAny(sender, knownDigestSenders)
		},
		full: false,
	},
	{
		name: "many-links",
		match: func(_, linkCount int, _ string) bool {
			return linkCount >= digestLinkThreshold
		},
		full: false,
	},
	{
		name: "too-short",
		match: func(textLen, _ int, _ string) bool {
			return textLen < minFullContentLength
		},
		full: false,
	},
	{
		name: "long-and-linkless",
		match: func(textLen, linkCount int, _ string) bool {
			return textLen > definiteFullContentLength && linkCount <= 1
		},
		full: true,
	},
	{
		name: "personal-platform",
		match: func(textLen, linkCount int, sender string) bool {
			return matchesAny(sender, personalPlatformSenders) &&
				textLen > platformFullContentLength && linkCount == 0
		},
		full: true,
	},
}

// IsFullContentNewsletter reports whether a message body is itself the
// article, as opposed to a digest of teaser links. linkCount is the number
// of article-shaped links found before filtering.
//
// The heuristic is deliberately conservative: a false "digest" answer only
// costs a wasted extraction attempt, while a false "full content" answer
// silently loses every linked article.
func IsFullContentNewsletter(plainText string, linkCount int, sender string) bool {
	textLen := len(plainText)
	for _, rule := range contentRules {
		if rule.match(textLen, linkCount, strings.ToLower(sender)) {
			return rule.full
		}
	}
	return false
}

func matchesAny(sender string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(sender, p) {
			return true
		}
	}
	return false
}
