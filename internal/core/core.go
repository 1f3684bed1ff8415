package core

import "time"

// SourceType identifies what kind of content an Item holds.
type SourceType string

const (
	SourceNewsletter SourceType = "newsletter" // A newsletter message stored as-is
	SourceArticle    SourceType = "article"    // An article extracted from a digest link
	SourceEmailNote  SourceType = "email_note" // A user-tagged note forwarded by mail
)

// Item represents one ingested unit of content in the repository.
// Items are immutable once written; force re-ingestion deletes and reinserts.
type Item struct {
	ID                string     `json:"id"`                  // Unique identifier for the item
	SourceType        SourceType `json:"source_type"`         // newsletter, article, or email_note
	SourceEmail       string     `json:"source_email"`        // Originating sender address (empty for bare articles)
	SourceURL         string     `json:"source_url"`          // Canonical URL for display/favicon (empty for notes)
	Title             string     `json:"title"`               // Item title
	Content           string     `json:"content"`             // Extracted plain text
	RawHTML           string     `json:"raw_html"`            // Original HTML (newsletter type only)
	IngestDate        string     `json:"ingest_date"`         // Day bucket (YYYY-MM-DD) for daily grouping
	ReceivedAt        time.Time  `json:"received_at"`         // When the source message was received/extracted
	ExternalMessageID string     `json:"external_message_id"` // Stable provider message id; primary dedup key
}

// CandidateEmail is a message fetched from the mail source, before any
// classification. Produced by merging several fetch strategies and
// deduplicating by provider message id.
type CandidateEmail struct {
	ID       string    `json:"id"`        // Stable provider message id
	From     string    `json:"from"`      // Sender header, possibly "Name <addr>"
	Subject  string    `json:"subject"`   // Subject header
	Date     time.Time `json:"date"`      // Receipt timestamp
	HTMLBody string    `json:"html_body"` // HTML body, may be empty
	TextBody string    `json:"text_body"` // Plain-text body, may be empty
}

// ArticleLinkCandidate is a link pulled out of a digest newsletter that
// passed the article-link filter and awaits extraction.
type ArticleLinkCandidate struct {
	URL           string `json:"url"`            // Raw URL as found in the newsletter
	Text          string `json:"text"`           // Anchor text
	SourceSubject string `json:"source_subject"` // Subject of the originating message
	SourceEmail   string `json:"source_email"`   // Sender of the originating message
}

// Source is a registered newsletter sender.
type Source struct {
	ID      string    `json:"id"`       // Unique identifier
	Email   string    `json:"email"`    // Sender address to fetch by
	Name    string    `json:"name"`     // Display name
	Enabled bool      `json:"enabled"`  // Disabled sources are kept but not fetched
	AddedAt time.Time `json:"added_at"` // When the source was registered
}

// DiscoveredSender is an unregistered sender surfaced by the discovery scan.
type DiscoveredSender struct {
	Email      string    `json:"email"`       // Sender address
	Name       string    `json:"name"`        // Display name, if present
	Count      int       `json:"count"`       // Messages seen in the scan window
	Subjects   []string  `json:"subjects"`    // Sample subjects
	LatestDate time.Time `json:"latest_date"` // Most recent message date
}

// FetchWindow bounds a mail-fetch query.
type FetchWindow struct {
	After  time.Time  `json:"after"`
	Before *time.Time `json:"before,omitempty"` // nil means open-ended
}

// Day returns the UTC day bucket for a timestamp, used for IngestDate.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
