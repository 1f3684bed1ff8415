package ingest

import "mailbrief/internal/core"

// Phase names one stage of an ingestion run. Phases are linear; a run
// never moves backward.
type Phase string

const (
	PhaseFetching              Phase = "fetching"
	PhaseProcessingNewsletters Phase = "processing-newsletters"
	PhaseImportingTaggedNotes  Phase = "importing-tagged-notes"
	PhaseExtractingArticles    Phase = "extracting-articles"
	PhaseScanningForNewSources Phase = "scanning-for-new-sources"
	PhaseDone                  Phase = "done"
)

// EventType tags a progress event.
type EventType string

const (
	EventStart           EventType = "start"
	EventNewsletter      EventType = "newsletter"
	EventArticle         EventType = "article"
	EventEmailNote       EventType = "email_note"
	EventUnfetchedEmails EventType = "unfetched_emails"
	EventComplete        EventType = "complete"
	EventError           EventType = "error"
)

// ItemStatus describes the outcome of processing one item.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusSuccess    ItemStatus = "success"
	StatusError      ItemStatus = "error"
	StatusSkipped    ItemStatus = "skipped"
)

// Event is one entry in the progress stream of a run. Events are
// delivered in order through a caller-supplied callback and never
// persisted.
type Event struct {
	Type    EventType  `json:"type"`
	Phase   Phase      `json:"phase"`
	Current int        `json:"current,omitempty"`
	Total   int        `json:"total,omitempty"`
	Status  ItemStatus `json:"status,omitempty"`
	Title   string     `json:"title,omitempty"`
	Detail  string     `json:"detail,omitempty"`

	// Set on the terminal complete event only.
	Summary           *Summary                `json:"summary,omitempty"`
	DiscoveredSenders []core.DiscoveredSender `json:"discovered_senders,omitempty"`
}

// Summary holds the counters reported by the terminal complete event.
type Summary struct {
	Newsletters     int `json:"newsletters"`
	Articles        int `json:"articles"`
	Notes           int `json:"notes"`
	Errors          int `json:"errors"`
	TotalCharacters int `json:"total_characters"`
}

// EmitFunc receives progress events. Implementations must be fast;
// delivery is fire-and-forget telemetry on the run's goroutine.
type EmitFunc func(Event)
