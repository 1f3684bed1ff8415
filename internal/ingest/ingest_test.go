package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mailbrief/internal/config"
	"mailbrief/internal/core"
	"mailbrief/internal/extract"
)

type fakeMail struct {
	bySender     []core.CandidateEmail
	byLabel      []core.CandidateEmail
	notes        []core.CandidateEmail
	singleSender map[string][]core.CandidateEmail
	discovered   []core.DiscoveredSender

	singleCalls []string
	lastWindow  core.FetchWindow
	scanErr     error
}

func (f *fakeMail) FetchBySenders(_ context.Context, _ []string, _ int, window core.FetchWindow) ([]core.CandidateEmail, error) {
	f.lastWindow = window
	return f.bySender, nil
}

func (f *fakeMail) FetchByLabel(_ context.Context, _ string, _ int, _ core.FetchWindow) ([]core.CandidateEmail, error) {
	return f.byLabel, nil
}

func (f *fakeMail) FetchSingleSender(_ context.Context, sender string, _ int, _ core.FetchWindow) ([]core.CandidateEmail, error) {
	f.singleCalls = append(f.singleCalls, sender)
	return f.singleSender[sender], nil
}

func (f *fakeMail) FetchBySubjectTag(_ context.Context, _, _ string, _, _ int) ([]core.CandidateEmail, error) {
	return f.notes, nil
}

func (f *fakeMail) ScanUniqueSenders(_ context.Context, _ time.Time, _, _ int) ([]core.DiscoveredSender, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.discovered, nil
}

type fakeStore struct {
	items   []core.Item
	sources []core.Source
}

func (f *fakeStore) InsertItem(item core.Item) error {
	for _, existing := range f.items {
		if item.ExternalMessageID != "" && existing.ExternalMessageID == item.ExternalMessageID {
			return errors.New("UNIQUE constraint failed: items.external_message_id")
		}
		if item.SourceType == core.SourceArticle && existing.SourceType == core.SourceArticle && existing.SourceURL == item.SourceURL {
			return errors.New("UNIQUE constraint failed: items.source_url")
		}
	}
	f.items = append(f.items, item)
	return nil
}

func (f *fakeStore) DeleteItemByMessageID(messageID string) error {
	kept := f.items[:0]
	for _, item := range f.items {
		if item.ExternalMessageID != messageID {
			kept = append(kept, item)
		}
	}
	f.items = kept
	return nil
}

func (f *fakeStore) DeleteArticleByURL(url string) error {
	kept := f.items[:0]
	for _, item := range f.items {
		if !(item.SourceType == core.SourceArticle && item.SourceURL == url) {
			kept = append(kept, item)
		}
	}
	f.items = kept
	return nil
}

func (f *fakeStore) ExistingMessageIDs(ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, id := range ids {
		for _, item := range f.items {
			if item.ExternalMessageID == id {
				out[id] = true
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ExistingArticleURLs(urls []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, url := range urls {
		exists, _ := f.ArticleURLExists(url)
		if exists {
			out[url] = true
		}
	}
	return out, nil
}

func (f *fakeStore) ArticleURLExists(url string) (bool, error) {
	for _, item := range f.items {
		if item.SourceType == core.SourceArticle && item.SourceURL == url {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListSources(enabledOnly bool) ([]core.Source, error) {
	if !enabledOnly {
		return f.sources, nil
	}
	var enabled []core.Source
	for _, src := range f.sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}
	return enabled, nil
}

func (f *fakeStore) LatestIngestDate() (string, error) {
	latest := ""
	for _, item := range f.items {
		if item.IngestDate > latest {
			latest = item.IngestDate
		}
	}
	return latest, nil
}

func (f *fakeStore) countByType(t core.SourceType) int {
	n := 0
	for _, item := range f.items {
		if item.SourceType == t {
			n++
		}
	}
	return n
}

type fakeExtractor struct {
	results map[string]*extract.Result
	errs    map[string]error
}

func (f *fakeExtractor) Extract(_ context.Context, rawURL string) (*extract.Result, error) {
	if err := f.errs[rawURL]; err != nil {
		return nil, err
	}
	return f.results[rawURL], nil
}

func testIngestConfig() config.Ingest {
	return config.Ingest{
		LookbackHours:     24,
		NoteLookbackHours: 72,
		StalenessHours:    48,
		BatchSize:         2,
		MaxArticles:       50,
		MaxResults:        100,
		FallbackSenderCap: 5,
		DiscoveryCap:      100,
		DiscoveryMinCount: 2,
		DiscoveryFloor:    7,
	}
}

func testMailConfig() config.Mail {
	return config.Mail{Label: "newsletters", NoteTag: "[mb]"}
}

func digestEmail(id string) core.CandidateEmail {
	return core.CandidateEmail{
		ID:      id,
		From:    "News <digest@example.com>",
		Subject: "Weekly digest",
		Date:    time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC),
		HTMLBody: `<p>This week in tech.</p>` +
			`<a href="https://example.com/story">A story worth reading</a>`,
	}
}

func newTestOrchestrator(mail *fakeMail, store *fakeStore, extractor *fakeExtractor, events *[]Event) *Orchestrator {
	emit := func(e Event) { *events = append(*events, e) }
	o := New(mail, store, extractor, testMailConfig(), testIngestConfig(), emit)
	o.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	return o
}

func registeredStore() *fakeStore {
	return &fakeStore{sources: []core.Source{
		{ID: "s1", Email: "digest@example.com", Enabled: true},
	}}
}

func TestRunIsIdempotent(t *testing.T) {
	mail := &fakeMail{bySender: []core.CandidateEmail{digestEmail("m1")}}
	store := registeredStore()
	extractor := &fakeExtractor{results: map[string]*extract.Result{
		"https://example.com/story": {
			Title:       "A story",
			TextContent: "story body",
			FinalURL:    "https://example.com/story",
		},
	}}

	var events []Event
	o := newTestOrchestrator(mail, store, extractor, &events)

	if err := o.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if got := store.countByType(core.SourceNewsletter); got != 1 {
		t.Fatalf("newsletters after first run = %d, want 1", got)
	}
	if got := store.countByType(core.SourceArticle); got != 1 {
		t.Fatalf("articles after first run = %d, want 1", got)
	}

	events = nil
	if err := o.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if got := len(store.items); got != 2 {
		t.Errorf("second run inserted rows: have %d items, want 2", got)
	}

	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("last event type = %s, want complete", last.Type)
	}
	if last.Summary.Newsletters != 0 || last.Summary.Articles != 0 {
		t.Errorf("second run summary should be empty, got %+v", last.Summary)
	}
}

func TestRunForceReplacesExisting(t *testing.T) {
	mail := &fakeMail{bySender: []core.CandidateEmail{digestEmail("m1")}}
	store := registeredStore()
	extractor := &fakeExtractor{results: map[string]*extract.Result{
		"https://example.com/story": {Title: "A story", TextContent: "story body", FinalURL: "https://example.com/story"},
	}}

	var events []Event
	o := newTestOrchestrator(mail, store, extractor, &events)

	if err := o.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := o.Run(context.Background(), RunOptions{Force: true}); err != nil {
		t.Fatalf("forced run failed: %v", err)
	}

	if got := store.countByType(core.SourceNewsletter); got != 1 {
		t.Errorf("newsletters after forced run = %d, want exactly 1", got)
	}
	if got := store.countByType(core.SourceArticle); got != 1 {
		t.Errorf("articles after forced run = %d, want exactly 1", got)
	}
	last := events[len(events)-1]
	if last.Summary.Newsletters != 1 || last.Summary.Articles != 1 {
		t.Errorf("forced run should re-ingest, summary %+v", last.Summary)
	}
}

func TestResolvedURLRefiltered(t *testing.T) {
	mail := &fakeMail{bySender: []core.CandidateEmail{digestEmail("m1")}}
	store := registeredStore()
	// The tracking link resolves to a login wall.
	extractor := &fakeExtractor{results: map[string]*extract.Result{
		"https://example.com/story": {
			Title:       "Sign in",
			TextContent: "please sign in",
			FinalURL:    "https://example.com/login",
		},
	}}

	var events []Event
	o := newTestOrchestrator(mail, store, extractor, &events)
	if err := o.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := store.countByType(core.SourceArticle); got != 0 {
		t.Errorf("articles = %d, want 0 (resolved url is non-article)", got)
	}
	if !hasEvent(events, EventArticle, StatusSkipped) {
		t.Error("expected a skipped article event")
	}
	last := events[len(events)-1]
	if last.Summary.Errors != 0 {
		t.Errorf("refiltered url is a skip, not an error: %+v", last.Summary)
	}
}

func TestResolvedURLAlreadyIngested(t *testing.T) {
	mail := &fakeMail{bySender: []core.CandidateEmail{digestEmail("m1")}}
	store := registeredStore()
	// Same article already ingested under its canonical url via a
	// different tracking link.
	store.items = append(store.items, core.Item{
		ID:         "existing",
		SourceType: core.SourceArticle,
		SourceURL:  "https://example.com/canonical",
		IngestDate: "2026-08-29",
	})
	extractor := &fakeExtractor{results: map[string]*extract.Result{
		"https://example.com/story": {
			Title:       "A story",
			TextContent: "story body",
			FinalURL:    "https://example.com/canonical",
		},
	}}

	var events []Event
	o := newTestOrchestrator(mail, store, extractor, &events)
	if err := o.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := store.countByType(core.SourceArticle); got != 1 {
		t.Errorf("articles = %d, want 1 (no duplicate of canonical url)", got)
	}
}

func TestStaleArticleSkipped(t *testing.T) {
	mail := &fakeMail{bySender: []core.CandidateEmail{digestEmail("m1")}}
	store := registeredStore()
	published := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC) // well past 48h
	extractor := &fakeExtractor{results: map[string]*extract.Result{
		"https://example.com/story": {
			Title:         "Old story",
			TextContent:   "old body",
			FinalURL:      "https://example.com/story",
			PublishedDate: &published,
		},
	}}

	var events []Event
	o := newTestOrchestrator(mail, store, extractor, &events)
	if err := o.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := store.countByType(core.SourceArticle); got != 0 {
		t.Errorf("articles = %d, want 0 (stale)", got)
	}
	last := events[len(events)-1]
	if last.Summary.Errors != 0 {
		t.Errorf("staleness is a skip, not an error: %+v", last.Summary)
	}
}

func TestExtractionErrorIsPerItem(t *testing.T) {
	email := digestEmail("m1")
	email.HTMLBody = `<p>Digest.</p>` +
		`<a href="https://example.com/good">Good story</a>` +
		`<a href="https://example.com/bad">Broken story</a>`
	mail := &fakeMail{bySender: []core.CandidateEmail{email}}
	store := registeredStore()
	extractor := &fakeExtractor{
		results: map[string]*extract.Result{
			"https://example.com/good": {Title: "Good", TextContent: "good body", FinalURL: "https://example.com/good"},
		},
		errs: map[string]error{
			"https://example.com/bad": errors.New("connection refused"),
		},
	}

	var events []Event
	o := newTestOrchestrator(mail, store, extractor, &events)
	if err := o.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := store.countByType(core.SourceArticle); got != 1 {
		t.Errorf("articles = %d, want 1 (good one survives the bad one)", got)
	}
	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("run must complete despite per-item errors, last event %s", last.Type)
	}
	if last.Summary.Errors != 1 {
		t.Errorf("summary errors = %d, want 1", last.Summary.Errors)
	}
}

func TestFallbackQueriesZeroMessageSenders(t *testing.T) {
	quiet := core.CandidateEmail{
		ID:       "q1",
		From:     "Quiet <quiet@example.com>",
		Subject:  "Rare letter",
		Date:     time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC),
		HTMLBody: "<p>hello</p>",
	}
	mail := &fakeMail{
		bySender:     []core.CandidateEmail{digestEmail("m1")},
		singleSender: map[string][]core.CandidateEmail{"quiet@example.com": {quiet}},
	}
	store := registeredStore()
	store.sources = append(store.sources, core.Source{ID: "s2", Email: "quiet@example.com", Enabled: true})

	var events []Event
	o := newTestOrchestrator(mail, store, &fakeExtractor{}, &events)
	if err := o.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(mail.singleCalls) != 1 || mail.singleCalls[0] != "quiet@example.com" {
		t.Errorf("expected one fallback query for quiet sender, got %v", mail.singleCalls)
	}
	if !hasEventType(events, EventUnfetchedEmails) {
		t.Error("expected an unfetched_emails event")
	}
	if got := store.countByType(core.SourceNewsletter); got != 2 {
		t.Errorf("newsletters = %d, want 2 (fallback message ingested)", got)
	}
}

func TestTaggedNotesImported(t *testing.T) {
	mail := &fakeMail{
		bySender: []core.CandidateEmail{digestEmail("m1")},
		notes: []core.CandidateEmail{
			{
				ID:       "n1",
				From:     "Me <me@example.com>",
				Subject:  "[mb] Thoughts on caching",
				Date:     time.Date(2026, 8, 29, 20, 0, 0, 0, time.UTC),
				HTMLBody: "<p>Write-through is simpler.</p>",
			},
			{
				ID:       "n2",
				From:     "Me <me@example.com>",
				Subject:  "[mb] empty",
				Date:     time.Date(2026, 8, 29, 21, 0, 0, 0, time.UTC),
				HTMLBody: "<p>   </p>",
			},
		},
	}
	store := registeredStore()

	var events []Event
	o := newTestOrchestrator(mail, store, &fakeExtractor{}, &events)
	if err := o.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := store.countByType(core.SourceEmailNote); got != 1 {
		t.Fatalf("notes = %d, want 1 (empty note skipped)", got)
	}
	var note core.Item
	for _, item := range store.items {
		if item.SourceType == core.SourceEmailNote {
			note = item
		}
	}
	if note.Title != "Thoughts on caching" {
		t.Errorf("note title = %q, want tag stripped", note.Title)
	}
	if note.Content != "Write-through is simpler." {
		t.Errorf("note content = %q", note.Content)
	}
}

func TestNoSourcesIsFatal(t *testing.T) {
	var events []Event
	o := newTestOrchestrator(&fakeMail{}, &fakeStore{}, &fakeExtractor{}, &events)

	if err := o.Run(context.Background(), RunOptions{}); err == nil {
		t.Fatal("expected fatal error with no registered sources")
	}
	if len(events) == 0 || events[len(events)-1].Type != EventError {
		t.Error("expected a terminal error event")
	}
}

func TestHistoricalModeUsesFullDay(t *testing.T) {
	mail := &fakeMail{bySender: []core.CandidateEmail{digestEmail("m1")}}
	store := registeredStore()

	var events []Event
	o := newTestOrchestrator(mail, store, &fakeExtractor{}, &events)
	if err := o.Run(context.Background(), RunOptions{TargetDate: "2026-08-15"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	wantAfter := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	if !mail.lastWindow.After.Equal(wantAfter) {
		t.Errorf("window.After = %v, want %v", mail.lastWindow.After, wantAfter)
	}
	if mail.lastWindow.Before == nil || !mail.lastWindow.Before.Equal(wantAfter.Add(24*time.Hour)) {
		t.Errorf("window.Before = %v, want next midnight", mail.lastWindow.Before)
	}

	// All items land in the requested day bucket regardless of their
	// own timestamps.
	for _, item := range store.items {
		if item.IngestDate != "2026-08-15" {
			t.Errorf("item ingest date = %s, want 2026-08-15", item.IngestDate)
		}
	}
}

func TestDiscoveryFiltersRegisteredSenders(t *testing.T) {
	mail := &fakeMail{
		bySender: []core.CandidateEmail{digestEmail("m1")},
		discovered: []core.DiscoveredSender{
			{Email: "digest@example.com", Count: 9},
			{Email: "fresh@example.com", Count: 4},
		},
	}
	store := registeredStore()

	var events []Event
	o := newTestOrchestrator(mail, store, &fakeExtractor{}, &events)
	if err := o.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	last := events[len(events)-1]
	if len(last.DiscoveredSenders) != 1 || last.DiscoveredSenders[0].Email != "fresh@example.com" {
		t.Errorf("discovered = %+v, want only fresh@example.com", last.DiscoveredSenders)
	}
}

func TestDiscoveryFailureDoesNotFailRun(t *testing.T) {
	mail := &fakeMail{
		bySender: []core.CandidateEmail{digestEmail("m1")},
		scanErr:  fmt.Errorf("quota exceeded"),
	}
	store := registeredStore()

	var events []Event
	o := newTestOrchestrator(mail, store, &fakeExtractor{}, &events)
	if err := o.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("run should succeed despite discovery failure: %v", err)
	}

	if !hasEventType(events, EventError) {
		t.Error("expected one error event for the failed scan")
	}
	if events[len(events)-1].Type != EventComplete {
		t.Error("run must still terminate with complete")
	}
}

func TestCancelledRunDoesNotComplete(t *testing.T) {
	mail := &fakeMail{bySender: []core.CandidateEmail{digestEmail("m1")}}
	store := registeredStore()
	extractor := &fakeExtractor{}

	var events []Event
	o := newTestOrchestrator(mail, store, extractor, &events)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := o.Run(ctx, RunOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() on cancelled context = %v, want context.Canceled", err)
	}
	if hasEventType(events, EventComplete) {
		t.Error("cancelled run emitted a complete event")
	}
	if !hasEvent(events, EventError, StatusError) {
		t.Error("cancelled run emitted no error event")
	}
	if got := store.countByType(core.SourceNewsletter); got != 0 {
		t.Errorf("cancelled run stored %d newsletters, want 0", got)
	}
}

func hasEvent(events []Event, eventType EventType, status ItemStatus) bool {
	for _, e := range events {
		if e.Type == eventType && e.Status == status {
			return true
		}
	}
	return false
}

func hasEventType(events []Event, eventType EventType) bool {
	for _, e := range events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}
