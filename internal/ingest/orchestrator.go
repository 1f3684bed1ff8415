// Package ingest runs the newsletter ingestion pipeline: fetch mail,
// classify it, pull articles out of digests, and write everything to
// the repository exactly once.
package ingest

import (
	"context"
	"fmt"
	netmail "net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailbrief/internal/classify"
	"mailbrief/internal/config"
	"mailbrief/internal/core"
	"mailbrief/internal/dedup"
	"mailbrief/internal/extract"
	"mailbrief/internal/htmltext"
	"mailbrief/internal/logger"
)

// MailSource is the mail provider the orchestrator fetches from.
type MailSource interface {
	FetchBySenders(ctx context.Context, senders []string, maxResults int, window core.FetchWindow) ([]core.CandidateEmail, error)
	FetchByLabel(ctx context.Context, label string, maxResults int, window core.FetchWindow) ([]core.CandidateEmail, error)
	FetchSingleSender(ctx context.Context, sender string, maxResults int, window core.FetchWindow) ([]core.CandidateEmail, error)
	FetchBySubjectTag(ctx context.Context, senderFilter, tag string, maxResults, hoursBack int) ([]core.CandidateEmail, error)
	ScanUniqueSenders(ctx context.Context, after time.Time, minCount, messageCap int) ([]core.DiscoveredSender, error)
}

// Store is the slice of the repository the orchestrator needs.
type Store interface {
	dedup.Store
	InsertItem(item core.Item) error
	DeleteItemByMessageID(messageID string) error
	DeleteArticleByURL(url string) error
	ArticleURLExists(url string) (bool, error)
	ListSources(enabledOnly bool) ([]core.Source, error)
	LatestIngestDate() (string, error)
}

// RunOptions selects the window and dedup behavior for one run.
type RunOptions struct {
	// TargetDate, when set (YYYY-MM-DD), ingests that full UTC calendar
	// day. When empty the run uses the rolling lookback window.
	TargetDate string
	// Force re-ingests items that already exist (delete then reinsert).
	Force bool
}

// Orchestrator drives one ingestion run through its phases.
type Orchestrator struct {
	mail      MailSource
	store     Store
	extractor extract.Extractor
	mailCfg   config.Mail
	cfg       config.Ingest
	emit      EmitFunc

	now func() time.Time
}

// New creates an orchestrator. onEvent may be nil when no caller wants
// progress.
func New(mail MailSource, store Store, extractor extract.Extractor, mailCfg config.Mail, cfg config.Ingest, onEvent EmitFunc) *Orchestrator {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Orchestrator{
		mail:      mail,
		store:     store,
		extractor: extractor,
		mailCfg:   mailCfg,
		cfg:       cfg,
		emit:      onEvent,
		now:       time.Now,
	}
}

// runState carries the counters and accumulators of a single run.
type runState struct {
	opts       RunOptions
	window     core.FetchWindow
	ingestDate string // fixed day bucket in historical mode, empty in rolling mode

	candidates []core.ArticleLinkCandidate
	discovered []core.DiscoveredSender
	summary    Summary
}

// Run executes all phases. Per-item failures are reported as events and
// never abort the run; only setup failures return an error, after a
// terminal error event.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) error {
	state, err := o.setup(opts)
	if err != nil {
		o.emit(Event{Type: EventError, Phase: PhaseFetching, Status: StatusError, Detail: err.Error()})
		return err
	}

	o.emit(Event{Type: EventStart, Phase: PhaseFetching})

	sources, err := o.store.ListSources(true)
	if err != nil {
		err = fmt.Errorf("failed to list sources: %w", err)
		o.emit(Event{Type: EventError, Phase: PhaseFetching, Status: StatusError, Detail: err.Error()})
		return err
	}
	if len(sources) == 0 {
		err = fmt.Errorf("no enabled sources registered")
		o.emit(Event{Type: EventError, Phase: PhaseFetching, Status: StatusError, Detail: err.Error()})
		return err
	}

	emails := o.fetchPhase(ctx, state, sources)
	o.processNewsletters(ctx, state, emails)
	o.importTaggedNotes(ctx, state)
	o.extractArticles(ctx, state)
	o.scanForNewSources(ctx, state)

	// A cancelled run stopped partway; its summary must not read as a
	// finished one.
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("run interrupted: %w", err)
		o.emit(Event{Type: EventError, Phase: PhaseDone, Status: StatusError, Detail: err.Error()})
		return err
	}

	o.emit(Event{
		Type:              EventComplete,
		Phase:             PhaseDone,
		Summary:           &state.summary,
		DiscoveredSenders: state.discovered,
	})
	return nil
}

// setup validates options and computes the fetch window.
func (o *Orchestrator) setup(opts RunOptions) (*runState, error) {
	state := &runState{opts: opts}

	if opts.TargetDate != "" {
		day, err := time.Parse("2006-01-02", opts.TargetDate)
		if err != nil {
			return nil, fmt.Errorf("invalid target date %q: %w", opts.TargetDate, err)
		}
		start := day.UTC()
		end := start.Add(24 * time.Hour)
		state.window = core.FetchWindow{After: start, Before: &end}
		state.ingestDate = opts.TargetDate
		return state, nil
	}

	// Rolling mode uses a fixed lookback rather than a last-success
	// watermark; overlap between runs is expected and harmless because
	// identity rests on the dedup keys, not on window precision.
	state.window = core.FetchWindow{
		After: o.now().Add(-time.Duration(o.cfg.LookbackHours) * time.Hour),
	}
	return state, nil
}

// dayBucket returns the display day for an item received at ts.
func (s *runState) dayBucket(ts time.Time) string {
	if s.ingestDate != "" {
		return s.ingestDate
	}
	return core.Day(ts)
}

// fetchPhase gathers candidate emails from every strategy and merges
// them by provider message id.
func (o *Orchestrator) fetchPhase(ctx context.Context, state *runState, sources []core.Source) []core.CandidateEmail {
	senders := make([]string, len(sources))
	for i, src := range sources {
		senders[i] = src.Email
	}

	var merged []core.CandidateEmail
	seen := make(map[string]bool)
	add := func(emails []core.CandidateEmail) {
		for _, email := range emails {
			if email.ID == "" || seen[email.ID] {
				continue
			}
			seen[email.ID] = true
			merged = append(merged, email)
		}
	}

	bySender, err := o.mail.FetchBySenders(ctx, senders, o.cfg.MaxResults, state.window)
	if err != nil {
		state.summary.Errors++
		o.emit(Event{Type: EventError, Phase: PhaseFetching, Status: StatusError, Detail: fmt.Sprintf("sender fetch failed: %v", err)})
	}
	add(bySender)

	if o.mailCfg.Label != "" {
		byLabel, err := o.mail.FetchByLabel(ctx, o.mailCfg.Label, o.cfg.MaxResults, state.window)
		if err != nil {
			state.summary.Errors++
			o.emit(Event{Type: EventError, Phase: PhaseFetching, Status: StatusError, Detail: fmt.Sprintf("label fetch failed: %v", err)})
		}
		add(byLabel)
	}

	// Batched sender queries can silently omit low-volume senders, so
	// any sender with zero merged messages gets one individual query,
	// capped to keep the extra call count bounded.
	unfetched := zeroMessageSenders(senders, merged)
	if len(unfetched) > 0 {
		o.emit(Event{
			Type:   EventUnfetchedEmails,
			Phase:  PhaseFetching,
			Total:  len(unfetched),
			Detail: strings.Join(unfetched, ", "),
		})
		if len(unfetched) > o.cfg.FallbackSenderCap {
			unfetched = unfetched[:o.cfg.FallbackSenderCap]
		}
		for _, sender := range unfetched {
			single, err := o.mail.FetchSingleSender(ctx, sender, o.cfg.MaxResults, state.window)
			if err != nil {
				state.summary.Errors++
				o.emit(Event{Type: EventError, Phase: PhaseFetching, Status: StatusError, Detail: fmt.Sprintf("fallback fetch for %s failed: %v", sender, err)})
				continue
			}
			add(single)
		}
	}

	logger.Info("fetch phase complete", "messages", len(merged), "unfetched_senders", len(unfetched))
	return merged
}

// zeroMessageSenders returns the registered senders with no message in
// the merged set.
func zeroMessageSenders(senders []string, merged []core.CandidateEmail) []string {
	got := make(map[string]bool)
	for _, email := range merged {
		got[senderAddress(email.From)] = true
	}
	var missing []string
	for _, sender := range senders {
		if !got[strings.ToLower(sender)] {
			missing = append(missing, sender)
		}
	}
	return missing
}

// processNewsletters classifies and stores every fetched message, and
// accumulates article link candidates from digests.
func (o *Orchestrator) processNewsletters(ctx context.Context, state *runState, emails []core.CandidateEmail) {
	ids := make([]string, len(emails))
	for i, email := range emails {
		ids[i] = email.ID
	}

	batch, err := dedup.New(o.store, state.opts.Force).ForMessageIDs(ids)
	if err != nil {
		state.summary.Errors++
		o.emit(Event{Type: EventError, Phase: PhaseProcessingNewsletters, Status: StatusError, Detail: err.Error()})
		return
	}

	total := len(emails)
	for i, email := range emails {
		if ctx.Err() != nil {
			return
		}
		event := Event{Type: EventNewsletter, Phase: PhaseProcessingNewsletters, Current: i + 1, Total: total, Title: email.Subject}

		decision := batch.Decide(email.ID)
		if decision == dedup.Skip {
			event.Status = StatusSkipped
			o.emit(event)
			continue
		}
		if decision == dedup.Replace {
			if err := o.store.DeleteItemByMessageID(email.ID); err != nil {
				state.summary.Errors++
				event.Status = StatusError
				event.Detail = err.Error()
				o.emit(event)
				continue
			}
		}

		plainText := email.TextBody
		if email.HTMLBody != "" {
			plainText = htmltext.ToPlainText(email.HTMLBody)
		}
		sender := senderAddress(email.From)
		linkCount := classify.CountRawArticleLinks(email.HTMLBody)
		fullContent := classify.IsFullContentNewsletter(plainText, linkCount, sender)

		item := core.Item{
			ID:                uuid.NewString(),
			SourceType:        core.SourceNewsletter,
			SourceEmail:       sender,
			Title:             email.Subject,
			Content:           plainText,
			RawHTML:           email.HTMLBody,
			IngestDate:        state.dayBucket(email.Date),
			ReceivedAt:        email.Date,
			ExternalMessageID: email.ID,
		}
		if err := o.store.InsertItem(item); err != nil {
			state.summary.Errors++
			event.Status = StatusError
			event.Detail = err.Error()
			o.emit(event)
			continue
		}
		batch.MarkWritten(email.ID)
		state.summary.Newsletters++
		state.summary.TotalCharacters += len(plainText)

		// Full-content newsletters are the article; only digests
		// contribute links to the extraction phase.
		if !fullContent && email.HTMLBody != "" {
			links, err := classify.ExtractArticleLinks(email.HTMLBody, email.Subject, sender)
			if err != nil {
				logger.Warn("link extraction failed", "subject", email.Subject, "error", err.Error())
			} else {
				state.candidates = append(state.candidates, links...)
			}
		}

		event.Status = StatusSuccess
		o.emit(event)
	}
}

// importTaggedNotes pulls subject-tagged messages from any sender and
// stores them as email notes.
func (o *Orchestrator) importTaggedNotes(ctx context.Context, state *runState) {
	if o.mailCfg.NoteTag == "" {
		return
	}

	notes, err := o.mail.FetchBySubjectTag(ctx, "", o.mailCfg.NoteTag, o.cfg.MaxResults, o.cfg.NoteLookbackHours)
	if err != nil {
		state.summary.Errors++
		o.emit(Event{Type: EventError, Phase: PhaseImportingTaggedNotes, Status: StatusError, Detail: fmt.Sprintf("note fetch failed: %v", err)})
		return
	}

	ids := make([]string, len(notes))
	for i, note := range notes {
		ids[i] = note.ID
	}
	batch, err := dedup.New(o.store, state.opts.Force).ForMessageIDs(ids)
	if err != nil {
		state.summary.Errors++
		o.emit(Event{Type: EventError, Phase: PhaseImportingTaggedNotes, Status: StatusError, Detail: err.Error()})
		return
	}

	total := len(notes)
	for i, note := range notes {
		if ctx.Err() != nil {
			return
		}
		title := strings.TrimSpace(strings.ReplaceAll(note.Subject, o.mailCfg.NoteTag, ""))
		event := Event{Type: EventEmailNote, Phase: PhaseImportingTaggedNotes, Current: i + 1, Total: total, Title: title}

		decision := batch.Decide(note.ID)
		if decision == dedup.Skip {
			event.Status = StatusSkipped
			o.emit(event)
			continue
		}

		content := note.TextBody
		if note.HTMLBody != "" {
			content = htmltext.ToPlainText(note.HTMLBody)
		}
		content = strings.TrimSpace(content)
		if content == "" {
			event.Status = StatusSkipped
			event.Detail = "empty after cleaning"
			o.emit(event)
			continue
		}

		if decision == dedup.Replace {
			if err := o.store.DeleteItemByMessageID(note.ID); err != nil {
				state.summary.Errors++
				event.Status = StatusError
				event.Detail = err.Error()
				o.emit(event)
				continue
			}
		}

		item := core.Item{
			ID:                uuid.NewString(),
			SourceType:        core.SourceEmailNote,
			SourceEmail:       senderAddress(note.From),
			Title:             title,
			Content:           content,
			IngestDate:        state.dayBucket(note.Date),
			ReceivedAt:        note.Date,
			ExternalMessageID: note.ID,
		}
		if err := o.store.InsertItem(item); err != nil {
			state.summary.Errors++
			event.Status = StatusError
			event.Detail = err.Error()
			o.emit(event)
			continue
		}
		batch.MarkWritten(note.ID)
		state.summary.Notes++
		state.summary.TotalCharacters += len(content)
		event.Status = StatusSuccess
		o.emit(event)
	}
}

// extractionOutcome is the result of one parallel extraction slot.
type extractionOutcome struct {
	candidate core.ArticleLinkCandidate
	skipped   bool
	result    *extract.Result
	err       error
}

// extractArticles resolves and extracts the accumulated candidate links
// in fixed-size parallel batches.
func (o *Orchestrator) extractArticles(ctx context.Context, state *runState) {
	candidates := state.candidates
	if len(candidates) > o.cfg.MaxArticles {
		logger.Warn("candidate links over cap, truncating", "candidates", len(candidates), "cap", o.cfg.MaxArticles)
		candidates = candidates[:o.cfg.MaxArticles]
	}
	if len(candidates) == 0 {
		return
	}

	urls := make([]string, len(candidates))
	for i, candidate := range candidates {
		urls[i] = candidate.URL
	}
	batch, err := dedup.New(o.store, state.opts.Force).ForArticleURLs(urls)
	if err != nil {
		state.summary.Errors++
		o.emit(Event{Type: EventError, Phase: PhaseExtractingArticles, Status: StatusError, Detail: err.Error()})
		return
	}

	total := len(candidates)
	processed := 0
	batchSize := o.cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	for start := 0; start < len(candidates); start += batchSize {
		if ctx.Err() != nil {
			return
		}
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]
		outcomes := make([]extractionOutcome, len(chunk))

		// Dedup decisions are taken before extraction so already-known
		// raw URLs never cost a network fetch.
		var wg sync.WaitGroup
		for i, candidate := range chunk {
			outcomes[i].candidate = candidate
			if batch.Decide(candidate.URL) == dedup.Skip {
				outcomes[i].skipped = true
				continue
			}
			wg.Add(1)
			go func(slot *extractionOutcome) {
				defer wg.Done()
				slot.result, slot.err = o.extractor.Extract(ctx, slot.candidate.URL)
			}(&outcomes[i])
		}
		wg.Wait()

		for _, outcome := range outcomes {
			processed++
			o.finishExtraction(state, batch, outcome, processed, total)
		}
	}
}

// finishExtraction applies filtering, dedup, and persistence to one
// extraction outcome and emits its event. Runs sequentially so events
// stay ordered and dedup bookkeeping stays single-threaded.
func (o *Orchestrator) finishExtraction(state *runState, batch *dedup.Batch, outcome extractionOutcome, current, total int) {
	candidate := outcome.candidate
	event := Event{Type: EventArticle, Phase: PhaseExtractingArticles, Current: current, Total: total, Title: candidate.Text, Detail: candidate.URL}

	if outcome.skipped {
		event.Status = StatusSkipped
		o.emit(event)
		return
	}
	if outcome.err != nil {
		state.summary.Errors++
		event.Status = StatusError
		event.Detail = outcome.err.Error()
		o.emit(event)
		return
	}
	result := outcome.result
	if result == nil {
		// Not an article page (binary content, empty body).
		event.Status = StatusSkipped
		o.emit(event)
		return
	}

	key := candidate.URL
	if result.FinalURL != "" && result.FinalURL != candidate.URL {
		// A tracking link resolved somewhere new: the filter and the
		// existence check both run again against the final URL.
		if !classify.IsLikelyArticleURL(result.FinalURL) {
			event.Status = StatusSkipped
			event.Detail = "resolved to non-article url"
			o.emit(event)
			return
		}
		exists, err := o.store.ArticleURLExists(result.FinalURL)
		if err != nil {
			state.summary.Errors++
			event.Status = StatusError
			event.Detail = err.Error()
			o.emit(event)
			return
		}
		batch.Observe(result.FinalURL, exists)
		key = result.FinalURL
		if batch.Decide(key) == dedup.Skip {
			event.Status = StatusSkipped
			o.emit(event)
			return
		}
	}

	if result.PublishedDate != nil {
		staleness := time.Duration(o.cfg.StalenessHours) * time.Hour
		if o.now().Sub(*result.PublishedDate) > staleness {
			event.Status = StatusSkipped
			event.Detail = "stale article"
			o.emit(event)
			return
		}
	}

	if batch.Decide(key) == dedup.Replace {
		if err := o.store.DeleteArticleByURL(key); err != nil {
			state.summary.Errors++
			event.Status = StatusError
			event.Detail = err.Error()
			o.emit(event)
			return
		}
	}

	title := result.Title
	if title == "" {
		title = candidate.Text
	}
	now := o.now()
	item := core.Item{
		ID:          uuid.NewString(),
		SourceType:  core.SourceArticle,
		SourceEmail: candidate.SourceEmail,
		SourceURL:   key,
		Title:       title,
		Content:     result.TextContent,
		IngestDate:  state.dayBucket(now),
		ReceivedAt:  now,
	}
	if err := o.store.InsertItem(item); err != nil {
		state.summary.Errors++
		event.Status = StatusError
		event.Detail = err.Error()
		o.emit(event)
		return
	}
	batch.MarkWritten(candidate.URL)
	batch.MarkWritten(key)
	state.summary.Articles++
	state.summary.TotalCharacters += len(result.TextContent)
	event.Status = StatusSuccess
	event.Title = title
	o.emit(event)
}

// scanForNewSources surfaces unregistered senders for human review.
// Best effort: any failure is one error event and the run stays green.
func (o *Orchestrator) scanForNewSources(ctx context.Context, state *runState) {
	start := o.now().AddDate(0, 0, -o.cfg.DiscoveryFloor)
	if latest, err := o.store.LatestIngestDate(); err == nil && latest != "" {
		if day, err := time.Parse("2006-01-02", latest); err == nil && day.After(start) {
			start = day
		}
	}

	discovered, err := o.mail.ScanUniqueSenders(ctx, start, o.cfg.DiscoveryMinCount, o.cfg.DiscoveryCap)
	if err != nil {
		o.emit(Event{Type: EventError, Phase: PhaseScanningForNewSources, Status: StatusError, Detail: fmt.Sprintf("discovery scan failed: %v", err)})
		return
	}

	// Registered senders, enabled or not, are never rediscovered.
	known := make(map[string]bool)
	all, err := o.store.ListSources(false)
	if err == nil {
		for _, src := range all {
			known[strings.ToLower(src.Email)] = true
		}
	}
	for _, excluded := range o.mailCfg.ExcludedSenders {
		known[strings.ToLower(excluded)] = true
	}

	for _, sender := range discovered {
		if !known[strings.ToLower(sender.Email)] {
			state.discovered = append(state.discovered, sender)
		}
	}
	logger.Info("discovery scan complete", "unregistered_senders", len(state.discovered))
}

// senderAddress extracts the lowercased address from a From header.
func senderAddress(from string) string {
	addr, err := netmail.ParseAddress(from)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(from))
	}
	return strings.ToLower(addr.Address)
}
