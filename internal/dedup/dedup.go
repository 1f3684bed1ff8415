// Package dedup decides, for every incoming candidate item, whether it is
// new, already ingested, or due for a forced re-ingest.
package dedup

import "fmt"

// Decision is the outcome of a dedup check for one candidate.
type Decision int

const (
	Insert  Decision = iota // No match: write a new row
	Skip                    // Already ingested and not forced
	Replace                 // Already ingested and forced: delete then reinsert
)

func (d Decision) String() string {
	switch d {
	case Insert:
		return "insert"
	case Skip:
		return "skip"
	case Replace:
		return "replace"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Store is the slice of the repository the dedup engine needs.
type Store interface {
	ExistingMessageIDs(ids []string) (map[string]bool, error)
	ExistingArticleURLs(urls []string) (map[string]bool, error)
}

// Deduper produces per-run Batches. Each batch issues exactly one
// existence query for all of its keys and answers every subsequent
// per-item check from memory; per-item queries caused request-volume
// timeouts under constrained execution budgets.
type Deduper struct {
	store Store
	force bool
}

// New creates a Deduper. With force set, existing items are replaced
// instead of skipped.
func New(store Store, force bool) *Deduper {
	return &Deduper{store: store, force: force}
}

// ForMessageIDs builds a batch keyed by provider message id. Message id
// is the sole identity for mail-derived items; day buckets never
// participate in dedup decisions.
func (d *Deduper) ForMessageIDs(ids []string) (*Batch, error) {
	existing, err := d.store.ExistingMessageIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("batched message-id lookup: %w", err)
	}
	return &Batch{existing: existing, inserted: make(map[string]bool), force: d.force}, nil
}

// ForArticleURLs builds a batch keyed by article URL. This runs as a
// second pass once extraction has produced resolved URLs.
func (d *Deduper) ForArticleURLs(urls []string) (*Batch, error) {
	existing, err := d.store.ExistingArticleURLs(urls)
	if err != nil {
		return nil, fmt.Errorf("batched article-url lookup: %w", err)
	}
	return &Batch{existing: existing, inserted: make(map[string]bool), force: d.force}, nil
}

// Batch answers dedup decisions for one key space within one run.
type Batch struct {
	existing map[string]bool
	inserted map[string]bool
	force    bool
}

// Decide returns the action for a key. A key already written during this
// run is always skipped, even under force: force re-ingests a stored
// item once, it never duplicates within a run.
func (b *Batch) Decide(key string) Decision {
	if b.inserted[key] {
		return Skip
	}
	if !b.existing[key] {
		return Insert
	}
	if b.force {
		return Replace
	}
	return Skip
}

// MarkWritten records that a key was inserted (or replaced) during this
// run so repeated occurrences are skipped.
func (b *Batch) MarkWritten(key string) {
	b.inserted[key] = true
}

// Observe adds a key discovered mid-run (a resolved URL differing from
// the raw one) to the existence set when present in the store.
func (b *Batch) Observe(key string, exists bool) {
	if exists {
		b.existing[key] = true
	}
}
