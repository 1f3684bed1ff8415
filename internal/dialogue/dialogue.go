// Package dialogue generates the daily host/guest conversation over the
// ingested items, evolving the personality state after each episode.
package dialogue

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"mailbrief/internal/core"
	"mailbrief/internal/persona"
)

const (
	// maxItemChars bounds how much of each item feeds the prompt.
	maxItemChars = 1200
	// maxPromptItems bounds how many items feed the prompt.
	maxPromptItems = 20
)

// Generator produces streamed text for a prompt.
type Generator interface {
	StreamText(ctx context.Context, prompt string, onChunk func(chunk string)) (string, error)
}

// Store is the repository slice the dialogue service reads from.
type Store interface {
	ListItemsByIngestDate(date string) ([]core.Item, error)
	LatestIngestDate() (string, error)
}

// Service generates episodes. Callers must not run two generations for
// the same locale concurrently; personality state has no row locking.
type Service struct {
	generator Generator
	engine    *persona.Engine
	store     Store

	newRand func() *rand.Rand
}

// New creates a dialogue service.
func New(generator Generator, engine *persona.Engine, store Store) *Service {
	return &Service{
		generator: generator,
		engine:    engine,
		store:     store,
		newRand:   func() *rand.Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) },
	}
}

// GenerateDaily builds an episode for the given day (latest ingested day
// when date is empty), streaming chunks through onChunk, and advances
// the locale's personality state from the finished text.
func (s *Service) GenerateDaily(ctx context.Context, date, locale string, onChunk func(chunk string)) (string, error) {
	if date == "" {
		latest, err := s.store.LatestIngestDate()
		if err != nil {
			return "", fmt.Errorf("failed to find latest ingest date: %w", err)
		}
		if latest == "" {
			return "", fmt.Errorf("nothing ingested yet")
		}
		date = latest
	}

	items, err := s.store.ListItemsByIngestDate(date)
	if err != nil {
		return "", fmt.Errorf("failed to load items for %s: %w", date, err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("no items ingested for %s", date)
	}

	state, err := s.engine.Load(locale)
	if err != nil {
		return "", err
	}

	text, err := s.generator.StreamText(ctx, buildPrompt(date, items, state), onChunk)
	if err != nil {
		return "", fmt.Errorf("dialogue generation failed: %w", err)
	}

	if _, err := s.engine.AdvanceState(state, text, s.newRand()); err != nil {
		return "", err
	}
	return text, nil
}

// buildPrompt renders the day's items and the current personality into
// one generation prompt.
func buildPrompt(date string, items []core.Item, state persona.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write today's (%s) two-person audio digest: a host and an AI guest discussing the stories below.\n\n", date)

	b.WriteString("CHARACTERS\n")
	hostName := state.HostName
	if hostName == "" {
		hostName = "the host (no nickname chosen yet; the guest may coin one)"
	}
	fmt.Fprintf(&b, "Host: %s. Guest: an AI co-host. Relationship stage: %s (episode %d).\n", hostName, state.Phase, state.EpisodeCount+1)
	d := state.Dimensions
	fmt.Fprintf(&b, "Host tone: warmth %.2f, humor %.2f, formality %.2f, self-awareness %.2f.\n", d.Warmth, d.Humor, d.Formality, d.SelfAwareness)
	fmt.Fprintf(&b, "Guest tone: confidence %.2f, playfulness %.2f, directness %.2f, empathy %.2f.\n", d.Confidence, d.Playfulness, d.Directness, d.Empathy)
	fmt.Fprintf(&b, "Between them: comfort %.2f, flirtation %.2f.\n\n", d.MutualComfort, d.FlirtationTendency)

	if len(state.Moments) > 0 {
		b.WriteString("SHARED HISTORY (callbacks welcome, do not overuse)\n")
		for _, moment := range state.Moments {
			fmt.Fprintf(&b, "- episode %d [%s]: %s\n", moment.Episode, moment.Type, moment.Text)
		}
		b.WriteString("\n")
	}

	b.WriteString("TODAY'S STORIES\n")
	count := len(items)
	if count > maxPromptItems {
		count = maxPromptItems
	}
	for i := 0; i < count; i++ {
		item := items[i]
		content := item.Content
		if len(content) > maxItemChars {
			content = content[:maxItemChars]
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n%s\n\n", i+1, item.SourceType, item.Title, content)
	}

	b.WriteString(`FORMAT
Alternate HOST: and GUEST: lines. After the script, append exactly:

MEMORABLE_MOMENTS:
[type] "short description"

with up to three lines, types from {joke, slip_up, ai_reflection, personal, host_name},
at most one line per type, or the single word none.
`)

	return b.String()
}
