package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mailbrief/internal/extract"
	"mailbrief/internal/ingest"
	"mailbrief/internal/tui"
)

// NewIngestCmd creates the ingest command.
func NewIngestCmd() *cobra.Command {
	var (
		targetDate string
		force      bool
		plain      bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass over the mailbox",
		Long: `Fetch newsletters from registered senders and the configured label,
import subject-tagged notes, extract articles from digest issues, and
scan for unregistered senders.

By default the last lookback window is ingested (rolling mode). With
--date a full UTC calendar day is re-ingested instead.

Examples:
  # Ingest the rolling window
  mailbrief ingest

  # Re-import a specific day, replacing existing items
  mailbrief ingest --date 2026-08-15 --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), targetDate, force, plain)
		},
	}

	cmd.Flags().StringVar(&targetDate, "date", "", "Ingest a full UTC day (YYYY-MM-DD) instead of the rolling window")
	cmd.Flags().BoolVar(&force, "force", false, "Re-ingest items that already exist")
	cmd.Flags().BoolVar(&plain, "plain", false, "Log progress as plain lines instead of the interactive display")

	return cmd
}

func runIngest(ctx context.Context, targetDate string, force, plain bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	src, err := newMailSource(ctx)
	if err != nil {
		return err
	}

	opts := ingest.RunOptions{TargetDate: targetDate, Force: force}

	if plain {
		orch := ingest.New(src, st, extract.NewReadabilityExtractor(), cfg.Mail, cfg.Ingest, printEvent)
		return orch.Run(ctx, opts)
	}

	return runWithEvents(ctx, func(ctx context.Context, emit ingest.EmitFunc) error {
		orch := ingest.New(src, st, extract.NewReadabilityExtractor(), cfg.Mail, cfg.Ingest, emit)
		return orch.Run(ctx, opts)
	}, tui.Run)
}

// runWithEvents runs the ingestion in a goroutine and feeds its progress
// events to consume. When the consumer returns early (the user quit the
// display), the run is cancelled and the channel drained so the producer
// never blocks on an abandoned buffer.
func runWithEvents(ctx context.Context, run func(context.Context, ingest.EmitFunc) error, consume func(<-chan ingest.Event) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan ingest.Event, 64)
	var runErr error
	go func() {
		defer close(events)
		runErr = run(ctx, func(e ingest.Event) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		})
	}()

	consumeErr := consume(events)
	cancel()
	// Draining until close also orders the runErr write before the read.
	for range events {
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return consumeErr
}

// printEvent is the --plain progress sink.
func printEvent(e ingest.Event) {
	switch e.Type {
	case ingest.EventStart:
		fmt.Println("starting ingest")
	case ingest.EventComplete:
		if e.Summary != nil {
			fmt.Printf("done: %d newsletters, %d articles, %d notes, %d errors\n",
				e.Summary.Newsletters, e.Summary.Articles, e.Summary.Notes, e.Summary.Errors)
		}
		for _, sender := range e.DiscoveredSenders {
			fmt.Printf("discovered sender: %s (%d messages)\n", sender.Email, sender.Count)
		}
	case ingest.EventError:
		fmt.Fprintf(os.Stderr, "error [%s]: %s\n", e.Phase, e.Detail)
	case ingest.EventUnfetchedEmails:
		fmt.Printf("%d senders had no messages in the batched fetch, querying individually\n", e.Total)
	default:
		fmt.Printf("[%s] %s %s\n", e.Phase, e.Status, e.Title)
	}
}
