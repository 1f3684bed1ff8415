// Package handlers wires the CLI commands to the application services.
package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mailbrief/internal/config"
	"mailbrief/internal/logger"
	"mailbrief/internal/mail"
	"mailbrief/internal/store"
)

var cfg *config.Config

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mailbrief",
		Short: "mailbrief ingests newsletters into a daily digest repository",
		Long: `mailbrief fetches newsletters from your mailbox, classifies them,
pulls individual articles out of digest issues, and stores everything
deduplicated by message id and article URL. The ingested items feed a
generated daily dialogue.`,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(NewIngestCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewSourcesCmd())
	rootCmd.AddCommand(NewDialogueCmd())
	rootCmd.AddCommand(NewItemsCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads configuration before any command runs.
func initConfig() {
	loaded, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded
	logger.SetDebug(cfg.App.Debug)
}

// openStore opens the SQLite repository at the configured data dir.
func openStore() (*store.Store, error) {
	return store.NewStore(cfg.App.DataDir)
}

// newMailSource builds the Gmail source from the configured credential
// files.
func newMailSource(ctx context.Context) (*mail.GmailSource, error) {
	return mail.NewGmailSource(ctx, cfg.Mail.CredentialsFile, cfg.Mail.TokenFile)
}
