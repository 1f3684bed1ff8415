package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailbrief/internal/dialogue"
	"mailbrief/internal/llm"
	"mailbrief/internal/persona"
)

// NewDialogueCmd creates the dialogue command.
func NewDialogueCmd() *cobra.Command {
	var (
		date   string
		locale string
	)

	cmd := &cobra.Command{
		Use:   "dialogue",
		Short: "Generate the daily host/guest dialogue",
		Long: `Generate a two-person dialogue over the ingested items of a day,
streaming the script to stdout. Each generated episode evolves the
stored personality state for the locale.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			client, err := llm.NewClient(cfg.AI.Gemini.Model)
			if err != nil {
				return err
			}

			if locale == "" {
				locale = cfg.Persona.DefaultLocale
			}

			svc := dialogue.New(client, persona.NewEngine(st), st)
			_, err = svc.GenerateDaily(cmd.Context(), date, locale, func(chunk string) {
				fmt.Print(chunk)
			})
			if err != nil {
				return err
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Day to cover (YYYY-MM-DD, default: latest ingested day)")
	cmd.Flags().StringVar(&locale, "locale", "", "Personality locale (default from config)")

	return cmd
}
