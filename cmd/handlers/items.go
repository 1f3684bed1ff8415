package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailbrief/internal/core"
)

// NewItemsCmd creates the items command.
func NewItemsCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List ingested items for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			if date == "" {
				latest, err := st.LatestIngestDate()
				if err != nil {
					return err
				}
				if latest == "" {
					fmt.Println("nothing ingested yet")
					return nil
				}
				date = latest
			}

			items, err := st.ListItemsByIngestDate(date)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Printf("no items for %s\n", date)
				return nil
			}

			fmt.Printf("%s: %d items\n\n", date, len(items))
			for _, item := range items {
				source := item.SourceEmail
				if item.SourceType == core.SourceArticle && item.SourceURL != "" {
					source = item.SourceURL
				}
				fmt.Printf("%-12s %-60s %s\n", item.SourceType, truncate(item.Title, 60), source)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Day to list (YYYY-MM-DD, default: latest ingested day)")
	return cmd
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
