package handlers

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mailbrief/internal/core"
)

// NewSourcesCmd creates the sources command group.
func NewSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage registered newsletter senders",
	}

	cmd.AddCommand(newSourcesAddCmd())
	cmd.AddCommand(newSourcesListCmd())
	cmd.AddCommand(newSourcesEnableCmd(true))
	cmd.AddCommand(newSourcesEnableCmd(false))

	return cmd
}

func newSourcesAddCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Register a sender address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			src := core.Source{
				ID:      uuid.NewString(),
				Email:   args[0],
				Name:    name,
				Enabled: true,
				AddedAt: time.Now().UTC(),
			}
			if err := st.AddSource(src); err != nil {
				return fmt.Errorf("failed to add source: %w", err)
			}
			fmt.Printf("added %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the sender")
	return cmd
}

func newSourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered senders",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sources, err := st.ListSources(false)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				fmt.Println("no sources registered")
				return nil
			}
			for _, src := range sources {
				state := "enabled"
				if !src.Enabled {
					state = "disabled"
				}
				fmt.Printf("%-40s %-10s %s\n", src.Email, state, src.Name)
			}
			return nil
		},
	}
}

func newSourcesEnableCmd(enable bool) *cobra.Command {
	use, short, verb := "enable <email>", "Enable a registered sender", "enabled"
	if !enable {
		use, short, verb = "disable <email>", "Disable a sender without losing it", "disabled"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SetSourceEnabled(args[0], enable); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", verb, args[0])
			return nil
		},
	}
}
