package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/pawpilot/chat-api/internal/model"
	"github.com/pawpilot/chat-api/internal/store"
)

var (
	interactionsUserID string
	interactionsPetID  string
	interactionsModule string
	interactionsLimit  int
)

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "List logged interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rows, err := st.ListInteractions(ctx, store.InteractionFilter{
			UserID: interactionsUserID,
			PetID:  interactionsPetID,
			Module: model.ModuleTag(interactionsModule),
			Limit:  interactionsLimit,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

func init() {
	interactionsCmd.Flags().StringVar(&interactionsUserID, "user", "", "filter by user ID")
	interactionsCmd.Flags().StringVar(&interactionsPetID, "pet", "", "filter by pet ID")
	interactionsCmd.Flags().StringVar(&interactionsModule, "module", "", "filter by module")
	interactionsCmd.Flags().IntVar(&interactionsLimit, "limit", 20, "maximum rows to return")
	rootCmd.AddCommand(interactionsCmd)
}
