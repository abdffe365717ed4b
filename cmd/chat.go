package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pawpilot/chat-api/internal/model"
	"github.com/pawpilot/chat-api/internal/workflow"
)

var (
	chatMessage string
	chatUserID  string
	chatPetID   string
	chatModule  string
	chatJSON    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run a single message through the workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Engine.Run(ctx, workflow.Request{
			Message: chatMessage,
			UserID:  chatUserID,
			PetID:   chatPetID,
			Module:  model.ModuleTag(chatModule),
		})
		if err != nil {
			return err
		}

		zap.L().Info("chat complete",
			zap.String("model", st.ModelToUse),
			zap.Bool("rag_used", st.UseRAG),
			zap.Float64("confidence", st.ConfidenceScore),
			zap.Float64("cost_usd", st.CostUSD),
			zap.Int("errors", len(st.Errors)),
		)

		if chatJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		fmt.Println(st.FinalOutput)
		return nil
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatMessage, "message", "", "message to send (required)")
	chatCmd.Flags().StringVar(&chatUserID, "user", "", "user ID")
	chatCmd.Flags().StringVar(&chatPetID, "pet", "", "pet ID")
	chatCmd.Flags().StringVar(&chatModule, "module", "", "assistant module (default generic)")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "print the full workflow state as JSON")
	_ = chatCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(chatCmd)
}
