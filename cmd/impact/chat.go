package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/impactgraph/internal/models"
	"github.com/rohankatakam/impactgraph/internal/pipeline"
	"github.com/rohankatakam/impactgraph/internal/service"
)

var (
	chatChannel    string
	chatThread     string
	chatText       string
	chatPermalink  string
	chatComponents []string
	chatAPIs       []string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Analyze a chat complaint",
	Long: `Match a chat complaint to components and APIs, correlate it with recent
commits of the repositories involved, and report the impact.

When --text is omitted the thread is read from Slack (SLACK_BOT_TOKEN).`,
	Example: `  impact chat --channel C024BE91L --thread 1712345678.000100
  impact chat --channel C024BE91L --thread 1712345678.000100 --text "checkout totals are wrong"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if chatThread == "" {
			return fmt.Errorf("--thread is required")
		}
		complaint := &models.ChatComplaint{
			ThreadID:     chatThread,
			Channel:      chatChannel,
			Text:         chatText,
			ComponentIDs: chatComponents,
			APIIDs:       chatAPIs,
			Permalink:    chatPermalink,
		}
		return runAnalysis(cmd, func(ctx context.Context, svc *service.Service) (*pipeline.Result, error) {
			return svc.ProcessChatComplaint(ctx, complaint)
		})
	},
}

func init() {
	addOutputFlags(chatCmd)
	chatCmd.Flags().StringVar(&chatChannel, "channel", "", "channel id")
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "thread timestamp")
	chatCmd.Flags().StringVar(&chatText, "text", "", "complaint text (read from the thread when empty)")
	chatCmd.Flags().StringVar(&chatPermalink, "permalink", "", "thread permalink")
	chatCmd.Flags().StringSliceVar(&chatComponents, "component", nil, "component id the complaint is about (repeatable)")
	chatCmd.Flags().StringSliceVar(&chatAPIs, "api", nil, "API id the complaint is about (repeatable)")
}
