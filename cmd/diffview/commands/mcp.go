package commands

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/diffview/internal/logging"
	"github.com/opencode-ai/diffview/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the review tools over MCP stdio",
	Long: `Run diffview as an MCP server on stdin/stdout. Agents open a review with
review_open, stream content with review_update or review_edit, and finish with
review_approve or review_reject. Open reviews are rejected on exit.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	root, cfg, err := setup()
	if err != nil {
		return err
	}

	a, err := newApp(root, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	logging.Info().Str("root", root).Msg("serving MCP over stdio")
	return server.ServeStdio(mcpserver.NewServer(a.reviews, Version))
}
