package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/claude/healthlens/internal/mcp"
)

// remoteURL points data commands at a running API instead of the database.
var remoteURL string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the analytics tools over MCP stdio.",
	Long:  `Launch an MCP server on stdin/stdout. Tools read the database directly, or a running API when --server is set.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		// stdout carries the protocol
		log := newLogger(os.Stderr)
		ctx, stop := signalContext()
		defer stop()

		ds, cleanup, err := dataSource(ctx, log)
		if err != nil {
			return err
		}
		defer cleanup()

		log.Info("mcp server starting", "version", Version)
		return server.ServeStdio(mcp.New(ds, Version, log))
	},
}

// dataSource returns the remote API client when --server is set, else a
// local service over the configured database.
func dataSource(ctx context.Context, log *slog.Logger) (mcp.DataSource, func(), error) {
	if remoteURL != "" {
		log.Info("using remote api", "url", remoteURL)
		return mcp.NewHTTPClient(remoteURL), func() {}, nil
	}
	_, _, svc, cleanup, err := openService(ctx, log)
	if err != nil {
		return nil, nil, err
	}
	return mcp.NewLocal(svc), cleanup, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&remoteURL, "server", "", "base URL of a running healthlens API (e.g. http://healthlens)")
	rootCmd.AddCommand(mcpCmd)
}
