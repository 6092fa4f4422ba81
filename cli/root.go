// Package cli wires the livemem command tree. The binary is the service
// itself: serve is the only runnable, there is no client shell.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/livemem/livemem/pkg/version"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "livemem",
		Short:   "Shared working memory MCP server for AI agents",
		Version: version.GetVersion(),
	}

	root.AddCommand(
		ServeCmd(),
	)

	return root
}
