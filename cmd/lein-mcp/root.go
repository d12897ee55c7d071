package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	serveCmd := newServeCommand()
	rootCmd := &cobra.Command{
		Use:   "lein-mcp",
		Short: "MCP bridge to a running Clojure nREPL",
		Long: `lein-mcp exposes a live Clojure nREPL session to MCP clients over
JSON-RPC on a loopback HTTP endpoint.

The nREPL port is read from .nrepl-port (or LEINMCP_NREPL_ADDR) and the
bridge port is published to .mcp-port. Running without a subcommand is the
same as "lein-mcp serve".`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serveCmd.RunE,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newCallCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lein-mcp %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
