package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the planfewer application
var rootCmd = &cobra.Command{
	Use:   "planfewer",
	Short: "OAuth-gated MCP server for Google Tasks and Calendar",
	Long: `planfewer runs an MCP (Model Context Protocol) server that exposes
Google Tasks and Calendar tools to AI assistants over streamable HTTP.

Access is gated by a built-in OAuth 2.1 authorization server: clients
register dynamically, authenticate via the authorization code flow with
PKCE (or client credentials for confidential clients), and present the
resulting bearer token on every tool invocation.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "planfewer version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
