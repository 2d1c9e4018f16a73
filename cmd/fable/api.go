package main

import (
	"github.com/spf13/cobra"

	"github.com/fableforge/fable/internal/api"
	"github.com/fableforge/fable/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Fable server via HTTP.

These commands require a running server (fable serve).
Use --server to specify a custom server URL.

Examples:
  fable api health                         # Check server health
  fable api books create -f template.json  # Register a book template
  fable api jobs start <book-id> --training-id v3
  fable api jobs get <job-id>              # Check run progress`,
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Book template commands",
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Automation run commands",
}

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Assembled artifact commands",
}

var webhooksCmd = &cobra.Command{
	Use:    "webhooks",
	Short:  "Provider webhook commands",
	Hidden: true,
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

// addEndpointCommands attaches each endpoint's CLI command, skipping
// endpoints that have none.
func addEndpointCommands(parent *cobra.Command, eps []api.Endpoint) {
	for _, ep := range eps {
		if c := ep.Command(getServerURL); c != nil {
			parent.AddCommand(c)
		}
	}
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerUIEndpoint{}).Command(getServerURL))

	addEndpointCommands(booksCmd, endpoints.BookCommands())
	addEndpointCommands(jobsCmd, endpoints.JobCommands())
	addEndpointCommands(artifactsCmd, endpoints.ArtifactCommands())
	webhooksCmd.AddCommand((&endpoints.GenerationWebhookEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(booksCmd)
	apiCmd.AddCommand(jobsCmd)
	apiCmd.AddCommand(artifactsCmd)
	apiCmd.AddCommand(webhooksCmd)
	rootCmd.AddCommand(apiCmd)
}
