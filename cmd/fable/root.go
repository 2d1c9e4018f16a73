package main

import (
	"github.com/spf13/cobra"

	"github.com/fableforge/fable/internal/api"
	"github.com/fableforge/fable/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "fable",
	Short: "Personalized book rendering with AI-generated illustrations",
	Long: `Fable turns a personalized book template into a finished,
illustrated PDF. Each story page gets an illustration generated by a
trained character model; completed pages are composited onto their
backgrounds and assembled into a print-ready artifact.

The pipeline includes:
  - Per-page async image generation with webhook completion
  - Candidate ranking and background removal
  - PDF assembly with frozen per-page snapshots
  - Single-page regeneration and candidate swapping after assembly`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.fable/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "fable home directory (default: ~/.fable)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
