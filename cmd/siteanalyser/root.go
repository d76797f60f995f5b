package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "siteanalyser",
		Short: "Batch website analysis: reachability, TLS health and bot protection",
		Long: `siteanalyser inspects websites in batches. For each URL it captures the
page, validates the TLS certificate, scores bot-protection measures and
aggregates everything into a per-URL result plus a batch summary.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); defaults apply when omitted")
	cmd.AddCommand(newAnalyzeCmd())
	return cmd
}
