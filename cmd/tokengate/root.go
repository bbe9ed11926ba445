package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tokengate",
	Short: "Token ledger and subscription billing service for AI workloads",
	Long: `Tokengate tracks per-user AI token balances, credits them from
subscription and top-up payments, and debits them as usage.

Quick start:
  tokengate serve     # Start the API server

Management:
  tokengate plans     # Show the configured plan catalog
  tokengate validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "tokengate.yaml", "config file path")
}
