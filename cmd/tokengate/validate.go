package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/promptforge/tokengate/adapters/sqlite"
	"github.com/promptforge/tokengate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the tokengate configuration file.

Checks:
  - YAML syntax is valid
  - Gateway mode and credentials are consistent
  - Plan catalog is well-formed
  - Database is writable (optional)

Examples:
  tokengate validate
  tokengate validate --config /etc/tokengate/config.yaml`,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	fmt.Printf("  %s Gateway mode: %s\n", checkMark, cfg.Gateway.Mode)
	fmt.Printf("  %s Database: %s (%s)\n", checkMark, cfg.Database.DSN, cfg.Database.Driver)
	fmt.Printf("  %s Plans configured: %d\n", checkMark, len(cfg.Plans))
	fmt.Printf("  %s Free trial tokens: %d\n", checkMark, cfg.Ledger.FreeTrialTokens)

	if cfg.Gateway.Mode == "razorpay" && cfg.Gateway.WebhookSecret == "" {
		fmt.Printf("  %s Webhook secret set\n", crossMark)
		return fmt.Errorf("razorpay mode requires a webhook secret")
	}

	unmapped := 0
	for _, p := range cfg.BillingPlans() {
		if !p.Configured() {
			unmapped++
		}
	}
	if unmapped > 0 {
		fmt.Printf("      Warning: %d plan(s) have no gateway plan id\n", unmapped)
	}

	if validateCheckDatabase && cfg.Database.Driver == "sqlite" {
		if err := checkDatabaseWritable(cfg.Database.DSN); err != nil {
			fmt.Printf("  %s Database writable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Database writable\n", checkMark)
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

func checkDatabaseWritable(dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
