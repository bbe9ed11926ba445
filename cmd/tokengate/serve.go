package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/promptforge/tokengate/bootstrap"
	"github.com/promptforge/tokengate/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tokengate API server",
	Long: `Start the tokengate API server.

The server will:
  - Load configuration from tokengate.yaml (or --config)
  - Or load configuration from TOKENGATE_* environment variables
  - Open the ledger database and apply migrations
  - Serve the billing, token and webhook endpoints

Environment variables (for Docker deployments):
  TOKENGATE_DATABASE_DSN            - Database path (default: tokengate.db)
  TOKENGATE_SERVER_PORT             - Server port (default: 8080)
  TOKENGATE_GATEWAY_MODE            - Gateway: none, dummy, razorpay
  TOKENGATE_GATEWAY_KEY_ID          - Gateway API key id
  TOKENGATE_GATEWAY_KEY_SECRET      - Gateway API key secret
  TOKENGATE_GATEWAY_WEBHOOK_SECRET  - Webhook signing secret
  TOKENGATE_LOG_LEVEL               - Log level: debug, info, warn, error

Examples:
  tokengate serve
  tokengate serve --config /etc/tokengate/config.yaml
  tokengate serve --hot-reload=false

  # Docker (env vars only):
  TOKENGATE_GATEWAY_MODE=dummy tokengate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Local development convenience, missing .env is fine.
	_ = godotenv.Load()

	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if !hasConfigFile && !config.HasEnvConfig() {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Option 1: Create %s\n", cfgFile)
		fmt.Println("Option 2: Set TOKENGATE_* environment variables")
		fmt.Println()
		fmt.Println("Example (env vars):")
		fmt.Println("  TOKENGATE_GATEWAY_MODE=dummy tokengate serve")
		return nil
	}

	var holder *config.Holder
	var err error

	if hasConfigFile {
		holder, err = config.NewHolder(cfgFile, bootstrapLogger())
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
	} else {
		cfg, loadErr := config.LoadFromEnv()
		if loadErr != nil {
			return fmt.Errorf("error loading config: %w", loadErr)
		}
		fmt.Println("Running with environment variables (no config file)")
		holder = config.NewStaticHolder(cfg)
	}

	app, err := bootstrap.New(holder)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Hot reload only works with a config file.
	if hasConfigFile && hotReload {
		if err := holder.WatchFile(); err != nil {
			app.Logger.Warn().Err(err).Msg("config file watch failed")
		}
		holder.WatchSignals()
	}

	// Run (blocks until shutdown)
	return app.Run()
}

// bootstrapLogger covers config loading before the real logger exists.
func bootstrapLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
