package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/promptforge/tokengate/config"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Show the configured plan catalog",
	Long: `Show the subscription plans defined in the configuration file.

Plans define the price and token allowance per billing period. Plans
without a gateway plan id cannot be subscribed to until one is mapped.

Examples:
  tokengate plans
  tokengate plans --config /etc/tokengate/config.yaml`,
	RunE: runPlans,
}

func init() {
	rootCmd.AddCommand(plansCmd)
}

func runPlans(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if len(cfg.Plans) == 0 {
		fmt.Println("No plans configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tLABEL\tPRICE\tCURRENCY\tTOKENS/PERIOD\tGATEWAY PLAN")
	for _, p := range cfg.BillingPlans() {
		gatewayPlan := p.GatewayPlanID
		if gatewayPlan == "" {
			gatewayPlan = "(unmapped)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
			p.Key, p.Label, p.Price, p.Currency, p.TokensPerPeriod, gatewayPlan)
	}
	return w.Flush()
}
