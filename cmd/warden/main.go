// warden is the decision-and-alert governance daemon: it turns raw
// signals into gated, rate-limited actions and routed, throttled,
// escalating alerts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Signal governance and alert dispatch daemon",
	Long: `Warden consumes anomaly and health signals, synthesizes gated
remediation actions, executes the safe ones under pacing limits, and
routes alerts through throttled, escalating notification channels.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "warden.yaml", "path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
