package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stackwatch/warden/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Load the configuration file and print a summary of what it wires up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Warden Configuration ==="))
		fmt.Printf("%s %s\n\n", green("✓"), configPath)

		fmt.Printf("%s\n", yellow("Decision:"))
		fmt.Printf("  min confidence:         %.2f\n", cfg.Decision.MinConfidence)
		fmt.Printf("  max concurrent actions: %d\n", cfg.Decision.MaxConcurrentActions)
		fmt.Printf("  max resource impact:    %.2f\n", cfg.Decision.MaxResourceImpact)
		fmt.Printf("  cycle interval:         %v\n", cfg.Decision.CycleInterval.Std())

		fmt.Printf("\n%s\n", yellow("Executor:"))
		fmt.Printf("  max actions per hour:   %d\n", cfg.Executor.MaxActionsPerHour)
		fmt.Printf("  min time between:       %v\n", cfg.Executor.MinTimeBetweenActions.Std())

		fmt.Printf("\n%s\n", yellow("Channels:"))
		if len(cfg.Channels) == 0 {
			fmt.Printf("  %s\n", gray("none configured"))
		}
		for _, ch := range cfg.Channels {
			state := green("enabled")
			if !ch.Enabled {
				state = gray("disabled")
			}
			fmt.Printf("  %-16s %-10s %s (%d rules)\n", ch.ID, ch.Type, state, len(ch.Rules))
		}

		fmt.Printf("\n%s\n", yellow("Throttle buckets:"))
		if len(cfg.Throttle) == 0 {
			fmt.Printf("  %s\n", gray("none configured"))
		}
		for _, b := range cfg.Throttle {
			fmt.Printf("  %-24s max %d per %v\n", b.Pattern, b.MaxAlerts, b.Window.Std())
		}

		fmt.Printf("\n%s\n", yellow("Escalation steps:"))
		if len(cfg.Escalation) == 0 {
			fmt.Printf("  %s\n", gray("none configured"))
		}
		for i, s := range cfg.Escalation {
			fmt.Printf("  %d. after %v -> %s\n", i+1, s.Delay.Std(), s.ChannelID)
		}

		fmt.Printf("\n%s\n", yellow("Storage:"))
		fmt.Printf("  path: %s\n", cfg.Storage.Path)
		if cfg.Retention.Enabled {
			fmt.Printf("  retention: prune after %v\n", cfg.Retention.MaxAge.Std())
		}

		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
