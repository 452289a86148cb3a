package main

import (
	"github.com/spf13/cobra"

	"smart-meal-manager/internal/app"
)

func newMetricsCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show backend call statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				return a.Metrics(days)
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Summarise the last N days")
	return cmd
}

func newMetricsCleanupCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "metrics-cleanup",
		Short: "Remove old metric records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				return a.CleanupMetrics(days)
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Keep records for the last N days")
	return cmd
}
