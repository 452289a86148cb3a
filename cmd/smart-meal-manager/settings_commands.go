package main

import (
	"github.com/spf13/cobra"

	"smart-meal-manager/internal/app"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change accessibility settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				a.ShowSettings()
				return nil
			})
		},
	}

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				a.ShowSettings()
				return nil
			})
		},
	})

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "set <fontSize|highContrast|voiceEnabled> <value>",
		Short: "Change and save one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				if err := a.SetSetting(args[0], args[1]); err != nil {
					return err
				}
				a.ShowSettings()
				return nil
			})
		},
	})

	return settingsCmd
}
