package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"smart-meal-manager/internal/analysis"
	"smart-meal-manager/internal/app"
	"smart-meal-manager/internal/poller"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var opts app.ScanOptions
	var interactive bool

	cmd := &cobra.Command{
		Use:   "scan [image files...]",
		Short: "Upload fridge photos and follow the analysis",
		Long: "Upload fridge photos to the active session and follow the analysis until the meal plan is ready.\n" +
			"Pass image files, or --camera to take photos with the configured capture device.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Files = args
			return ctx.withApp(cmd, func(a *app.App) error {
				final, err := a.Scan(cmd.Context(), opts)
				if err != nil {
					return err
				}
				return finish(cmd, a, final, interactive)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.UseCamera, "camera", false, "Take photos with the capture device")
	cmd.Flags().StringVar(&opts.Device, "device", "", "Capture device (defaults to CAMERA_DEVICE)")
	cmd.Flags().BoolVar(&opts.WaitCamera, "wait-camera", false, "Wait for a camera to be plugged in")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", stdinIsTerminal(), "Mark stock and look up recipes when done")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "watch [session-id]",
		Short: "Follow a session uploaded from a phone",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessionID string
			if len(args) == 1 {
				sessionID = args[0]
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				if sessionID == "" {
					if err := a.QR(cmd.Context(), ""); err != nil {
						return err
					}
				}
				final, err := a.Watch(cmd.Context(), sessionID)
				if err != nil {
					return err
				}
				return finish(cmd, a, final, interactive)
			})
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", stdinIsTerminal(), "Mark stock and look up recipes when done")
	return cmd
}

func finish(cmd *cobra.Command, a *app.App, final poller.Update, interactive bool) error {
	switch final.Status {
	case analysis.StatusDone:
		if interactive {
			return a.Interact(cmd.Context(), final.Result)
		}
		return nil
	case analysis.StatusError:
		return fmt.Errorf("analysis of session %s failed", final.SessionID)
	}
	return nil
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newReplayCommand(ctx *commandContext) *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Show the result of a past session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				result, err := a.Replay(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if interactive {
					return a.Interact(cmd.Context(), result)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Mark stock and look up recipes")
	return cmd
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				return a.History(cmd.Context())
			})
		},
	}
}

func newSuggestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <ingredient>",
		Short: "Suggest recipes that use an ingredient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				return a.Suggest(cmd.Context(), args[0])
			})
		},
	}
}

func newSessionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Print the active session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				id, err := a.Session(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func newQRCommand(ctx *commandContext) *cobra.Command {
	var pngPath string

	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Show a QR code that opens the session on a phone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				return a.QR(cmd.Context(), pngPath)
			})
		},
	}

	cmd.Flags().StringVar(&pngPath, "png", "", "Write the QR code to a PNG file instead")
	return cmd
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the active session and start over",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				return a.Reset()
			})
		},
	}
}
