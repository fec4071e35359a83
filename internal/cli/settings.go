package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SJKodehode/tutorial-chat-app/internal/app"
	"github.com/SJKodehode/tutorial-chat-app/internal/navigation"
	"github.com/SJKodehode/tutorial-chat-app/internal/push"
	"github.com/SJKodehode/tutorial-chat-app/internal/screens"
)

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsThemeCmd, settingsPushCmd, settingsClearCmd)
	rootCmd.AddCommand(settingsCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Device-local preferences",
}

// withSettings runs fn against an active settings tab.
func withSettings(cmd *cobra.Command, fn func(ctx context.Context, s *screens.Settings) error) error {
	return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
		a.Router.SelectTab(navigation.TabSettings)
		settings := a.SettingsScreen()
		if err := settings.Activate(ctx); err != nil {
			return err
		}
		defer settings.Deactivate()
		return fn(ctx, settings)
	})
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current preferences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSettings(cmd, func(ctx context.Context, s *screens.Settings) error {
			state := s.State()
			theme := screens.ThemeLight
			if state.DarkMode {
				theme = screens.ThemeDark
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Theme:         %s\n", theme)
			fmt.Fprintf(out, "Notifications: %s\n", onOff(state.PushEnabled))
			if state.PushToken != "" {
				fmt.Fprintf(out, "Push token:    %s\n", state.PushToken)
			}
			return nil
		})
	},
}

var settingsThemeCmd = &cobra.Command{
	Use:       "theme <dark|light>",
	Short:     "Switch between dark and light mode",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{screens.ThemeDark, screens.ThemeLight},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSettings(cmd, func(ctx context.Context, s *screens.Settings) error {
			if err := s.SetDarkMode(ctx, args[0] == screens.ThemeDark); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Theme set to %s\n", args[0])
			return nil
		})
	},
}

var settingsPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Enable notifications and store a push token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSettings(cmd, func(ctx context.Context, s *screens.Settings) error {
			err := s.RegisterForPush(ctx)
			if errors.Is(err, push.ErrPermissionDenied) {
				return nil
			}
			return err
		})
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear-history",
	Short: "Delete the locally cached chat history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSettings(cmd, func(ctx context.Context, s *screens.Settings) error {
			return s.ClearHistory(ctx)
		})
	},
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
