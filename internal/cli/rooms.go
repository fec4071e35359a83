package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SJKodehode/tutorial-chat-app/internal/app"
)

func init() {
	roomsCmd.AddCommand(roomsListCmd, roomsCreateCmd)
	profileCmd.AddCommand(profileSetCmd)
	rootCmd.AddCommand(roomsCmd, profileCmd)
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List and create chat rooms",
}

var roomsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rooms, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
			if err := requireSession(a); err != nil {
				return err
			}
			home := a.HomeScreen()
			if err := home.Activate(ctx); err != nil {
				return err
			}
			defer home.Deactivate()

			rooms := home.Rooms()
			if len(rooms) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No rooms yet")
				return nil
			}
			now := time.Now()
			for _, room := range rooms {
				renderRoom(cmd.OutOrStdout(), room, now)
			}
			return nil
		})
	},
}

var roomsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a room",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
			if err := requireSession(a); err != nil {
				return err
			}
			home := a.HomeScreen()
			if err := home.Activate(ctx); err != nil {
				return err
			}
			defer home.Deactivate()

			room, err := home.CreateRoom(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %q (%s)\n", room.Name, room.ID)
			return nil
		})
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage your profile",
}

var profileSetCmd = &cobra.Command{
	Use:   "set <nickname>",
	Short: "Pick your nickname",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
			if err := requireSession(a); err != nil {
				return err
			}
			profile := a.ProfileScreen()
			defer profile.Deactivate()
			if err := profile.Save(ctx, strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Nickname saved")
			printRoute(cmd, a)
			return nil
		})
	},
}
