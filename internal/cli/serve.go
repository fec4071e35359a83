package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SJKodehode/tutorial-chat-app/internal/app"
	"github.com/SJKodehode/tutorial-chat-app/internal/callback"
)

func init() {
	serveCallbackCmd.Flags().String("addr", "", "listen address (defaults to CALLBACK_ADDR)")
	rootCmd.AddCommand(serveCallbackCmd)
}

var serveCallbackCmd = &cobra.Command{
	Use:   "serve-callback",
	Short: "Run the OAuth redirect listener until interrupted",
	Long: `serve-callback listens for provider redirects, completes the sign-in for
each one and stores the session. /health is always served; /metrics is added
when METRICS_ENABLED is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runApp(ctx, cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = a.Config.Callback.Addr
			}
			srv := callback.NewServer(callback.Options{
				Addr:           addr,
				MetricsEnabled: a.Config.Callback.MetricsEnabled,
				Timeout:        a.Config.Backend.HTTPTimeout,
			}, a.Orchestrator.HandleDeepLink)
			if err := srv.Listen(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s%s\n", srv.Addr(), callback.Path)
			return srv.Serve(ctx)
		})
	},
}
