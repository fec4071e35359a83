package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SJKodehode/tutorial-chat-app/internal/app"
	"github.com/SJKodehode/tutorial-chat-app/internal/auth"
	"github.com/SJKodehode/tutorial-chat-app/internal/callback"
	"github.com/SJKodehode/tutorial-chat-app/internal/config"
	"github.com/SJKodehode/tutorial-chat-app/internal/database"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
)

func init() {
	loginCmd.Flags().Duration("wait", 5*time.Minute, "how long to wait for the browser redirect on the web platform")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, openCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with the configured OAuth provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")
		return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
			if a.Config.Auth.Platform != config.PlatformWeb {
				if _, err := a.LoginScreen().SignIn(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "After approving, pass the %s link you are sent to:\n\n  chat open '<url>'\n", a.RedirectURL())
				return nil
			}
			return loginWeb(cmd, ctx, a, wait)
		})
	},
}

// loginWeb serves the redirect target on the loopback address until a
// session arrives.
func loginWeb(cmd *cobra.Command, ctx context.Context, a *app.App, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	signedIn := make(chan *models.Session, 1)
	stop := a.Auth.OnAuthStateChange(func(event auth.Event, session *models.Session) {
		if event == auth.EventSignedIn {
			select {
			case signedIn <- session:
			default:
			}
		}
	})
	defer stop()

	srv := callback.NewServer(callback.Options{
		Addr:    a.Config.Callback.Addr,
		Timeout: a.Config.Backend.HTTPTimeout,
	}, a.Orchestrator.HandleDeepLink)
	if err := srv.Listen(); err != nil {
		return err
	}
	serveCtx, stopServer := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(serveCtx) }()

	if _, err := a.LoginScreen().SignIn(ctx); err != nil {
		stopServer()
		<-served
		return err
	}

	var result error
	select {
	case session := <-signedIn:
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", describeUser(session.User))
		printRoute(cmd, a)
	case <-ctx.Done():
		result = fmt.Errorf("no sign-in completed: %w", ctx.Err())
	}
	stopServer()
	<-served
	return result
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
			if err := a.Auth.SignOut(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user and where the app would start",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			session := a.Auth.GetSession()
			if session == nil {
				fmt.Fprintln(out, "Not signed in")
				printRoute(cmd, a)
				return nil
			}

			user := session.User
			if a.Config.Backend.Mode == config.ModeREST {
				if fetched, err := a.Auth.GetUser(ctx); err == nil {
					user = *fetched
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "Could not verify session with the server: %v\n", err)
				}
			}
			fmt.Fprintf(out, "User:     %s\n", describeUser(user))
			if profile, err := a.DB.GetProfile(ctx, user.ID); err == nil {
				fmt.Fprintf(out, "Nickname: %s\n", profile.Nickname)
			} else if errors.Is(err, database.ErrNotFound) {
				fmt.Fprintln(out, "Nickname: (not set; run `chat profile set <nickname>`)")
			}
			if !session.ExpiresAt.IsZero() {
				fmt.Fprintf(out, "Expires:  %s\n", session.ExpiresAt.Local().Format(time.RFC1123))
			}
			printRoute(cmd, a)
			return nil
		})
	},
}

var openCmd = &cobra.Command{
	Use:   "open <url>",
	Short: "Deliver an OAuth redirect URL to the app",
	Long: `open completes a sign-in from the URL the provider redirected to. On the
native platform the URL is handled as a deep link; on the web platform it is
treated as the page address at startup.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		link := args[0]
		if !auth.HasCallbackParams(link) {
			return fmt.Errorf("%q carries no authorization code or access token", link)
		}

		opts := app.Options{}
		web := loaded.Auth.Platform == config.PlatformWeb
		var location *app.StaticLocation
		if web {
			location = app.NewStaticLocation(link)
			opts.Location = location
		}
		return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
			if web {
				fmt.Fprintf(cmd.OutOrStdout(), "Address: %s\n", location.Href())
			} else if a.Links.Deliver(link) == 0 {
				if err := a.Orchestrator.HandleDeepLink(ctx, link); err != nil {
					return err
				}
			}
			if a.Auth.GetSession() == nil {
				return fmt.Errorf("sign-in did not complete")
			}
			printRoute(cmd, a)
			return nil
		})
	},
}

func describeUser(u models.User) string {
	if u.Email != "" {
		return fmt.Sprintf("%s (%s)", u.Email, u.ID)
	}
	return u.ID
}

func printRoute(cmd *cobra.Command, a *app.App) {
	if route, ok := a.Router.Current(); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "Screen:   %s\n", route)
	}
}
