package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/SJKodehode/tutorial-chat-app/internal/app"
	"github.com/SJKodehode/tutorial-chat-app/internal/config"
	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Terminal client for the tutorial chat backend",
	Long: `chat signs you in with OAuth, lets you pick a nickname, create and join
rooms, and exchange realtime messages from the terminal.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			os.Setenv("CHAT_CONFIG", path)
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger.Init(cfg.Env, cmd.ErrOrStderr())
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logger.GlobalLogger.SetLevel(zerolog.DebugLevel)
		}
		loaded = cfg
		return nil
	},
}

// loaded is set by PersistentPreRunE for the command being run.
var loaded *config.Config

// Execute runs the command line. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file (overrides CHAT_CONFIG)")
}

// withApp builds and starts the client for one command and closes it after.
func withApp(cmd *cobra.Command, opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	return runApp(commandContext(cmd), cmd, opts, fn)
}

func runApp(ctx context.Context, cmd *cobra.Command, opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	if opts.Alerter == nil {
		opts.Alerter = printAlerter{w: cmd.ErrOrStderr()}
	}
	if opts.Opener == nil {
		opts.Opener = browserOpener{w: cmd.OutOrStdout()}
	}
	if opts.Prompter == nil {
		opts.Prompter = confirmPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	}

	a, err := app.New(ctx, loaded, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// requireSession fails commands that need a signed-in user.
func requireSession(a *app.App) error {
	if a.Auth.GetSession() == nil {
		return fmt.Errorf("not signed in; run `chat login` first")
	}
	return nil
}

type printAlerter struct{ w io.Writer }

func (p printAlerter) Alert(title, message string) {
	fmt.Fprintf(p.w, "%s: %s\n", title, message)
}
