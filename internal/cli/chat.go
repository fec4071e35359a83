package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/SJKodehode/tutorial-chat-app/internal/app"
	"github.com/SJKodehode/tutorial-chat-app/internal/navigation"
	"github.com/SJKodehode/tutorial-chat-app/internal/screens"
)

func init() {
	chatCmd.Flags().Duration("drain", 2*time.Second, "how long to wait for sent messages to come back before exiting")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <room-id>",
	Short: "Join a room and exchange messages",
	Long: `chat prints the room history, then every new message as it arrives.
Each line read from standard input is sent as a message; /quit leaves.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		drain, _ := cmd.Flags().GetDuration("drain")
		return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
			if err := requireSession(a); err != nil {
				return err
			}
			a.Router.Navigate(navigation.Route{Name: navigation.Chat, Params: map[string]string{"roomId": args[0]}})
			defer a.Router.Back()

			room := newRoomView(cmd.OutOrStdout(), a.ChatScreen(args[0]))
			return room.run(ctx, cmd.InOrStdin(), drain)
		})
	},
}

// roomView prints a chat screen's list incrementally.
type roomView struct {
	out  io.Writer
	chat *screens.Chat

	mu      sync.Mutex
	printed int
	own     int
	changed chan struct{}
}

func newRoomView(out io.Writer, chat *screens.Chat) *roomView {
	return &roomView{out: out, chat: chat, changed: make(chan struct{}, 1)}
}

func (v *roomView) flush() {
	v.mu.Lock()
	defer v.mu.Unlock()
	msgs := v.chat.Messages()
	if v.printed > len(msgs) {
		v.printed = 0
	}
	now := time.Now()
	for _, msg := range msgs[v.printed:] {
		own := v.chat.IsOwn(msg)
		if own {
			v.own++
		}
		renderMessage(v.out, msg, own, now)
	}
	v.printed = len(msgs)

	select {
	case v.changed <- struct{}{}:
	default:
	}
}

func (v *roomView) ownPrinted() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.own
}

func (v *roomView) run(ctx context.Context, in io.Reader, drain time.Duration) error {
	unsubscribe := v.chat.Subscribe(v.flush)
	defer unsubscribe()

	if err := v.chat.Activate(ctx); err != nil {
		return err
	}
	defer v.chat.Deactivate()
	v.flush()
	baseline := v.ownPrinted()

	prompt := interactive(in)
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	sent := 0
	for {
		if prompt {
			fmt.Fprint(v.out, "> ")
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return err
			}
			return v.wait(ctx, baseline+sent, drain)
		case line := <-lines:
			if strings.TrimSpace(line) == "/quit" {
				return v.wait(ctx, baseline+sent, drain)
			}
			if !v.chat.CanSend(line) {
				continue
			}
			// Failures are alerted by the screen; the room stays open.
			if err := v.chat.Send(ctx, line); err == nil {
				sent++
			}
		}
	}
}

// wait blocks until want own messages have been printed or drain elapses.
func (v *roomView) wait(ctx context.Context, want int, drain time.Duration) error {
	timer := time.NewTimer(drain)
	defer timer.Stop()
	for v.ownPrinted() < want {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			return fmt.Errorf("%d sent message(s) not confirmed by the server", want-v.ownPrinted())
		case <-v.changed:
		}
	}
	return nil
}
