package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/internal/push"
)

// browserOpener prints the URL and tries the platform's URL handler.
type browserOpener struct{ w io.Writer }

func (b browserOpener) Open(url string) error {
	fmt.Fprintf(b.w, "Open this URL to sign in:\n\n  %s\n\n", url)
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

func confirmPrompter(in io.Reader, out io.Writer) push.Prompter {
	return push.PrompterFunc(func(ctx context.Context, question string) (bool, error) {
		fmt.Fprintf(out, "%s [y/N] ", question)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				return false, nil
			}
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	})
}

// interactive reports whether r is a terminal.
func interactive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// renderMessage prints one chat line. Own messages show "me" instead of the
// nickname; a blank nickname shows as "unknown".
func renderMessage(w io.Writer, msg models.Message, own bool, now time.Time) {
	who := msg.Nickname
	switch {
	case own:
		who = "me"
	case who == "":
		who = "unknown"
	}
	when := humanize.RelTime(msg.CreatedAt, now, "ago", "from now")
	if msg.CreatedAt.IsZero() {
		when = "just now"
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", when, who, msg.Text)
}

func renderRoom(w io.Writer, room models.Room, now time.Time) {
	fmt.Fprintf(w, "%s  %-24s created %s\n", room.ID, room.Name, humanize.RelTime(room.CreatedAt, now, "ago", "from now"))
}
