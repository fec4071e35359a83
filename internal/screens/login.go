package screens

import (
	"context"

	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

// OAuthStarter begins a provider sign-in and returns the authorize URL.
type OAuthStarter interface {
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
}

// Opener hands a URL to the browser.
type Opener interface {
	Open(url string) error
}

type OpenerFunc func(url string) error

func (f OpenerFunc) Open(url string) error { return f(url) }

type Login struct {
	lifecycle

	auth       OAuthStarter
	opener     Opener
	alerter    Alerter
	provider   string
	redirectTo string
}

func NewLogin(auth OAuthStarter, opener Opener, alerter Alerter, provider, redirectTo string) *Login {
	return &Login{
		auth:       auth,
		opener:     opener,
		alerter:    alerter,
		provider:   provider,
		redirectTo: redirectTo,
	}
}

func (l *Login) Activate(parent context.Context) error {
	l.begin(parent)
	return nil
}

func (l *Login) Deactivate() { l.end() }

// SignIn starts the OAuth flow and opens the provider page. The session
// arrives later through the redirect.
func (l *Login) SignIn(ctx context.Context) (string, error) {
	url, err := l.auth.SignInWithOAuth(ctx, l.provider, l.redirectTo)
	if err != nil {
		alert(l.alerter, "Error", errorMessage(err))
		return "", err
	}
	if l.opener != nil {
		if err := l.opener.Open(url); err != nil {
			logger.Warn("Could not open browser: %v", err)
		}
	}
	return url, nil
}
