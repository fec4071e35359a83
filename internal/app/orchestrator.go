package app

import (
	"context"
	"errors"
	"sync"

	"github.com/SJKodehode/tutorial-chat-app/internal/auth"
	"github.com/SJKodehode/tutorial-chat-app/internal/database"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/internal/navigation"
	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

type State int

const (
	Unauthenticated State = iota
	AuthenticatedNoProfile
	AuthenticatedWithProfile
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "Unauthenticated"
	case AuthenticatedNoProfile:
		return "AuthenticatedNoProfile"
	case AuthenticatedWithProfile:
		return "AuthenticatedWithProfile"
	}
	return "Unknown"
}

// SessionService is the part of the session store the orchestrator drives.
type SessionService interface {
	OnAuthStateChange(fn auth.Listener) func()
	ExchangeCodeForSession(ctx context.Context, rawURL string) (*models.Session, error)
}

// TokenSink receives access tokens after sign-in and refresh.
type TokenSink interface {
	SetAuth(token string)
}

type OrchestratorConfig struct {
	Sessions SessionService
	Profiles database.ProfileRepository
	Router   *navigation.Router
	Links    *DeepLinks
	// Location is set on the web target only.
	Location Location
	Tokens   TokenSink
}

// Orchestrator turns session changes and OAuth redirects into navigation
// resets.
type Orchestrator struct {
	cfg OrchestratorConfig

	mu     sync.Mutex
	state  State
	userID string
	stops  []func()
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{cfg: cfg}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start registers the session and deep-link listeners and, on the web
// target, completes an OAuth redirect found in the page address.
func (o *Orchestrator) Start(ctx context.Context) error {
	stopAuth := o.cfg.Sessions.OnAuthStateChange(func(event auth.Event, session *models.Session) {
		o.handleSession(ctx, event, session)
	})

	o.mu.Lock()
	o.stops = append(o.stops, stopAuth)
	if o.cfg.Links != nil {
		o.stops = append(o.stops, o.cfg.Links.Subscribe(func(url string) {
			if err := o.HandleDeepLink(ctx, url); err != nil {
				logger.Error("OAuth callback error: %v", err)
			}
		}))
	}
	o.mu.Unlock()

	if o.cfg.Location != nil {
		o.completeWebRedirect(ctx)
	}
	return nil
}

// Stop releases the listeners registered by Start.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	stops := o.stops
	o.stops = nil
	o.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}

// HandleDeepLink exchanges an incoming OAuth redirect for a session. URLs
// without OAuth artifacts are ignored. Navigation follows from the
// resulting session change.
func (o *Orchestrator) HandleDeepLink(ctx context.Context, url string) error {
	if !auth.HasCallbackParams(url) {
		logger.Debug("Ignoring deep link without OAuth parameters")
		return nil
	}
	_, err := o.cfg.Sessions.ExchangeCodeForSession(ctx, url)
	return err
}

func (o *Orchestrator) completeWebRedirect(ctx context.Context) {
	loc := o.cfg.Location
	if !auth.HasCallbackParams(loc.Href()) {
		return
	}
	session, err := o.cfg.Sessions.ExchangeCodeForSession(ctx, loc.Href())
	if err != nil {
		logger.Error("OAuth callback error: %v", err)
		return
	}
	loc.ReplaceState(loc.Path())
	o.route(ctx, session)
}

// handleSession resets navigation on every auth event except a token refresh
// for the user already routed; that one only forwards the new token and
// leaves the open screen in place.
func (o *Orchestrator) handleSession(ctx context.Context, event auth.Event, session *models.Session) {
	if o.cfg.Tokens != nil && session != nil && (event == auth.EventSignedIn || event == auth.EventTokenRefreshed) {
		o.cfg.Tokens.SetAuth(session.AccessToken)
	}

	// A refresh for the same user is not a transition; resetting would pop
	// whatever screen is open.
	if event == auth.EventTokenRefreshed {
		o.mu.Lock()
		same := o.state != Unauthenticated && o.userID == session.UserID()
		o.mu.Unlock()
		if same {
			return
		}
	}
	o.route(ctx, session)
}

// route resets navigation to the screen for session: Login without one,
// Profile when the user has no profile row (or it cannot be read), MainTabs
// otherwise.
func (o *Orchestrator) route(ctx context.Context, session *models.Session) {
	if session.UserID() == "" {
		o.transition(Unauthenticated, "", navigation.Login)
		return
	}

	userID := session.UserID()
	_, err := o.cfg.Profiles.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logger.Warn("Profile lookup for %s failed: %v", userID, err)
		}
		o.transition(AuthenticatedNoProfile, userID, navigation.Profile)
		return
	}
	o.transition(AuthenticatedWithProfile, userID, navigation.MainTabs)
}

func (o *Orchestrator) transition(state State, userID, screen string) {
	o.mu.Lock()
	from := o.state
	o.state = state
	o.userID = userID
	o.mu.Unlock()

	if from != state {
		logger.Info("Session state %s -> %s", from, state)
	}
	o.cfg.Router.Reset(navigation.Route{Name: screen})
}
