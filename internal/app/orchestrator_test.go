package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SJKodehode/tutorial-chat-app/internal/auth"
	"github.com/SJKodehode/tutorial-chat-app/internal/database"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/internal/navigation"
)

type fakeSessions struct {
	mu        sync.Mutex
	listeners map[int]auth.Listener
	next      int
	exchanged []string
	fail      error
	user      string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{listeners: make(map[int]auth.Listener), user: "u1"}
}

func (f *fakeSessions) OnAuthStateChange(fn auth.Listener) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeSessions) emit(event auth.Event, session *models.Session) {
	f.mu.Lock()
	fns := make([]auth.Listener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(event, session)
	}
}

func (f *fakeSessions) ExchangeCodeForSession(ctx context.Context, rawURL string) (*models.Session, error) {
	f.mu.Lock()
	f.exchanged = append(f.exchanged, rawURL)
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	session := sessionFor(f.user)
	f.emit(auth.EventSignedIn, session)
	return session, nil
}

func sessionFor(userID string) *models.Session {
	return &models.Session{AccessToken: "token-" + userID, User: models.User{ID: userID}}
}

type tokenLog struct{ tokens []string }

func (t *tokenLog) SetAuth(token string) { t.tokens = append(t.tokens, token) }

type fixture struct {
	sessions *fakeSessions
	db       *database.MemoryDB
	router   *navigation.Router
	links    *DeepLinks
	tokens   *tokenLog
	orch     *Orchestrator
}

func newFixture(t *testing.T, location Location) *fixture {
	t.Helper()
	f := &fixture{
		sessions: newFakeSessions(),
		db:       database.NewMemoryDB(),
		router:   navigation.NewRouter(),
		links:    NewDeepLinks(),
		tokens:   &tokenLog{},
	}
	f.orch = NewOrchestrator(OrchestratorConfig{
		Sessions: f.sessions,
		Profiles: f.db,
		Router:   f.router,
		Links:    f.links,
		Location: location,
		Tokens:   f.tokens,
	})
	require.NoError(t, f.orch.Start(context.Background()))
	t.Cleanup(f.orch.Stop)
	return f
}

func TestNoSessionResetsToLogin(t *testing.T) {
	f := newFixture(t, nil)
	f.router.Reset(navigation.Route{Name: navigation.MainTabs})
	f.router.Navigate(navigation.Route{Name: navigation.Chat, Params: map[string]string{"roomId": "r1"}})

	f.sessions.emit(auth.EventSignedOut, nil)
	assert.Equal(t, []string{navigation.Login}, f.router.Names())
	assert.Equal(t, Unauthenticated, f.orch.State())
}

func TestSessionWithProfileResetsToMainTabs(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.db.UpsertProfile(context.Background(), &models.Profile{ID: "u1", Nickname: "ada"}))

	f.sessions.emit(auth.EventInitialSession, sessionFor("u1"))
	assert.Equal(t, []string{navigation.MainTabs}, f.router.Names())
	assert.Equal(t, AuthenticatedWithProfile, f.orch.State())
}

func TestSessionWithoutProfileResetsToProfile(t *testing.T) {
	f := newFixture(t, nil)
	f.router.Reset(navigation.Route{Name: navigation.Login})

	f.sessions.emit(auth.EventSignedIn, sessionFor("u1"))
	assert.Equal(t, []string{navigation.Profile}, f.router.Names())
	assert.Equal(t, AuthenticatedNoProfile, f.orch.State())
	assert.Equal(t, []string{"token-u1"}, f.tokens.tokens)
}

func TestProfileLookupFailureRoutesToProfile(t *testing.T) {
	f := newFixture(t, nil)
	f.db.FailGetProfile = errors.New("timeout")

	f.sessions.emit(auth.EventSignedIn, sessionFor("u1"))
	assert.Equal(t, []string{navigation.Profile}, f.router.Names())
}

func TestTokenRefreshKeepsOpenScreen(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.db.UpsertProfile(context.Background(), &models.Profile{ID: "u1", Nickname: "ada"}))
	f.sessions.emit(auth.EventSignedIn, sessionFor("u1"))
	f.router.Navigate(navigation.Route{Name: navigation.Chat, Params: map[string]string{"roomId": "r1"}})

	refreshed := sessionFor("u1")
	refreshed.AccessToken = "token-u1-2"
	f.sessions.emit(auth.EventTokenRefreshed, refreshed)

	assert.Equal(t, []string{navigation.MainTabs, navigation.Chat}, f.router.Names())
	assert.Equal(t, []string{"token-u1", "token-u1-2"}, f.tokens.tokens)
}

func TestDeepLinkExchangesOnlyOAuthURLs(t *testing.T) {
	f := newFixture(t, nil)
	f.router.Reset(navigation.Route{Name: navigation.Login})

	assert.Equal(t, 1, f.links.Deliver("mychatapp://rooms/r1"))
	assert.Empty(t, f.sessions.exchanged)

	f.links.Deliver("mychatapp://auth-callback?code=abc")
	assert.Equal(t, []string{"mychatapp://auth-callback?code=abc"}, f.sessions.exchanged)
	assert.Equal(t, []string{navigation.Profile}, f.router.Names())
}

func TestDeepLinkExchangeFailureStaysOnLogin(t *testing.T) {
	f := newFixture(t, nil)
	f.router.Reset(navigation.Route{Name: navigation.Login})
	f.sessions.fail = &auth.APIError{Status: 400, Message: "invalid flow state"}

	err := f.orch.HandleDeepLink(context.Background(), "mychatapp://auth-callback?code=abc")
	require.Error(t, err)
	assert.Equal(t, []string{navigation.Login}, f.router.Names())
	assert.Len(t, f.sessions.exchanged, 1)
}

func TestWebStartupStripsCallbackParams(t *testing.T) {
	loc := NewStaticLocation("http://127.0.0.1:8787/auth-callback?code=abc")
	sessions := newFakeSessions()
	db := database.NewMemoryDB()
	require.NoError(t, db.UpsertProfile(context.Background(), &models.Profile{ID: "u1", Nickname: "ada"}))
	router := navigation.NewRouter()

	orch := NewOrchestrator(OrchestratorConfig{Sessions: sessions, Profiles: db, Router: router, Location: loc})
	require.NoError(t, orch.Start(context.Background()))
	defer orch.Stop()

	assert.Equal(t, "http://127.0.0.1:8787/auth-callback", loc.Href())
	assert.Equal(t, []string{navigation.MainTabs}, router.Names())
	assert.Len(t, sessions.exchanged, 1)
}

func TestWebStartupWithoutParamsDoesNothing(t *testing.T) {
	loc := NewStaticLocation("http://127.0.0.1:8787/")
	f := newFixture(t, loc)
	assert.Empty(t, f.sessions.exchanged)
	assert.Empty(t, f.router.Names())
	assert.Equal(t, "http://127.0.0.1:8787/", loc.Href())
}

func TestStopReleasesListeners(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.Stop()

	f.sessions.emit(auth.EventSignedOut, nil)
	assert.Empty(t, f.router.Names())
	assert.Equal(t, 0, f.links.Deliver("mychatapp://auth-callback?code=abc"))
}
