package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/SJKodehode/tutorial-chat-app/internal/metrics"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/internal/storage"
	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

const (
	sessionKey  = "auth.session"
	verifierKey = "auth.code_verifier"
)

type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener receives session changes. session is nil after sign-out.
type Listener func(event Event, session *models.Session)

var (
	ErrNoSession = errors.New("auth: no session")
	// ErrNoAuthArtifacts is returned for a callback URL with neither a code
	// nor an access token.
	ErrNoAuthArtifacts = errors.New("auth: url carries no authorization code or access token")
	ErrNoVerifier      = errors.New("auth: no pending code verifier")
)

// APIError carries the auth server's message verbatim.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth: %s (%s)", e.Message, e.Code)
	}
	return "auth: " + e.Message
}

type Options struct {
	ProjectURL    string
	APIKey        string
	JWTSecret     []byte
	Timeout       time.Duration
	RefreshMargin time.Duration
}

// Service is the client-side session store. It owns the current session,
// persists it in the device store and tells listeners about every change.
type Service struct {
	authURL   string
	apiKey    string
	jwtSecret []byte
	timeout   time.Duration
	margin    time.Duration
	client    *fasthttp.Client
	store     storage.Store
	now       func() time.Time

	mu        sync.Mutex
	session   *models.Session
	listeners map[int]Listener
	nextID    int
	exchanged map[string]bool
}

func NewService(opts Options, store storage.Store) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = time.Minute
	}
	return &Service{
		authURL:   strings.TrimSuffix(opts.ProjectURL, "/") + "/auth/v1",
		apiKey:    opts.APIKey,
		jwtSecret: opts.JWTSecret,
		timeout:   opts.Timeout,
		margin:    opts.RefreshMargin,
		client: &fasthttp.Client{
			Name:         "tutorial-chat-app",
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
		},
		store:     store,
		now:       time.Now,
		listeners: make(map[int]Listener),
		exchanged: make(map[string]bool),
	}
}

// OnAuthStateChange registers fn and returns a function that removes it.
func (s *Service) OnAuthStateChange(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Service) emit(event Event, session *models.Session) {
	s.mu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(event, copySession(session))
	}
}

func copySession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	cp := *session
	return &cp
}

// GetSession returns a copy of the current session, or nil.
func (s *Service) GetSession() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySession(s.session)
}

// AccessToken returns the current access token or "".
func (s *Service) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ""
	}
	return s.session.AccessToken
}

// CurrentUser returns the signed-in user from the local session.
func (s *Service) CurrentUser(ctx context.Context) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session := s.GetSession()
	if session == nil {
		return nil, ErrNoSession
	}
	return &session.User, nil
}

// GetUser asks the auth server who the current access token belongs to.
func (s *Service) GetUser(ctx context.Context) (*models.User, error) {
	token := s.AccessToken()
	if token == "" {
		return nil, ErrNoSession
	}
	var user models.User
	if err := s.do(ctx, "auth.user", fasthttp.MethodGet, "/user", token, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Restore loads a persisted session, refreshing it when it has expired, and
// announces the result as INITIAL_SESSION.
func (s *Service) Restore(ctx context.Context) (*models.Session, error) {
	raw, err := s.store.Get(sessionKey)
	if errors.Is(err, storage.ErrNotFound) {
		s.emit(EventInitialSession, nil)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		logger.Warn("Discarding unreadable stored session: %v", err)
		s.store.Delete(sessionKey)
		s.emit(EventInitialSession, nil)
		return nil, nil
	}

	s.mu.Lock()
	s.session = &session
	s.mu.Unlock()

	if session.Expired(s.now(), s.margin) {
		refreshed, err := s.refresh(ctx, session.RefreshToken)
		if err != nil {
			if rejected(err) {
				logger.Warn("Stored session rejected, signing out: %v", err)
				s.clear()
				s.emit(EventInitialSession, nil)
				return nil, nil
			}
			// Kept for StartAutoRefresh to retry once the backend is reachable.
			logger.Warn("Stored session could not be refreshed: %v", err)
			s.emit(EventInitialSession, &session)
			return copySession(&session), nil
		}
		s.setSession(refreshed)
		s.emit(EventInitialSession, refreshed)
		return refreshed, nil
	}

	s.emit(EventInitialSession, &session)
	return copySession(&session), nil
}

// SignInWithOAuth returns the provider authorize URL for a PKCE flow. The
// code verifier is kept in the device store until the callback is exchanged.
func (s *Service) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if provider == "" {
		return "", fmt.Errorf("auth: provider is required")
	}

	verifier, err := newCodeVerifier()
	if err != nil {
		return "", err
	}
	if err := s.store.Set(verifierKey, verifier); err != nil {
		return "", fmt.Errorf("store code verifier: %w", err)
	}

	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	q.Set("code_challenge", codeChallenge(verifier))
	q.Set("code_challenge_method", "s256")
	return s.authURL + "/authorize?" + q.Encode(), nil
}

func newCodeVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Callback is what an OAuth redirect carries.
type Callback struct {
	Code        string
	AccessToken string
	Values      url.Values
}

// ParseCallback extracts OAuth artifacts from a redirect URL: an access token
// in the fragment (implicit flow) or a code in the query (PKCE flow). Errors
// reported by the provider become an *APIError.
func ParseCallback(rawURL string) (*Callback, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse callback url: %w", err)
	}
	fragment, _ := url.ParseQuery(u.Fragment)
	query := u.Query()

	for _, v := range []url.Values{fragment, query} {
		if desc := v.Get("error_description"); desc != "" || v.Get("error") != "" {
			if desc == "" {
				desc = v.Get("error")
			}
			return nil, &APIError{Code: v.Get("error_code"), Message: desc}
		}
	}

	if token := fragment.Get("access_token"); token != "" {
		return &Callback{AccessToken: token, Values: fragment}, nil
	}
	if code := query.Get("code"); code != "" {
		return &Callback{Code: code, Values: query}, nil
	}
	return nil, ErrNoAuthArtifacts
}

// HasCallbackParams reports whether rawURL is an OAuth redirect, successful
// or not.
func HasCallbackParams(rawURL string) bool {
	_, err := ParseCallback(rawURL)
	if err == nil {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// ExchangeCodeForSession completes an OAuth redirect. A code or token that
// has already been exchanged returns the current session without another
// round trip.
func (s *Service) ExchangeCodeForSession(ctx context.Context, rawURL string) (*models.Session, error) {
	cb, err := ParseCallback(rawURL)
	if err != nil {
		return nil, err
	}

	artifact := cb.Code
	if artifact == "" {
		artifact = cb.AccessToken
	}
	s.mu.Lock()
	if s.exchanged[artifact] {
		current := copySession(s.session)
		s.mu.Unlock()
		logger.Debug("Callback already exchanged, ignoring")
		if current == nil {
			return nil, ErrNoSession
		}
		return current, nil
	}
	s.exchanged[artifact] = true
	s.mu.Unlock()

	var session *models.Session
	if cb.AccessToken != "" {
		session, err = s.sessionFromFragment(ctx, cb.Values)
	} else {
		session, err = s.exchangeCode(ctx, cb.Code)
	}
	if err != nil {
		s.mu.Lock()
		delete(s.exchanged, artifact)
		s.mu.Unlock()
		return nil, err
	}

	s.setSession(session)
	s.emit(EventSignedIn, session)
	return copySession(session), nil
}

func (s *Service) exchangeCode(ctx context.Context, code string) (*models.Session, error) {
	verifier, err := s.store.Get(verifierKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoVerifier
	}
	if err != nil {
		return nil, fmt.Errorf("load code verifier: %w", err)
	}

	body := map[string]string{"auth_code": code, "code_verifier": verifier}
	var resp tokenResponse
	if err := s.do(ctx, "auth.exchange", fasthttp.MethodPost, "/token?grant_type=pkce", "", body, &resp); err != nil {
		return nil, err
	}
	s.store.Delete(verifierKey)
	return s.sessionFromToken(&resp)
}

func (s *Service) sessionFromFragment(ctx context.Context, v url.Values) (*models.Session, error) {
	resp := tokenResponse{
		AccessToken:  v.Get("access_token"),
		RefreshToken: v.Get("refresh_token"),
		TokenType:    v.Get("token_type"),
	}
	if n, err := strconv.ParseInt(v.Get("expires_at"), 10, 64); err == nil {
		resp.ExpiresAt = n
	}
	if n, err := strconv.ParseInt(v.Get("expires_in"), 10, 64); err == nil {
		resp.ExpiresIn = n
	}
	return s.sessionFromToken(&resp)
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

func (s *Service) sessionFromToken(resp *tokenResponse) (*models.Session, error) {
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("auth: token response carries no access token")
	}
	claims, err := ParseClaims(resp.AccessToken, s.jwtSecret)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
	}
	switch {
	case resp.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(resp.ExpiresAt, 0).UTC()
	case resp.ExpiresIn > 0:
		session.ExpiresAt = s.now().Add(time.Duration(resp.ExpiresIn) * time.Second).UTC()
	default:
		session.ExpiresAt = claims.ExpiresAt()
	}
	if resp.User != nil && resp.User.ID != "" {
		session.User = *resp.User
	} else {
		session.User = models.User{ID: claims.Subject, Email: claims.Email}
	}
	if session.User.ID == "" {
		return nil, fmt.Errorf("auth: access token has no subject")
	}
	return session, nil
}

// RefreshSession trades the refresh token for a new session. A rejected
// refresh token signs the user out.
func (s *Service) RefreshSession(ctx context.Context) (*models.Session, error) {
	current := s.GetSession()
	if current == nil {
		return nil, ErrNoSession
	}
	session, err := s.refresh(ctx, current.RefreshToken)
	if err != nil {
		if rejected(err) {
			logger.Warn("Refresh token rejected, signing out: %v", err)
			s.clear()
			s.emit(EventSignedOut, nil)
		}
		return nil, err
	}
	s.setSession(session)
	s.emit(EventTokenRefreshed, session)
	return copySession(session), nil
}

// rejected reports whether the backend refused the refresh token itself, as
// opposed to the request failing.
func rejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Status == fasthttp.StatusBadRequest || apiErr.Status == fasthttp.StatusUnauthorized)
}

func (s *Service) refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("auth: session has no refresh token")
	}
	var resp tokenResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := s.do(ctx, "auth.refresh", fasthttp.MethodPost, "/token?grant_type=refresh_token", "", body, &resp); err != nil {
		return nil, err
	}
	return s.sessionFromToken(&resp)
}

// SignOut revokes the session server-side when possible and always clears it
// locally.
func (s *Service) SignOut(ctx context.Context) error {
	token := s.AccessToken()
	if token == "" {
		return nil
	}
	if err := s.do(ctx, "auth.logout", fasthttp.MethodPost, "/logout", token, nil, nil); err != nil {
		logger.Warn("Server-side sign out failed: %v", err)
	}
	s.clear()
	s.emit(EventSignedOut, nil)
	return nil
}

// StartAutoRefresh refreshes the session shortly before it expires until ctx
// is cancelled.
func (s *Service) StartAutoRefresh(ctx context.Context) {
	go func() {
		for {
			wait := time.Minute
			if session := s.GetSession(); session != nil && !session.ExpiresAt.IsZero() {
				wait = session.ExpiresAt.Sub(s.now()) - s.margin
				if wait < 0 {
					wait = 0
				}
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			session := s.GetSession()
			if session == nil || !session.Expired(s.now(), s.margin) {
				continue
			}
			if _, err := s.RefreshSession(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("Automatic token refresh failed: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.margin / 2):
				}
			}
		}
	}()
}

func (s *Service) setSession(session *models.Session) {
	s.mu.Lock()
	s.session = copySession(session)
	s.mu.Unlock()

	raw, err := json.Marshal(session)
	if err != nil {
		logger.Error("Failed to encode session: %v", err)
		return
	}
	if err := s.store.Set(sessionKey, string(raw)); err != nil {
		logger.Error("Failed to persist session: %v", err)
	}
}

func (s *Service) clear() {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	if err := s.store.Delete(sessionKey); err != nil {
		logger.Warn("Failed to remove stored session: %v", err)
	}
}

type gotrueError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e *gotrueError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (s *Service) do(ctx context.Context, op, method, path, bearer string, body, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.authURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("apikey", s.apiKey)
	if bearer == "" {
		bearer = s.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", op, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(raw)
	}

	start := time.Now()
	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = s.client.DoDeadline(req, resp, deadline)
	} else {
		err = s.client.DoTimeout(req, resp, s.timeout)
	}
	if err != nil {
		metrics.ObserveRequest(op, "error", start)
		return fmt.Errorf("%s: %w", op, err)
	}

	status := resp.StatusCode()
	metrics.ObserveRequest(op, strconv.Itoa(status), start)

	if status >= 300 {
		apiErr := &APIError{Status: status, Message: fmt.Sprintf("%s failed with status %d", op, status)}
		var ge gotrueError
		if json.Unmarshal(resp.Body(), &ge) == nil {
			if text := ge.text(); text != "" {
				apiErr.Message = text
			}
			apiErr.Code = ge.ErrorCode
		}
		return apiErr
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
