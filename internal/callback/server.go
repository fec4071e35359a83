package callback

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

// Path is where OAuth providers redirect to on the web target.
const Path = "/auth-callback"

// LinkHandler completes an OAuth redirect, e.g. Orchestrator.HandleDeepLink.
type LinkHandler func(ctx context.Context, url string) error

type Options struct {
	Addr           string
	MetricsEnabled bool
	Timeout        time.Duration
}

// Server receives OAuth redirects on a loopback address and passes them on
// as deep links. Implicit-flow tokens travel in the URL fragment, which
// browsers never send, so a small page forwards the fragment back as a
// query string.
type Server struct {
	opts    Options
	handler LinkHandler
	srv     *http.Server
	ln      net.Listener
}

func NewServer(opts Options, handler LinkHandler) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	s := &Server{opts: opts, handler: handler}
	s.srv = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: opts.Timeout + 5*time.Second,
	}
	return s
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(Path, s.handleCallback).Methods("GET")
	r.HandleFunc(Path+"/fragment", s.handleFragment).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")
	if s.opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}
	return r
}

// Listen binds the address; Addr then reports the bound address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	s.ln = ln
	return nil
}

func (s *Server) Addr() string {
	if s.ln == nil {
		return s.opts.Addr
	}
	return s.ln.Addr().String()
}

// Serve blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	logger.Info("Callback server listening on http://%s%s", s.Addr(), Path)
	if s.opts.MetricsEnabled {
		logger.Info("Metrics endpoint: http://%s/metrics", s.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Callback server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

var resultPage = template.Must(template.New("result").Parse(`<!doctype html>
<html><head><title>tutorial-chat-app</title></head>
<body><p>{{.}}</p></body></html>
`))

const fragmentPage = `<!doctype html>
<html><head><title>tutorial-chat-app</title></head>
<body><p>Completing sign-in...</p>
<script>
if (window.location.hash.length > 1) {
  window.location.replace("` + Path + `/fragment?" + window.location.hash.substring(1));
} else {
  document.body.innerHTML = "<p>Nothing to complete. You can close this window.</p>";
}
</script></body></html>
`

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("code") == "" && q.Get("error") == "" && q.Get("error_description") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, fragmentPage)
		return
	}
	s.complete(w, r, s.selfURL(r)+"?"+r.URL.RawQuery)
}

func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request) {
	s.complete(w, r, s.selfURL(r)+"#"+r.URL.RawQuery)
}

func (s *Server) selfURL(r *http.Request) string {
	return "http://" + r.Host + Path
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request, link string) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.Timeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.handler(ctx, link); err != nil {
		logger.Error("OAuth callback error: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		resultPage.Execute(w, "Sign-in failed: "+err.Error())
		return
	}
	resultPage.Execute(w, "Signed in. You can close this window.")
}
