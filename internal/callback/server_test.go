package callback

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SJKodehode/tutorial-chat-app/internal/metrics"
)

type linkLog struct {
	mu    sync.Mutex
	links []string
	err   error
}

func (l *linkLog) handle(ctx context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.links = append(l.links, url)
	return l.err
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestCallbackDeliversCode(t *testing.T) {
	links := &linkLog{}
	srv := httptest.NewServer(NewServer(Options{}, links.handle).Router())
	defer srv.Close()

	status, body := get(t, srv.URL+Path+"?code=abc")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Signed in")
	require.Len(t, links.links, 1)
	assert.Equal(t, "http://"+srv.Listener.Addr().String()+Path+"?code=abc", links.links[0])
}

func TestCallbackFragmentRoundTrip(t *testing.T) {
	links := &linkLog{}
	srv := httptest.NewServer(NewServer(Options{}, links.handle).Router())
	defer srv.Close()

	status, body := get(t, srv.URL+Path)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, Path+"/fragment?")
	assert.Empty(t, links.links)

	get(t, srv.URL+Path+"/fragment?access_token=tok&refresh_token=r1")
	require.Len(t, links.links, 1)
	assert.Equal(t, "http://"+srv.Listener.Addr().String()+Path+"#access_token=tok&refresh_token=r1", links.links[0])
}

func TestCallbackReportsFailure(t *testing.T) {
	links := &linkLog{err: errors.New("invalid flow state, no valid flow state found")}
	srv := httptest.NewServer(NewServer(Options{}, links.handle).Router())
	defer srv.Close()

	status, body := get(t, srv.URL+Path+"?code=abc")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "invalid flow state")
}

func TestMetricsEndpointIsOptional(t *testing.T) {
	metrics.RealtimeReconnectsTotal.Add(0)

	off := httptest.NewServer(NewServer(Options{}, (&linkLog{}).handle).Router())
	defer off.Close()
	status, _ := get(t, off.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, status)

	on := httptest.NewServer(NewServer(Options{MetricsEnabled: true}, (&linkLog{}).handle).Router())
	defer on.Close()
	status, body := get(t, on.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "chat_realtime_reconnects_total")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := NewServer(Options{Addr: "127.0.0.1:0"}, (&linkLog{}).handle)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	status, _ := get(t, "http://"+s.Addr()+"/health")
	assert.Equal(t, http.StatusOK, status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
