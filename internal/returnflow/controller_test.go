package returnflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordingNavigator captures navigations instead of performing them
type recordingNavigator struct {
	mu   sync.Mutex
	urls []string
}

func (n *recordingNavigator) Navigate(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
}

func (n *recordingNavigator) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.urls...)
}

// manualScheduler holds scheduled callbacks until the test fires them
type manualScheduler struct {
	mu      sync.Mutex
	pending []scheduled
}

type scheduled struct {
	delay time.Duration
	fn    func()
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, scheduled{delay: d, fn: fn})
}

func (s *manualScheduler) fireAll() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, p := range pending {
		p.fn()
	}
}

// failingTransport simulates an unreachable callback endpoint
type failingTransport struct{}

func (failingTransport) Do(req *http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func newController(t *testing.T, cfg Config, client interface {
	Do(*http.Request) (*http.Response, error)
}, nav *recordingNavigator, sched *manualScheduler) (*Controller, *[]State) {
	t.Helper()
	c := New(cfg, client, nav, sched, zaptest.NewLogger(t))
	transitions := &[]State{}
	c.OnTransition(func(s State) {
		*transitions = append(*transitions, s)
	})
	return c, transitions
}

func TestRun_ConfirmedWithAutoRedirect(t *testing.T) {
	var gotToken string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, decodeJSON(r, &body))
		gotToken = body["token_ws"]
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"token_ws":"ABC123","commit":{"status":"AUTHORIZED","response_code":0}}`))
	}))
	defer backend.Close()

	nav := &recordingNavigator{}
	sched := &manualScheduler{}
	c, transitions := newController(t, Config{
		CallbackURL:  backend.URL,
		SuccessURL:   "https://app.example/pago-exitoso",
		FailureURL:   "https://app.example/pago-fallido",
		AutoRedirect: true,
	}, http.DefaultClient, nav, sched)

	final := c.Run(context.Background(), "https://app.example/retorno?token_ws=ABC123")

	assert.Equal(t, StateConfirmed, final)
	assert.Equal(t, []State{StateSending, StateConfirmed}, *transitions)
	assert.Equal(t, "ABC123", gotToken)

	// Navigation fires after the delay, not before
	assert.Empty(t, nav.visited())
	sched.fireAll()
	assert.Equal(t, []string{"https://app.example/pago-exitoso"}, nav.visited())
}

func TestRun_NoTokenMakesNoRequest(t *testing.T) {
	calls := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer backend.Close()

	nav := &recordingNavigator{}
	sched := &manualScheduler{}
	c, transitions := newController(t, Config{
		CallbackURL:  backend.URL,
		AutoRedirect: true,
	}, http.DefaultClient, nav, sched)

	final := c.Run(context.Background(), "https://app.example/retorno?foo=bar")

	assert.Equal(t, StateNoToken, final)
	assert.Equal(t, []State{StateNoToken}, *transitions)
	assert.Zero(t, calls, "missing token is terminal without any network call")

	sched.fireAll()
	assert.Empty(t, nav.visited())
}

func TestRun_RejectedOnErrorStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error":"token_ws missing"}`))
	}))
	defer backend.Close()

	nav := &recordingNavigator{}
	sched := &manualScheduler{}
	c, transitions := newController(t, Config{
		CallbackURL:  backend.URL,
		SuccessURL:   "https://app.example/ok",
		FailureURL:   "https://app.example/fail",
		AutoRedirect: true,
	}, http.DefaultClient, nav, sched)

	final := c.Run(context.Background(), "https://app.example/retorno?token_ws=BAD")

	assert.Equal(t, StateRejected, final)
	assert.Equal(t, []State{StateSending, StateRejected}, *transitions)

	sched.fireAll()
	assert.Equal(t, []string{"https://app.example/fail"}, nav.visited())
}

func TestRun_RejectedWhenHandlerSaysNotOk(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Business decline: transport-level 200, decision ok=false
		w.Write([]byte(`{"ok":false,"token_ws":"DEC","commit":{"status":"FAILED","response_code":-1}}`))
	}))
	defer backend.Close()

	nav := &recordingNavigator{}
	sched := &manualScheduler{}
	c, _ := newController(t, Config{
		CallbackURL: backend.URL,
		FailureURL:  "https://app.example/fail",
	}, http.DefaultClient, nav, sched)

	final := c.Run(context.Background(), "https://app.example/retorno?token_ws=DEC")
	assert.Equal(t, StateRejected, final)
}

func TestRun_UnreachableBackend(t *testing.T) {
	nav := &recordingNavigator{}
	sched := &manualScheduler{}
	c, transitions := newController(t, Config{
		CallbackURL:  "http://backend.invalid/callback",
		FailureURL:   "https://app.example/fail",
		AutoRedirect: true,
	}, failingTransport{}, nav, sched)

	final := c.Run(context.Background(), "https://app.example/retorno?token_ws=XYZ")

	assert.Equal(t, StateUnreachable, final)
	assert.Equal(t, []State{StateSending, StateUnreachable}, *transitions)

	sched.fireAll()
	assert.Equal(t, []string{"https://app.example/fail"}, nav.visited())
}

func TestRun_NoAutoRedirectExposesDestinations(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	nav := &recordingNavigator{}
	sched := &manualScheduler{}
	c, _ := newController(t, Config{
		CallbackURL:  backend.URL,
		SuccessURL:   "https://app.example/ok",
		FailureURL:   "https://app.example/fail",
		AutoRedirect: false,
	}, http.DefaultClient, nav, sched)

	final := c.Run(context.Background(), "https://app.example/retorno?token_ws=MANUAL")
	assert.Equal(t, StateConfirmed, final)

	// Nothing scheduled; the page offers both destinations instead
	sched.fireAll()
	assert.Empty(t, nav.visited())

	success, failure := c.Destinations()
	assert.Equal(t, "https://app.example/ok", success)
	assert.Equal(t, "https://app.example/fail", failure)
}

func TestRun_DelaysGrowWithSeverity(t *testing.T) {
	nav := &recordingNavigator{}
	sched := &manualScheduler{}
	c, _ := newController(t, Config{
		CallbackURL:  "http://backend.invalid/callback",
		FailureURL:   "https://app.example/fail",
		AutoRedirect: true,
	}, failingTransport{}, nav, sched)

	c.Run(context.Background(), "https://app.example/retorno?token_ws=XYZ")

	require.Len(t, sched.pending, 1)
	assert.Equal(t, DefaultUnreachableDelay, sched.pending[0].delay)
	assert.Greater(t, DefaultUnreachableDelay, DefaultRejectedDelay)
	assert.Greater(t, DefaultRejectedDelay, DefaultConfirmedDelay)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
