// Package returnflow drives the user-visible confirmation journey after the
// gateway redirects the buyer back with a one-time token. It is the
// server-rendered counterpart of the return page: a small state machine
// whose transitions are decided solely by the outcome of one callback
// request.
package returnflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/habitatmarket/webpay-service/internal/domain"
	"github.com/habitatmarket/webpay-service/internal/domain/ports"
	"go.uber.org/zap"
)

// State is a step of the confirmation journey. Every state except Init and
// Sending is terminal for one page visit.
type State string

const (
	StateInit        State = "init"
	StateNoToken     State = "notoken"
	StateSending     State = "sending"
	StateConfirmed   State = "confirmed"
	StateRejected    State = "rejected"
	StateUnreachable State = "backend_unreachable"
)

// Default delays before auto-navigation fires: long enough to read the
// outcome, with failures held slightly longer than confirmations.
const (
	DefaultConfirmedDelay   = 3 * time.Second
	DefaultRejectedDelay    = 5 * time.Second
	DefaultUnreachableDelay = 8 * time.Second
)

// Config locates the callback endpoint and the navigation destinations.
// All of it is provided at construction time; the controller reads no
// process environment.
type Config struct {
	CallbackURL  string
	SuccessURL   string
	FailureURL   string
	AutoRedirect bool

	// Zero values fall back to the package defaults
	ConfirmedDelay   time.Duration
	RejectedDelay    time.Duration
	UnreachableDelay time.Duration
}

// Navigator performs the redirect to the success or failure destination
type Navigator interface {
	Navigate(url string)
}

// Scheduler defers a navigation. The scheduled callback is fire-and-forget:
// if the visit ends before it fires, it is simply abandoned.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

// TimerScheduler schedules on real timers
type TimerScheduler struct{}

func (TimerScheduler) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// Controller runs the confirmation state machine for one return-page visit
type Controller struct {
	config    Config
	client    ports.HTTPClient
	navigator Navigator
	scheduler Scheduler
	logger    *zap.Logger

	mu       sync.Mutex
	state    State
	onChange []func(State)
}

// New creates a controller in the init state
func New(config Config, client ports.HTTPClient, navigator Navigator, scheduler Scheduler, logger *zap.Logger) *Controller {
	if config.ConfirmedDelay == 0 {
		config.ConfirmedDelay = DefaultConfirmedDelay
	}
	if config.RejectedDelay == 0 {
		config.RejectedDelay = DefaultRejectedDelay
	}
	if config.UnreachableDelay == 0 {
		config.UnreachableDelay = DefaultUnreachableDelay
	}
	return &Controller{
		config:    config,
		client:    client,
		navigator: navigator,
		scheduler: scheduler,
		logger:    logger,
		state:     StateInit,
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnTransition registers a hook invoked on every state change, in order.
// The rendering layer uses it to switch what the user sees.
func (c *Controller) OnTransition(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Destinations returns the success and failure URLs so terminal states can
// offer manual navigation when auto-redirect is disabled
func (c *Controller) Destinations() (successURL, failureURL string) {
	return c.config.SuccessURL, c.config.FailureURL
}

// Run processes one return-page visit: parse the token out of returnURL,
// confirm it against the callback endpoint, and land in a terminal state.
// It returns the terminal state reached.
func (c *Controller) Run(ctx context.Context, returnURL string) State {
	token := tokenFromURL(returnURL)
	if token == "" {
		c.logger.Warn("Return page visited without token",
			zap.String("url", returnURL),
		)
		c.setState(StateNoToken)
		return StateNoToken
	}

	c.setState(StateSending)

	ok, reachable := c.confirm(ctx, token)
	switch {
	case ok:
		c.setState(StateConfirmed)
		c.scheduleRedirect(c.config.SuccessURL, c.config.ConfirmedDelay)
		return StateConfirmed
	case reachable:
		c.setState(StateRejected)
		c.scheduleRedirect(c.config.FailureURL, c.config.RejectedDelay)
		return StateRejected
	default:
		c.setState(StateUnreachable)
		c.scheduleRedirect(c.config.FailureURL, c.config.UnreachableDelay)
		return StateUnreachable
	}
}

// confirm issues the single callback request. ok reports a confirmed
// payment; reachable distinguishes a decline from not getting an answer at
// all. A success status confirms, except when the handler's body itself
// carries ok=false: the callback answers 200 for business declines, and the
// decision field wins over the transport status.
func (c *Controller) confirm(ctx context.Context, token string) (ok, reachable bool) {
	payload, err := json.Marshal(map[string]string{"token_ws": token})
	if err != nil {
		return false, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.CallbackURL, bytes.NewReader(payload))
	if err != nil {
		c.logger.Error("Failed to build callback request", zap.Error(err))
		return false, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Callback endpoint unreachable",
			zap.String("token_ws", token),
			zap.Error(err),
		)
		return false, false
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, true
	}

	var decision struct {
		Ok *bool `json:"ok"`
	}
	if err := json.Unmarshal(body, &decision); err == nil && decision.Ok != nil && !*decision.Ok {
		return false, true
	}
	return true, true
}

func (c *Controller) scheduleRedirect(destination string, delay time.Duration) {
	if !c.config.AutoRedirect || destination == "" {
		return
	}
	c.scheduler.AfterFunc(delay, func() {
		c.navigator.Navigate(destination)
	})
}

func (c *Controller) setState(next State) {
	c.mu.Lock()
	c.state = next
	hooks := make([]func(State), len(c.onChange))
	copy(hooks, c.onChange)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(next)
	}
}

func tokenFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return domain.TokenFromValues(parsed.Query())
}
