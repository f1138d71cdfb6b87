// Package authflow orchestrates the interactive OAuth authorization
// flow: loopback callback server, PKCE, CSRF state, browser launch,
// token exchange, and timeout/cancellation.
package authflow

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"go.uber.org/zap"

	"github.com/SameeranB/ii-client/internal/model"
	"github.com/SameeranB/ii-client/internal/oauth"
	"github.com/SameeranB/ii-client/internal/service"
)

// Flow states pushed to event subscribers.
type State string

const (
	StateStarting         State = "starting"
	StateAwaitingRedirect State = "awaiting_redirect"
	StateExchanging       State = "exchanging"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
	StateTimedOut         State = "timed_out"
)

// Event is a flow state transition.
type Event struct {
	FlowID string `json:"flow_id"`
	State  State  `json:"state"`
	Detail string `json:"detail,omitempty"`
}

// Notify receives flow events. May be nil.
type Notify func(Event)

// Result is the terminal outcome of a flow.
type Result struct {
	Info *service.CredentialInfo
	Err  error
}

// Flow is a handle to one in-flight authorization session.
type Flow struct {
	ID      string
	Port    int
	AuthURL string

	done chan Result
}

// Done delivers the flow's single terminal result.
func (f *Flow) Done() <-chan Result {
	return f.done
}

// Options configure the controller.
type Options struct {
	PortMin int
	PortMax int
	Timeout time.Duration

	// OpenBrowser launches the system browser. Defaults to
	// browser.OpenURL; injectable for tests.
	OpenBrowser func(url string) error
}

// session holds everything owned by one in-flight flow. Exactly one
// terminal settlement happens per session, enforced by once.
type session struct {
	flow        *Flow
	csrfState   string
	pkce        *oauth.PKCEChallenge
	redirectURI string
	server      *callbackServer
	timer       *time.Timer
	once        sync.Once
}

// Controller owns the single active authorization session. Starting a
// new flow tears down any previous one; two callback listeners never
// coexist in the same process.
type Controller struct {
	client *oauth.Client
	creds  *service.CredentialService
	opts   Options
	logger *zap.Logger
	notify Notify

	mu      sync.Mutex
	current *session
}

// New creates a Controller.
func New(client *oauth.Client, creds *service.CredentialService, opts Options, logger *zap.Logger, notify Notify) *Controller {
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = browser.OpenURL
	}
	return &Controller{
		client: client,
		creds:  creds,
		opts:   opts,
		logger: logger,
		notify: notify,
	}
}

// Start begins a new authorization flow. Any previous flow is cancelled
// first. timeout <= 0 uses the configured default.
func (c *Controller) Start(timeout time.Duration) (*Flow, error) {
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}

	c.Cancel()

	srv, err := bindLoopback(c.opts.PortMin, c.opts.PortMax)
	if err != nil {
		c.logger.Error("callback port allocation failed",
			zap.Int("min", c.opts.PortMin), zap.Int("max", c.opts.PortMax))
		return nil, err
	}

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		srv.close()
		return nil, err
	}
	csrfState, err := oauth.GenerateState()
	if err != nil {
		srv.close()
		return nil, err
	}

	redirectURI := "http://localhost:" + strconv.Itoa(srv.port) + "/callback"
	flow := &Flow{
		ID:      uuid.New().String(),
		Port:    srv.port,
		AuthURL: c.client.AuthCodeURL(csrfState, redirectURI, pkce),
		done:    make(chan Result, 1),
	}

	sess := &session{
		flow:        flow,
		csrfState:   csrfState,
		pkce:        pkce,
		redirectURI: redirectURI,
		server:      srv,
	}

	c.emit(flow.ID, StateStarting, "")
	c.logger.Info("authorization flow started",
		zap.String("flow_id", flow.ID), zap.Int("port", srv.port))

	// The session is armed, served, and published under the mutex so
	// settle (which also takes the mutex) can never observe a
	// half-built session from a concurrent Cancel or timeout.
	c.mu.Lock()
	sess.timer = time.AfterFunc(timeout, func() {
		c.settle(sess, Result{Err: ErrFlowTimeout}, StateTimedOut, "")
	})
	srv.serve(func(w http.ResponseWriter, r *http.Request) {
		c.handleCallback(sess, w, r)
	})
	c.current = sess
	c.mu.Unlock()

	if err := c.opts.OpenBrowser(flow.AuthURL); err != nil {
		c.logger.Error("browser launch failed", zap.Error(err))
		c.settle(sess, Result{Err: ErrBrowserLaunch}, StateFailed, ErrBrowserLaunch.Error())
		return nil, ErrBrowserLaunch
	}

	c.emit(flow.ID, StateAwaitingRedirect, "")
	return flow, nil
}

// Cancel aborts any in-flight flow. Idempotent; cancelling when no flow
// is active is a no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess == nil {
		return
	}
	c.settle(sess, Result{Err: ErrFlowCancelled}, StateCancelled, "")
}

// InProgress reports whether a callback listener is currently bound for
// an active session.
func (c *Controller) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// handleCallback processes the provider redirect. Validation order
// matters: provider error first, then CSRF state, then the code. The
// state check must pass before the code is used for anything.
func (c *Controller) handleCallback(sess *session, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		authErr := &AuthorizationError{Code: errParam, Description: q.Get("error_description")}
		renderError(w, authErr.Error())
		c.settle(sess, Result{Err: authErr}, StateFailed, authErr.Code)
		return
	}

	if state := q.Get("state"); state == "" || state != sess.csrfState {
		// Log only; the page never shows which value was expected.
		c.logger.Warn("callback state mismatch", zap.String("flow_id", sess.flow.ID))
		renderError(w, "State mismatch. This may indicate a cross-site request forgery attempt.")
		c.settle(sess, Result{Err: ErrCSRFMismatch}, StateFailed, "state mismatch")
		return
	}

	code := q.Get("code")
	if code == "" {
		renderError(w, "No authorization code received.")
		c.settle(sess, Result{Err: ErrMissingCode}, StateFailed, "missing code")
		return
	}
	// Some providers append extraneous data after a fragment marker.
	code = strings.SplitN(code, "#", 2)[0]

	c.emit(sess.flow.ID, StateExchanging, "")

	// The browser may drop the connection while we exchange; the
	// exchange runs to completion regardless.
	tokens, err := c.client.ExchangeCode(context.Background(), code, sess.redirectURI, sess.pkce.CodeVerifier)
	if err != nil {
		renderError(w, "Token exchange failed: "+err.Error())
		c.settle(sess, Result{Err: err}, StateFailed, err.Error())
		return
	}

	payload := &service.TokenPayload{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
		Scopes:       c.client.Scopes,
	}
	info, err := c.creds.Persist(context.Background(), model.AuthTypeOAuth, payload)
	if err != nil {
		renderError(w, "Failed to store credential: "+err.Error())
		c.settle(sess, Result{Err: err}, StateFailed, err.Error())
		return
	}

	renderSuccess(w)
	c.settle(sess, Result{Info: info}, StateSucceeded, "")
}

// settle delivers the terminal result exactly once and releases the
// session's resources. Safe to call from the timeout timer, the
// callback handler, and Cancel concurrently.
func (c *Controller) settle(sess *session, res Result, state State, detail string) {
	sess.once.Do(func() {
		c.mu.Lock()
		if sess.timer != nil {
			sess.timer.Stop()
		}
		if c.current == sess {
			c.current = nil
		}
		c.mu.Unlock()

		sess.server.close()

		sess.flow.done <- res

		switch state {
		case StateCancelled:
			c.logger.Info("authorization flow cancelled", zap.String("flow_id", sess.flow.ID))
		case StateSucceeded:
			c.logger.Info("authorization flow succeeded", zap.String("flow_id", sess.flow.ID))
		default:
			c.logger.Warn("authorization flow failed",
				zap.String("flow_id", sess.flow.ID), zap.Error(res.Err))
		}
		c.emit(sess.flow.ID, state, detail)
	})
}

func (c *Controller) emit(flowID string, state State, detail string) {
	if c.notify != nil {
		c.notify(Event{FlowID: flowID, State: state, Detail: detail})
	}
}
