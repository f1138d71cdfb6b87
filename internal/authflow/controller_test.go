package authflow

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SameeranB/ii-client/internal/model"
	"github.com/SameeranB/ii-client/internal/oauth"
	"github.com/SameeranB/ii-client/internal/service"
	"github.com/SameeranB/ii-client/internal/store"
)

// fakeProvider is a token endpoint that counts exchange calls and
// records the last authorization code it was handed.
type fakeProvider struct {
	srv   *httptest.Server
	calls atomic.Int32

	mu       sync.Mutex
	lastCode string
}

func newFakeProvider(t *testing.T, status int, body string) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		if err := r.ParseForm(); err == nil {
			p.mu.Lock()
			p.lastCode = r.Form.Get("code")
			p.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) code() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCode
}

func newTestController(t *testing.T, tokenURL string, notify Notify) (*Controller, *string) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	credSvc, err := service.NewCredentialService(store.New(db), []byte("test secret"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewCredentialService() error = %v", err)
	}

	client := oauth.NewClient("test-client", "https://example.com/authorize", tokenURL,
		[]string{"user:inference"})

	var opened string
	ctrl := New(client, credSvc, Options{
		PortMin: 54545,
		PortMax: 54559,
		Timeout: 5 * time.Second,
		OpenBrowser: func(u string) error {
			opened = u
			return nil
		},
	}, zap.NewNop(), notify)
	t.Cleanup(ctrl.Cancel)
	return ctrl, &opened
}

// hitCallback performs the redirect the provider would issue.
func hitCallback(t *testing.T, port int, query url.Values) string {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?%s", port, query.Encode()))
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func waitResult(t *testing.T, f *Flow) Result {
	t.Helper()
	select {
	case res := <-f.Done():
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("flow never settled")
		return Result{}
	}
}

func stateFromAuthURL(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("bad auth URL: %v", err)
	}
	return u.Query().Get("state")
}

func TestStart_Success(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK,
		`{"access_token":"at-flow","refresh_token":"rt-flow","expires_in":3600}`)
	ctrl, opened := newTestController(t, provider.srv.URL, nil)

	flow, err := ctrl.Start(0)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if *opened != flow.AuthURL {
		t.Errorf("browser opened %q, want %q", *opened, flow.AuthURL)
	}
	if flow.Port < 54545 || flow.Port > 54559 {
		t.Errorf("port %d outside configured range", flow.Port)
	}
	if !ctrl.InProgress() {
		t.Error("InProgress() = false during active flow")
	}

	body := hitCallback(t, flow.Port, url.Values{
		"code":  {"good-code#extra-fragment"},
		"state": {stateFromAuthURL(t, flow.AuthURL)},
	})
	if !strings.Contains(body, "Authorization Successful") {
		t.Errorf("success page not rendered: %s", body)
	}

	res := waitResult(t, flow)
	if res.Err != nil {
		t.Fatalf("flow failed: %v", res.Err)
	}
	if res.Info == nil || res.Info.AuthType != model.AuthTypeOAuth {
		t.Errorf("result info = %+v", res.Info)
	}
	if ctrl.InProgress() {
		t.Error("InProgress() = true after settlement")
	}
	if got := provider.calls.Load(); got != 1 {
		t.Errorf("exchange calls = %d, want 1", got)
	}
	// The fragment suffix must be stripped before the exchange.
	if got := provider.code(); got != "good-code" {
		t.Errorf("exchanged code = %q, want %q", got, "good-code")
	}
}

func TestCallback_ProviderError_NoExchange(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, `{}`)
	ctrl, _ := newTestController(t, provider.srv.URL, nil)

	flow, err := ctrl.Start(0)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	body := hitCallback(t, flow.Port, url.Values{
		"error":             {"access_denied"},
		"error_description": {"User denied access"},
	})
	if !strings.Contains(body, "access_denied") {
		t.Errorf("error page missing provider error: %s", body)
	}

	res := waitResult(t, flow)
	var authErr *AuthorizationError
	if !errors.As(res.Err, &authErr) {
		t.Fatalf("error type = %T, want *AuthorizationError", res.Err)
	}
	if !strings.Contains(res.Err.Error(), "access_denied") {
		t.Errorf("error = %v, want access_denied mention", res.Err)
	}
	if got := provider.calls.Load(); got != 0 {
		t.Errorf("exchange calls = %d, want 0", got)
	}
}

func TestCallback_StateMismatch_NoExchange(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, `{}`)
	ctrl, _ := newTestController(t, provider.srv.URL, nil)

	flow, err := ctrl.Start(0)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	hitCallback(t, flow.Port, url.Values{
		"code":  {"valid-looking-code"},
		"state": {"wrong-value"},
	})

	res := waitResult(t, flow)
	if !errors.Is(res.Err, ErrCSRFMismatch) {
		t.Fatalf("error = %v, want ErrCSRFMismatch", res.Err)
	}
	if got := provider.calls.Load(); got != 0 {
		t.Errorf("exchange calls = %d, want 0", got)
	}
}

func TestCallback_MissingCode(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, `{}`)
	ctrl, _ := newTestController(t, provider.srv.URL, nil)

	flow, err := ctrl.Start(0)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	hitCallback(t, flow.Port, url.Values{
		"state": {stateFromAuthURL(t, flow.AuthURL)},
	})

	res := waitResult(t, flow)
	if !errors.Is(res.Err, ErrMissingCode) {
		t.Fatalf("error = %v, want ErrMissingCode", res.Err)
	}
}

func TestCallback_ExchangeRejected(t *testing.T) {
	provider := newFakeProvider(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	ctrl, _ := newTestController(t, provider.srv.URL, nil)

	flow, err := ctrl.Start(0)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	hitCallback(t, flow.Port, url.Values{
		"code":  {"expired-code"},
		"state": {stateFromAuthURL(t, flow.AuthURL)},
	})

	res := waitResult(t, flow)
	var exchangeErr *oauth.ExchangeError
	if !errors.As(res.Err, &exchangeErr) {
		t.Fatalf("error type = %T, want *ExchangeError", res.Err)
	}
	if !strings.Contains(res.Err.Error(), "400") || !strings.Contains(res.Err.Error(), "invalid_grant") {
		t.Errorf("error = %v, want 400 and invalid_grant", res.Err)
	}
}

func TestStart_Timeout(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, `{}`)
	ctrl, _ := newTestController(t, provider.srv.URL, nil)

	flow, err := ctrl.Start(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res := waitResult(t, flow)
	if !errors.Is(res.Err, ErrFlowTimeout) {
		t.Fatalf("error = %v, want ErrFlowTimeout", res.Err)
	}
	if ctrl.InProgress() {
		t.Error("InProgress() = true after timeout")
	}
}

func TestCancel_ReleasesPort(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, `{}`)
	ctrl, _ := newTestController(t, provider.srv.URL, nil)

	flow, err := ctrl.Start(0)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctrl.Cancel()

	res := waitResult(t, flow)
	if !errors.Is(res.Err, ErrFlowCancelled) {
		t.Fatalf("error = %v, want ErrFlowCancelled", res.Err)
	}

	// The port must be immediately reusable.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", flow.Port))
	if err != nil {
		t.Fatalf("port %d not released after cancel: %v", flow.Port, err)
	}
	l.Close()

	// Cancelling again is a no-op.
	ctrl.Cancel()
}

func TestStart_SupersedesPreviousFlow(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, `{}`)
	ctrl, _ := newTestController(t, provider.srv.URL, nil)

	first, err := ctrl.Start(0)
	if err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	second, err := ctrl.Start(0)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	res := waitResult(t, first)
	if !errors.Is(res.Err, ErrFlowCancelled) {
		t.Errorf("first flow error = %v, want ErrFlowCancelled", res.Err)
	}

	// A replayed callback against the first flow's state finds no live
	// session to match: the first port was either released or rebound
	// to the second session, whose state differs.
	hitCallback(t, second.Port, url.Values{
		"code":  {"replayed-code"},
		"state": {stateFromAuthURL(t, first.AuthURL)},
	})
	res = waitResult(t, second)
	if !errors.Is(res.Err, ErrCSRFMismatch) {
		t.Errorf("second flow error = %v, want ErrCSRFMismatch", res.Err)
	}
	if got := provider.calls.Load(); got != 0 {
		t.Errorf("exchange calls = %d, want 0", got)
	}
}

// Start and Cancel race from different goroutines in normal operation:
// the shell can cancel while a retry is starting. Settlement must never
// observe a half-built session.
func TestStart_ConcurrentCancel(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, `{}`)
	ctrl, _ := newTestController(t, provider.srv.URL, nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				ctrl.Cancel()
			}
		}
	}()

	for i := 0; i < 25; i++ {
		if _, err := ctrl.Start(0); err != nil {
			t.Fatalf("Start() #%d error = %v", i, err)
		}
	}

	close(stop)
	wg.Wait()
	ctrl.Cancel()
	if ctrl.InProgress() {
		t.Error("InProgress() = true after final cancel")
	}
}

func TestStart_NoPortAvailable(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, `{}`)
	ctrl, _ := newTestController(t, provider.srv.URL, nil)
	ctrl.opts.PortMin = 54550
	ctrl.opts.PortMax = 54550

	// Occupy the single port in the range.
	l, err := net.Listen("tcp", "127.0.0.1:54550")
	if err != nil {
		t.Skipf("cannot occupy test port: %v", err)
	}
	defer l.Close()

	if _, err := ctrl.Start(0); !errors.Is(err, ErrNoPortAvailable) {
		t.Errorf("Start() error = %v, want ErrNoPortAvailable", err)
	}
}

func TestCallbackServer_HealthAndNotFound(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK, `{}`)
	ctrl, _ := newTestController(t, provider.srv.URL, nil)

	flow, err := ctrl.Start(0)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", flow.Port))
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}

	resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/nope", flow.Port))
	if err != nil {
		t.Fatalf("404 request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp.StatusCode)
	}
}

func TestFlowEvents(t *testing.T) {
	provider := newFakeProvider(t, http.StatusOK,
		`{"access_token":"at-ev","expires_in":3600}`)
	var mu sync.Mutex
	var events []Event
	done := make(chan struct{})
	notify := func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		if e.State == StateSucceeded {
			close(done)
		}
	}
	ctrl, _ := newTestController(t, provider.srv.URL, notify)

	flow, err := ctrl.Start(0)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	hitCallback(t, flow.Port, url.Values{
		"code":  {"code-ev"},
		"state": {stateFromAuthURL(t, flow.AuthURL)},
	})
	waitResult(t, flow)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("succeeded event never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateStarting, StateAwaitingRedirect, StateExchanging, StateSucceeded}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want states %v", events, want)
	}
	for i, s := range want {
		if events[i].State != s {
			t.Errorf("event[%d] = %s, want %s", i, events[i].State, s)
		}
		if events[i].FlowID != flow.ID {
			t.Errorf("event[%d] flow id = %s, want %s", i, events[i].FlowID, flow.ID)
		}
	}
}
