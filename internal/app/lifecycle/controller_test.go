package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VideoLaunch/internal/core"
	"github.com/dkeye/VideoLaunch/internal/credential"
	"github.com/dkeye/VideoLaunch/internal/domain"
)

type sourceFunc func(ctx context.Context, id domain.LaunchIdentity, role domain.SessionRole) (string, error)

func (f sourceFunc) RequestCredential(ctx context.Context, id domain.LaunchIdentity, role domain.SessionRole) (string, error) {
	return f(ctx, id, role)
}

type credResult struct {
	token string
	err   error
}

// manualSource hands every request to the test, which answers it when it
// wants to. It ignores ctx so late answers can be modelled.
type manualSource struct {
	calls chan chan credResult
}

func newManualSource() *manualSource {
	return &manualSource{calls: make(chan chan credResult, 8)}
}

func (m *manualSource) RequestCredential(ctx context.Context, id domain.LaunchIdentity, role domain.SessionRole) (string, error) {
	ch := make(chan credResult, 1)
	m.calls <- ch
	r := <-ch
	return r.token, r.err
}

func (m *manualSource) next(t *testing.T) chan credResult {
	t.Helper()
	select {
	case ch := <-m.calls:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatalf("no credential request issued")
		return nil
	}
}

type fakeToolkit struct {
	mu         sync.Mutex
	joins      []domain.SessionConfig
	closes     int
	registered int
	onClosed   func()
	joinErr    error
	closeErr   error
}

func (f *fakeToolkit) JoinSession(container string, cfg domain.SessionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, cfg)
	return f.joinErr
}

func (f *fakeToolkit) CloseSession(container string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return f.closeErr
}

func (f *fakeToolkit) OnSessionClosed(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered++
	f.onClosed = cb
}

func (f *fakeToolkit) fireClosed() {
	f.mu.Lock()
	cb := f.onClosed
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (f *fakeToolkit) counts() (joins, closes, registered int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joins), f.closes, f.registered
}

type fakeView struct {
	mu      sync.Mutex
	visible bool
	errs    []error
}

func (v *fakeView) SetPreJoinVisible(visible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visible = visible
}

func (v *fakeView) ShowError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errs = append(v.errs, err)
}

func (v *fakeView) isVisible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

func (v *fakeView) errCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.errs)
}

type harness struct {
	ctrl    *Controller
	toolkit *fakeToolkit
	view    *fakeView
	trans   chan [2]domain.LifecycleState
}

var testConfig = Config{
	Identity:    domain.LaunchIdentity{SessionName: "room1", Passcode: "pass1"},
	Role:        domain.RoleHost,
	DisplayName: "Lars",
	Features:    domain.DefaultFeatures(),
	Container:   "sessionContainer",
}

func start(t *testing.T, src core.CredentialSource, cfg Config) *harness {
	t.Helper()
	h := &harness{
		toolkit: &fakeToolkit{},
		view:    &fakeView{},
		trans:   make(chan [2]domain.LifecycleState, 64),
	}
	h.ctrl = New(cfg, src, h.toolkit, h.view, WithObserver(func(from, to domain.LifecycleState) {
		h.trans <- [2]domain.LifecycleState{from, to}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return h
}

func (h *harness) expect(t *testing.T, want ...domain.LifecycleState) {
	t.Helper()
	for i := 0; i+1 < len(want); i++ {
		select {
		case got := <-h.trans:
			if got[0] != want[i] || got[1] != want[i+1] {
				t.Fatalf("transition %d: got %s->%s, want %s->%s", i, got[0], got[1], want[i], want[i+1])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s->%s", want[i], want[i+1])
		}
	}
}

func staticSource(token string, err error) sourceFunc {
	return func(ctx context.Context, id domain.LaunchIdentity, role domain.SessionRole) (string, error) {
		return token, err
	}
}

func TestJoinSuccess(t *testing.T) {
	var gotID domain.LaunchIdentity
	var gotRole domain.SessionRole
	src := sourceFunc(func(ctx context.Context, id domain.LaunchIdentity, role domain.SessionRole) (string, error) {
		gotID, gotRole = id, role
		return "tok-abc", nil
	})
	h := start(t, src, testConfig)

	if err := h.ctrl.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.expect(t, domain.StateIdle, domain.StateAwaitingCredential, domain.StateJoining, domain.StateActive)

	if gotID != testConfig.Identity || gotRole != domain.RoleHost {
		t.Fatalf("broker got id=%+v role=%d", gotID, gotRole)
	}
	snap := h.ctrl.Snapshot()
	if snap.State != domain.StateActive {
		t.Fatalf("state=%s", snap.State)
	}
	if snap.Session.Credential != "tok-abc" {
		t.Fatalf("credential=%q, want %q", snap.Session.Credential, "tok-abc")
	}
	if h.view.isVisible() {
		t.Fatalf("pre-join must be hidden while active")
	}
	joins, _, registered := h.toolkit.counts()
	if joins != 1 || registered != 1 {
		t.Fatalf("joins=%d registered=%d", joins, registered)
	}
	cfg := h.toolkit.joins[0]
	if cfg.Credential != "tok-abc" || cfg.SessionName != "room1" || cfg.Passcode != "pass1" || cfg.DisplayName != "Lars" {
		t.Fatalf("toolkit config=%+v", cfg)
	}
	if len(cfg.Features) != 6 || cfg.Features[0] != "video" {
		t.Fatalf("features=%v", cfg.Features)
	}
}

func TestJoinWithoutSignatureReturnsToIdle(t *testing.T) {
	h := start(t, staticSource("", &credential.CredentialError{Body: "{}"}), testConfig)

	err := h.ctrl.Join(context.Background())
	if !errors.Is(err, credential.ErrCredential) {
		t.Fatalf("err=%v, want %v", err, credential.ErrCredential)
	}
	h.expect(t, domain.StateIdle, domain.StateAwaitingCredential, domain.StateIdle)

	if !h.view.isVisible() {
		t.Fatalf("pre-join must stay visible")
	}
	if joins, _, _ := h.toolkit.counts(); joins != 0 {
		t.Fatalf("joins=%d, want 0", joins)
	}
	if h.view.errCount() != 1 {
		t.Fatalf("error not surfaced to view")
	}
	if snap := h.ctrl.Snapshot(); !errors.Is(snap.LastErr, credential.ErrCredential) {
		t.Fatalf("lastErr=%v", snap.LastErr)
	}
}

func TestJoinTransportFailureReturnsToIdle(t *testing.T) {
	netErr := errors.New("connection refused")
	h := start(t, staticSource("", &credential.CredentialError{Err: netErr}), testConfig)

	err := h.ctrl.Join(context.Background())
	if !errors.Is(err, netErr) {
		t.Fatalf("err=%v, want %v", err, netErr)
	}
	if h.ctrl.State() != domain.StateIdle {
		t.Fatalf("state=%s", h.ctrl.State())
	}
	if joins, _, _ := h.toolkit.counts(); joins != 0 {
		t.Fatalf("join issued after transport failure")
	}
}

func TestEmptyTokenNeverJoins(t *testing.T) {
	h := start(t, staticSource("", nil), testConfig)
	if err := h.ctrl.Join(context.Background()); !errors.Is(err, credential.ErrCredential) {
		t.Fatalf("err=%v", err)
	}
	if joins, _, _ := h.toolkit.counts(); joins != 0 {
		t.Fatalf("joined with empty credential")
	}
}

func TestSessionClosedResetsUI(t *testing.T) {
	h := start(t, staticSource("tok-abc", nil), testConfig)
	if err := h.ctrl.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.expect(t, domain.StateIdle, domain.StateAwaitingCredential, domain.StateJoining, domain.StateActive)

	h.toolkit.fireClosed()
	h.toolkit.fireClosed()
	h.expect(t, domain.StateActive, domain.StateClosed, domain.StateIdle)

	// A duplicate notification must not produce a second close.
	time.Sleep(20 * time.Millisecond)
	if _, closes, _ := h.toolkit.counts(); closes != 1 {
		t.Fatalf("closes=%d, want 1", closes)
	}
	if !h.view.isVisible() {
		t.Fatalf("pre-join must be visible after close")
	}
	if snap := h.ctrl.Snapshot(); snap.Session.Credential != "" {
		t.Fatalf("credential kept after close: %q", snap.Session.Credential)
	}
}

func TestRepeatedJoinsReuseCloseHandler(t *testing.T) {
	h := start(t, staticSource("tok", nil), testConfig)
	for i := 0; i < 3; i++ {
		if err := h.ctrl.Join(context.Background()); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
		h.expect(t, domain.StateIdle, domain.StateAwaitingCredential, domain.StateJoining, domain.StateActive)
		h.toolkit.fireClosed()
		h.expect(t, domain.StateActive, domain.StateClosed, domain.StateIdle)
	}
	joins, closes, registered := h.toolkit.counts()
	if joins != 3 || closes != 3 {
		t.Fatalf("joins=%d closes=%d", joins, closes)
	}
	if registered != 1 {
		t.Fatalf("close handler registered %d times, want 1", registered)
	}
	if got := h.ctrl.Snapshot().Attempts; got != 3 {
		t.Fatalf("attempts=%d", got)
	}
}

func TestJoinWhileBusyIsIgnored(t *testing.T) {
	src := newManualSource()
	h := start(t, src, testConfig)

	if err := h.ctrl.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	pending := src.next(t)

	if err := h.ctrl.Join(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("err=%v, want %v", err, ErrBusy)
	}
	select {
	case <-src.calls:
		t.Fatalf("second credential request issued")
	default:
	}

	pending <- credResult{token: "tok"}
	h.expect(t, domain.StateIdle, domain.StateAwaitingCredential, domain.StateJoining, domain.StateActive)
	if err := h.ctrl.Join(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("join while active: err=%v", err)
	}
}

func TestCancelDiscardsLateResponse(t *testing.T) {
	src := newManualSource()
	h := start(t, src, testConfig)

	joinErr := make(chan error, 1)
	go func() { joinErr <- h.ctrl.Join(context.Background()) }()
	first := src.next(t)

	if err := h.ctrl.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := <-joinErr; !errors.Is(err, ErrCanceled) {
		t.Fatalf("err=%v, want %v", err, ErrCanceled)
	}
	h.expect(t, domain.StateIdle, domain.StateAwaitingCredential, domain.StateIdle)

	if err := h.ctrl.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	second := src.next(t)
	h.expect(t, domain.StateIdle, domain.StateAwaitingCredential)

	first <- credResult{token: "stale"}
	second <- credResult{token: "fresh"}
	h.expect(t, domain.StateAwaitingCredential, domain.StateJoining, domain.StateActive)

	if got := h.ctrl.Snapshot().Session.Credential; got != "fresh" {
		t.Fatalf("credential=%q, want fresh", got)
	}
	if joins, _, _ := h.toolkit.counts(); joins != 1 {
		t.Fatalf("joins=%d, want 1", joins)
	}
}

func TestCredentialTimeout(t *testing.T) {
	src := sourceFunc(func(ctx context.Context, id domain.LaunchIdentity, role domain.SessionRole) (string, error) {
		<-ctx.Done()
		return "", &credential.CredentialError{Err: ctx.Err()}
	})
	cfg := testConfig
	cfg.CredentialTimeout = 30 * time.Millisecond
	h := start(t, src, cfg)

	err := h.ctrl.Join(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline exceeded", err)
	}
	if h.ctrl.State() != domain.StateIdle {
		t.Fatalf("state=%s", h.ctrl.State())
	}
}

func TestToolkitJoinFailureFreezesUntilReset(t *testing.T) {
	h := start(t, staticSource("tok", nil), testConfig)
	h.toolkit.joinErr = errors.New("camera busy")

	err := h.ctrl.Join(context.Background())
	var le *LibraryError
	if !errors.As(err, &le) || le.Op != "join" {
		t.Fatalf("err=%v, want LibraryError(join)", err)
	}
	if h.ctrl.State() != domain.StateJoining {
		t.Fatalf("state=%s, want joining", h.ctrl.State())
	}
	if err := h.ctrl.Join(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("retry before reset: err=%v", err)
	}

	if err := h.ctrl.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if h.ctrl.State() != domain.StateIdle || !h.view.isVisible() {
		t.Fatalf("reset did not restore idle: state=%s visible=%v", h.ctrl.State(), h.view.isVisible())
	}

	h.toolkit.mu.Lock()
	h.toolkit.joinErr = nil
	h.toolkit.mu.Unlock()
	if err := h.ctrl.Join(context.Background()); err != nil {
		t.Fatalf("join after reset: %v", err)
	}
}

func TestToolkitCloseFailureIsReported(t *testing.T) {
	h := start(t, staticSource("tok", nil), testConfig)
	if err := h.ctrl.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.toolkit.mu.Lock()
	h.toolkit.closeErr = errors.New("detached")
	h.toolkit.mu.Unlock()

	h.toolkit.fireClosed()
	h.expect(t, domain.StateIdle, domain.StateAwaitingCredential, domain.StateJoining, domain.StateActive, domain.StateClosed)

	deadline := time.Now().Add(2 * time.Second)
	for h.view.errCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("close failure not surfaced")
		}
		time.Sleep(5 * time.Millisecond)
	}
	var le *LibraryError
	if !errors.As(h.ctrl.Snapshot().LastErr, &le) || le.Op != "close" {
		t.Fatalf("lastErr=%v", h.ctrl.Snapshot().LastErr)
	}
	if h.ctrl.State() != domain.StateClosed {
		t.Fatalf("state=%s", h.ctrl.State())
	}
}

func TestCloseNotificationOutsideActiveIgnored(t *testing.T) {
	h := start(t, staticSource("tok", nil), testConfig)
	h.ctrl.notifyClosed()
	time.Sleep(20 * time.Millisecond)
	if _, closes, _ := h.toolkit.counts(); closes != 0 {
		t.Fatalf("closes=%d", closes)
	}
	if h.ctrl.State() != domain.StateIdle {
		t.Fatalf("state=%s", h.ctrl.State())
	}
}

func TestStoppedController(t *testing.T) {
	c := New(testConfig, staticSource("tok", nil), &fakeToolkit{}, &fakeView{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	cancel()
	<-errCh

	if err := c.Join(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("err=%v, want %v", err, ErrStopped)
	}
	if err := c.Run(context.Background()); err == nil {
		t.Fatalf("second Run must fail")
	}
}
