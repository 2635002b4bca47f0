// Package lifecycle drives one conferencing session from the pre-join screen
// to an active session and back.
//
// All state lives on the goroutine running Run. Public methods only post
// events to it, so a join trigger, a credential response and a toolkit close
// notification are each handled to completion before the next one.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoLaunch/internal/core"
	"github.com/dkeye/VideoLaunch/internal/credential"
	"github.com/dkeye/VideoLaunch/internal/domain"
)

var (
	// ErrBusy is returned for a join outside Idle.
	ErrBusy = errors.New("session attempt already in progress")
	// ErrCanceled ends an attempt abandoned by Cancel or Reset.
	ErrCanceled = errors.New("join canceled")
	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("controller stopped")
)

// LibraryError is a failure reported by the conferencing toolkit. The
// controller stays where it was until Reset.
type LibraryError struct {
	Op  string
	Err error
}

func (e *LibraryError) Error() string { return fmt.Sprintf("toolkit %s: %v", e.Op, e.Err) }
func (e *LibraryError) Unwrap() error { return e.Err }

// Config is fixed for the controller's lifetime.
type Config struct {
	Identity          domain.LaunchIdentity
	Role              domain.SessionRole
	DisplayName       string
	Features          domain.Features
	Container         string
	CredentialTimeout time.Duration
}

// Observer is called on the Run goroutine after every state change.
type Observer func(from, to domain.LifecycleState)

type Option func(*Controller)

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// Snapshot is a point-in-time copy; Session never aliases live state.
type Snapshot struct {
	State    domain.LifecycleState
	Attempts uint64
	LastErr  error
	Session  domain.SessionConfig
}

type (
	joinEvent       struct{ reply chan error }
	cancelEvent     struct{}
	resetEvent      struct{ reply chan error }
	credentialEvent struct {
		attempt uint64
		token   string
		err     error
	}
)

type Controller struct {
	cfg       Config
	creds     core.CredentialSource
	toolkit   core.Toolkit
	view      core.PreJoinView
	observers []Observer

	events  chan any
	closeCh chan struct{}
	done    chan struct{}
	started sync.Once

	// Owned by the Run goroutine; mu only guards reads from other goroutines.
	mu            sync.RWMutex
	state         domain.LifecycleState
	session       domain.SessionConfig
	attempts      uint64
	inflight      uint64
	lastErr       error
	cancelAttempt context.CancelFunc
	pending       chan error
	subscribed    bool
}

func New(cfg Config, creds core.CredentialSource, toolkit core.Toolkit, view core.PreJoinView, opts ...Option) *Controller {
	if cfg.CredentialTimeout <= 0 {
		cfg.CredentialTimeout = credential.DefaultTimeout
	}
	c := &Controller{
		cfg:     cfg,
		creds:   creds,
		toolkit: toolkit,
		view:    view,
		events:  make(chan any),
		closeCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
		state:   domain.StateIdle,
		session: domain.NewSessionConfig(cfg.Identity, cfg.DisplayName, cfg.Features),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run processes events until ctx is done. It must be called exactly once.
func (c *Controller) Run(ctx context.Context) error {
	first := false
	c.started.Do(func() { first = true })
	if !first {
		return errors.New("lifecycle: Run called twice")
	}
	defer close(c.done)

	c.view.SetPreJoinVisible(true)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
		case <-c.closeCh:
			c.handleSessionClosed()
		}
	}
}

// Join triggers a join and waits for its outcome. Outside Idle it returns
// ErrBusy without touching the running attempt.
func (c *Controller) Join(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.post(ctx, joinEvent{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// Trigger is Join without waiting. Failures still reach the view.
func (c *Controller) Trigger(ctx context.Context) error {
	return c.post(ctx, joinEvent{})
}

// Cancel abandons an in-flight credential request. A response that arrives
// later is discarded.
func (c *Controller) Cancel(ctx context.Context) error {
	return c.post(ctx, cancelEvent{})
}

// Reset returns a stuck controller to Idle after a toolkit failure.
func (c *Controller) Reset(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.post(ctx, resetEvent{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

func (c *Controller) State() domain.LifecycleState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		State:    c.state,
		Attempts: c.attempts,
		LastErr:  c.lastErr,
		Session:  c.session.Clone(),
	}
}

func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) post(ctx context.Context, ev any) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// notifyClosed is the one callback handed to the toolkit. Repeated
// notifications collapse into one pending event.
func (c *Controller) notifyClosed() {
	select {
	case c.closeCh <- struct{}{}:
	default:
	}
}

func (c *Controller) handle(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case joinEvent:
		c.handleJoin(ctx, e)
	case credentialEvent:
		c.handleCredential(e)
	case cancelEvent:
		c.handleCancel()
	case resetEvent:
		e.reply <- c.handleReset()
	default:
		log.Warn().Str("module", "lifecycle").Str("event", fmt.Sprintf("%T", ev)).Msg("unknown event")
	}
}

func (c *Controller) handleJoin(ctx context.Context, e joinEvent) {
	if c.state != domain.StateIdle {
		log.Info().Str("module", "lifecycle").Str("state", c.state.String()).Msg("join ignored, not idle")
		if e.reply != nil {
			e.reply <- ErrBusy
		}
		return
	}

	c.mu.Lock()
	c.attempts++
	c.inflight = c.attempts
	c.lastErr = nil
	c.mu.Unlock()
	c.pending = e.reply
	c.transition(domain.StateAwaitingCredential)

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.CredentialTimeout)
	c.cancelAttempt = cancel
	attempt := c.inflight
	id, role := c.cfg.Identity, c.cfg.Role

	log.Info().Str("module", "lifecycle").Uint64("attempt", attempt).Str("session", string(id.SessionName)).Msg("requesting credential")
	go func() {
		token, err := c.creds.RequestCredential(attemptCtx, id, role)
		select {
		case c.events <- credentialEvent{attempt: attempt, token: token, err: err}:
		case <-c.done:
		}
	}()
}

func (c *Controller) handleCredential(e credentialEvent) {
	if e.attempt != c.inflight || c.state != domain.StateAwaitingCredential {
		log.Info().Str("module", "lifecycle").Uint64("attempt", e.attempt).Msg("stale credential response discarded")
		return
	}
	c.endAttempt()

	err := e.err
	if err == nil && e.token == "" {
		err = &credential.CredentialError{Body: "empty credential"}
	}
	if err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Uint64("attempt", e.attempt).Msg("credential failed")
		c.transition(domain.StateIdle)
		c.fail(err)
		return
	}

	c.mu.Lock()
	c.session.Credential = e.token
	cfg := c.session.Clone()
	c.mu.Unlock()

	c.transition(domain.StateJoining)
	if !c.subscribed {
		c.toolkit.OnSessionClosed(c.notifyClosed)
		c.subscribed = true
	}
	if err := c.toolkit.JoinSession(c.cfg.Container, cfg); err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Msg("toolkit join failed")
		c.fail(&LibraryError{Op: "join", Err: err})
		return
	}
	c.transition(domain.StateActive)
	c.reply(nil)
}

func (c *Controller) handleCancel() {
	if c.state != domain.StateAwaitingCredential {
		return
	}
	c.endAttempt()
	log.Info().Str("module", "lifecycle").Msg("credential request canceled")
	c.transition(domain.StateIdle)
	c.mu.Lock()
	c.lastErr = ErrCanceled
	c.mu.Unlock()
	c.reply(ErrCanceled)
}

func (c *Controller) handleSessionClosed() {
	if c.state != domain.StateActive {
		log.Info().Str("module", "lifecycle").Str("state", c.state.String()).Msg("close notification ignored")
		return
	}
	log.Info().Str("module", "lifecycle").Msg("session closed")
	c.transition(domain.StateClosed)
	if err := c.toolkit.CloseSession(c.cfg.Container); err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Msg("toolkit close failed")
		c.fail(&LibraryError{Op: "close", Err: err})
		return
	}
	c.clearCredential()
	c.transition(domain.StateIdle)
}

func (c *Controller) handleReset() error {
	switch c.state {
	case domain.StateIdle:
		return nil
	case domain.StateAwaitingCredential:
		c.handleCancel()
		return nil
	case domain.StateJoining, domain.StateActive:
		if err := c.toolkit.CloseSession(c.cfg.Container); err != nil {
			log.Warn().Err(err).Str("module", "lifecycle").Msg("close during reset failed")
		}
	case domain.StateClosed:
	}
	c.clearCredential()
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	c.transition(domain.StateIdle)
	return nil
}

func (c *Controller) shutdown() {
	if c.cancelAttempt != nil {
		c.endAttempt()
	}
	c.reply(ErrStopped)
	log.Info().Str("module", "lifecycle").Str("state", c.state.String()).Msg("controller stopped")
}

func (c *Controller) endAttempt() {
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	c.mu.Lock()
	c.inflight = 0
	c.mu.Unlock()
}

func (c *Controller) clearCredential() {
	c.mu.Lock()
	c.session.Credential = ""
	c.mu.Unlock()
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.view.ShowError(err)
	c.reply(err)
}

func (c *Controller) reply(err error) {
	if c.pending == nil {
		return
	}
	c.pending <- err
	c.pending = nil
}

func (c *Controller) transition(to domain.LifecycleState) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from == to {
		return
	}
	log.Debug().Str("module", "lifecycle").Str("from", from.String()).Str("to", to.String()).Msg("transition")
	if from.PreJoinVisible() != to.PreJoinVisible() {
		c.view.SetPreJoinVisible(to.PreJoinVisible())
	}
	for _, o := range c.observers {
		o(from, to)
	}
}
