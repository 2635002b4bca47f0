// Package bridge exposes a browser tab as the conferencing toolkit and the
// pre-join view. The page runs the real toolkit, acknowledges every join and
// close it is asked for, and relays the toolkit's close notification back
// over the websocket.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoLaunch/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
	// ErrNoAck means the page did not confirm a toolkit call in time.
	ErrNoAck = errors.New("toolkit did not answer")
)

const (
	writeWait   = 5 * time.Second
	sendBuffer  = 32
	defaultPing = 54 * time.Second
	defaultAck  = 30 * time.Second
)

// Server -> page.
const (
	TypeJoinSession  = "join_session"
	TypeCloseSession = "close_session"
	TypePreJoin      = "prejoin"
	TypeError        = "error"
	TypeState        = "state"
	TypePong         = "pong"
)

// Page -> server.
const (
	TypeJoin          = "join"
	TypeCancel        = "cancel"
	TypeReset         = "reset"
	TypeSessionClosed = "session_closed"
	TypePing          = "ping"

	TypeJoined      = "joined"
	TypeJoinFailed  = "join_failed"
	TypeClosed      = "closed"
	TypeCloseFailed = "close_failed"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	// AckTimeout bounds how long JoinSession and CloseSession wait for the page.
	AckTimeout time.Duration
}

// ToolkitError is a failure the page's toolkit reported.
type ToolkitError struct {
	Op     string
	Reason string
}

func (e *ToolkitError) Error() string { return fmt.Sprintf("%s failed in page: %s", e.Op, e.Reason) }

// Commands is what the page may ask of its launcher.
type Commands interface {
	Trigger(ctx context.Context) error
	Cancel(ctx context.Context) error
	Reset(ctx context.Context) error
}

type Conn struct {
	conn *websocket.Conn
	send chan []byte
	opts Options
	done chan struct{}
	acks chan error

	mu       sync.RWMutex
	closed   bool
	onClosed func()
	awaiting string
}

func NewConn(ws *websocket.Conn, opts Options) *Conn {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPing
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAck
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	return &Conn{
		conn: ws,
		send: make(chan []byte, sendBuffer),
		opts: opts,
		done: make(chan struct{}),
		acks: make(chan error, 1),
	}
}

func (c *Conn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *Conn) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "bridge").Msg("sendJSON marshal")
		return err
	}
	return c.TrySend(b)
}

// call sends msg and blocks until the page acknowledges op.
func (c *Conn) call(op string, msg any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.awaiting = op
	select {
	case <-c.acks:
	default:
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.awaiting = ""
		c.mu.Unlock()
	}()

	if err := c.sendJSON(msg); err != nil {
		return err
	}
	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()
	select {
	case err := <-c.acks:
		return err
	case <-timer.C:
		log.Warn().Str("module", "bridge").Str("op", op).Dur("timeout", c.opts.AckTimeout).Msg("no ack from page")
		return fmt.Errorf("%w: %s", ErrNoAck, op)
	case <-c.done:
		return ErrClosed
	}
}

// resolve completes the pending call for op. Acks nobody waits for are dropped.
func (c *Conn) resolve(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.awaiting != op {
		log.Warn().Str("module", "bridge").Str("op", op).Str("awaiting", c.awaiting).Msg("unexpected ack")
		return
	}
	c.awaiting = ""
	select {
	case c.acks <- err:
	default:
	}
}

// JoinSession returns once the page reports the session ready or failed.
func (c *Conn) JoinSession(container string, cfg domain.SessionConfig) error {
	return c.call(TypeJoinSession, struct {
		Type      string               `json:"type"`
		Container string               `json:"container"`
		Config    domain.SessionConfig `json:"config"`
	}{TypeJoinSession, container, cfg})
}

func (c *Conn) CloseSession(container string) error {
	return c.call(TypeCloseSession, struct {
		Type      string `json:"type"`
		Container string `json:"container"`
	}{TypeCloseSession, container})
}

func (c *Conn) OnSessionClosed(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = cb
}

func (c *Conn) SetPreJoinVisible(visible bool) {
	_ = c.sendJSON(struct {
		Type    string `json:"type"`
		Visible bool   `json:"visible"`
	}{TypePreJoin, visible})
}

func (c *Conn) ShowError(err error) {
	_ = c.sendJSON(struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}{TypeError, err.Error()})
}

// SendState matches lifecycle.Observer.
func (c *Conn) SendState(from, to domain.LifecycleState) {
	_ = c.sendJSON(struct {
		Type  string `json:"type"`
		From  string `json:"from"`
		State string `json:"state"`
	}{TypeState, from.String(), to.String()})
}

func (c *Conn) sessionClosed() {
	c.mu.RLock()
	cb := c.onClosed
	c.mu.RUnlock()
	if cb == nil {
		log.Warn().Str("module", "bridge").Msg("session_closed before any join")
		return
	}
	cb()
}
