package progress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oremus-labs/kanuni/internal/auth"
	"github.com/oremus-labs/kanuni/internal/clock"
	"github.com/oremus-labs/kanuni/internal/logutil"
	"github.com/oremus-labs/kanuni/internal/metrics"
)

const (
	writeWait       = 10 * time.Second
	maxFrameSize    = 1 << 20
	commandQueueLen = 64
)

// TokenSource supplies the access token sent with every connect.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// State is the lifecycle of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Options configures a Connection.
type Options struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	BackoffMultiplier    float64
	MaxReconnectElapsed  time.Duration
	PingInterval         time.Duration
	HandshakeTimeout     time.Duration
	EventBuffer          int
	Dialer               *websocket.Dialer
	Clock                clock.Clock
}

// DefaultOptions returns the stock tuning for the stream at wsURL.
func DefaultOptions(wsURL string) Options {
	return Options{
		URL:                  wsURL,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		BackoffMultiplier:    2,
		MaxReconnectElapsed:  60 * time.Second,
		PingInterval:         30 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		EventBuffer:          256,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions(o.URL)
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = def.ReconnectDelay
	}
	if o.BackoffMultiplier < 1 {
		o.BackoffMultiplier = def.BackoffMultiplier
	}
	if o.MaxReconnectElapsed <= 0 {
		o.MaxReconnectElapsed = def.MaxReconnectElapsed
	}
	if o.PingInterval <= 0 {
		o.PingInterval = def.PingInterval
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = def.EventBuffer
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.HandshakeTimeout,
		}
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}

// session is one live socket. Only its run loop writes to conn.
type session struct {
	conn      *websocket.Conn
	commands  chan Command
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func (s *session) close(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *session) enqueue(ctx context.Context, cmd Command) error {
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connection is a reconnecting client for the progress stream. Active
// subscriptions live in its Registry and are replayed on every connect.
type Connection struct {
	opts     Options
	tokens   TokenSource
	registry *Registry
	events   chan Event

	connectMu sync.Mutex

	mu     sync.RWMutex
	state  State
	sess   *session
	closed bool
}

// NewConnection returns a disconnected Connection.
func NewConnection(opts Options, tokens TokenSource) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		opts:     opts,
		tokens:   tokens,
		registry: NewRegistry(),
		events:   make(chan Event, opts.EventBuffer),
	}
}

// Registry exposes the active subscriptions.
func (c *Connection) Registry() *Registry {
	return c.registry
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether a live session exists.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateConnected && c.sess != nil
}

// Connect dials the stream with a fresh token and replays the registry.
// It is a no-op when already connected.
func (c *Connection) Connect(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

// connect reports whether it opened a new session, in which case every
// registered subscription has been replayed on it.
func (c *Connection) connect(ctx context.Context) (bool, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	if c.state == StateConnected && c.sess != nil {
		c.mu.Unlock()
		return false, nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	sess, err := c.dial(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if sess != nil {
			sess.close(ErrClosed)
		}
		return false, ErrClosed
	}
	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		metrics.ObserveConnect(false)
		return false, err
	}
	c.sess = sess
	c.state = StateConnected
	c.mu.Unlock()

	metrics.ObserveConnect(true)
	go c.run(sess)

	subs := c.registry.Snapshot()
	for _, sub := range subs {
		if err := sess.enqueue(ctx, subscribeCommand(sub)); err != nil {
			return true, &SubscriptionError{Action: ActionSubscribe, Subscription: sub, Err: err}
		}
	}
	logutil.Debug("progress stream connected", map[string]interface{}{
		"url":           c.opts.URL,
		"subscriptions": len(subs),
	})
	return true, nil
}

func (c *Connection) dial(ctx context.Context) (*session, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, &ConnectivityError{Op: "dial", Err: fmt.Errorf("invalid stream url: %w", err)}
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &auth.AuthenticationError{Message: "progress stream rejected the access token", Err: err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ConnectivityError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(maxFrameSize)
	return &session{
		conn:     conn,
		commands: make(chan Command, commandQueueLen),
		done:     make(chan struct{}),
	}, nil
}

func (c *Connection) run(sess *session) {
	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go readLoop(sess, inbound, readErr)

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case raw := <-inbound:
			c.handleFrame(sess, raw)
		case err := <-readErr:
			c.teardown(sess, &ConnectivityError{Op: "read", Err: err})
			return
		case cmd := <-sess.commands:
			if err := write(sess, cmd); err != nil {
				c.teardown(sess, &ConnectivityError{Op: "write", Err: err})
				return
			}
		case <-ticker.C:
			if err := write(sess, pingCommand()); err != nil {
				c.teardown(sess, &ConnectivityError{Op: "ping", Err: err})
				return
			}
		}
	}
}

func readLoop(sess *session, inbound chan<- []byte, readErr chan<- error) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case inbound <- data:
		case <-sess.done:
			return
		}
	}
}

func write(sess *session, cmd Command) error {
	if err := sess.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return sess.conn.WriteJSON(cmd)
}

func (c *Connection) teardown(sess *session, err error) {
	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	sess.close(err)
	logutil.Warn("progress stream dropped", map[string]interface{}{"error": err.Error()})
}

func (c *Connection) handleFrame(sess *session, raw []byte) {
	msg, err := DecodeServerMessage(raw)
	if err != nil {
		c.discard(err)
		return
	}
	metrics.ObserveMessage(string(msg.MessageType))
	switch msg.MessageType {
	case MessageProgress:
		env, err := DecodeProgress(msg.Data)
		if err != nil {
			c.discard(err)
			return
		}
		c.deliver(sess, env.Event)
	case MessageError:
		logutil.Warn("progress stream reported an error", map[string]interface{}{"data": string(msg.Data)})
	default:
		logutil.Debug("progress stream message", map[string]interface{}{"type": string(msg.MessageType)})
	}
}

func (c *Connection) discard(err error) {
	metrics.ObserveProtocolError()
	logutil.Warn("discarding malformed stream frame", map[string]interface{}{"error": err.Error()})
}

// deliver drops non-terminal events when the queue is full. Terminal events
// wait for room so trackers always see the end of an entity.
func (c *Connection) deliver(sess *session, ev Event) {
	if ev.IsTerminal() {
		select {
		case c.events <- ev:
		case <-sess.done:
		}
		return
	}
	select {
	case c.events <- ev:
	default:
		metrics.ObserveDroppedEvent()
		logutil.Warn("dropping progress event, consumer is behind", map[string]interface{}{
			"id":   ev.EntityID().String(),
			"type": string(ev.Kind),
		})
	}
}

func (c *Connection) current() (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

func (c *Connection) send(ctx context.Context, cmd Command) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	return sess.enqueue(ctx, cmd)
}

// Subscribe connects if needed and starts receiving events for (channel, id).
// A pair is sent at most once per session: a fresh session gets it through
// the registry replay, and a pair already registered on a live session is
// not sent again.
func (c *Connection) Subscribe(ctx context.Context, channel ChannelType, id uuid.UUID) error {
	sub := Subscription{Channel: channel, ID: id}
	added := c.registry.Add(sub)
	dialed, err := c.connect(ctx)
	if err != nil {
		if added {
			c.registry.Remove(sub)
		}
		return &SubscriptionError{Action: ActionSubscribe, Subscription: sub, Err: err}
	}
	if dialed || !added {
		return nil
	}
	if err := c.send(ctx, subscribeCommand(sub)); err != nil {
		c.registry.Remove(sub)
		return &SubscriptionError{Action: ActionSubscribe, Subscription: sub, Err: err}
	}
	return nil
}

// Unsubscribe stops events for (channel, id). The registry entry is removed
// even when the command cannot be sent.
func (c *Connection) Unsubscribe(ctx context.Context, channel ChannelType, id uuid.UUID) error {
	sub := Subscription{Channel: channel, ID: id}
	c.registry.Remove(sub)
	if err := c.send(ctx, unsubscribeCommand(sub)); err != nil {
		return &SubscriptionError{Action: ActionUnsubscribe, Subscription: sub, Err: err}
	}
	return nil
}

// NextEvent returns the next queued event, blocking until one arrives, the
// session drops or ctx ends. Queued events are drained before errors are
// reported.
func (c *Connection) NextEvent(ctx context.Context) (Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	default:
	}
	sess, err := c.current()
	if err != nil {
		return Event{}, err
	}
	select {
	case ev := <-c.events:
		return ev, nil
	case <-sess.done:
		select {
		case ev := <-c.events:
			return ev, nil
		default:
		}
		if _, err := c.current(); errors.Is(err, ErrClosed) {
			return Event{}, ErrClosed
		}
		return Event{}, sess.err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// HandleReconnect retries Connect with exponential backoff until it succeeds,
// the attempt or elapsed budget runs out, or credentials are rejected.
func (c *Connection) HandleReconnect(ctx context.Context) error {
	backoff := Backoff{
		Initial:     c.opts.ReconnectDelay,
		Multiplier:  c.opts.BackoffMultiplier,
		MaxElapsed:  c.opts.MaxReconnectElapsed,
		MaxAttempts: c.opts.MaxReconnectAttempts,
	}
	start := c.opts.Clock.Now()
	for attempt := 1; ; attempt++ {
		metrics.ObserveReconnectAttempt()
		err := c.Connect(ctx)
		if err == nil {
			logutil.Info("progress stream reconnected", map[string]interface{}{"attempt": attempt})
			return nil
		}
		if errors.Is(err, ErrClosed) || auth.IsAuthError(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		delay, ok := backoff.Next(attempt, c.opts.Clock.Now().Sub(start))
		if !ok {
			return &ConnectivityError{Op: "reconnect", Attempts: attempt, Fatal: true, Err: err}
		}
		logutil.Warn("progress stream reconnect failed", map[string]interface{}{
			"attempt": attempt,
			"retry":   delay.String(),
			"error":   err.Error(),
		})
		select {
		case <-c.opts.Clock.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect closes the stream for good. In-flight and later calls fail with
// ErrClosed.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateDisconnected
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess == nil {
		return
	}
	_ = sess.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	sess.close(ErrClosed)
}
